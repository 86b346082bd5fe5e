// Package api serves the worker's operator endpoints: campaign actions,
// flow message intake, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/worker"
)

// CampaignService is the subset of campaign.Service the handlers call.
type CampaignService interface {
	SendNow(ctx context.Context, campaignID string) (int, error)
	Schedule(ctx context.Context, campaignID string, at time.Time) error
	RetryMessage(ctx context.Context, messageID string) (*domain.Message, error)
}

// EngineStatus reports whether the background loops are running.
type EngineStatus interface {
	Running() bool
}

// Handlers contains all HTTP handlers
type Handlers struct {
	campaigns CampaignService
	flows     worker.Store
	engine    EngineStatus
	ping      func(ctx context.Context) error
}

// NewHandlers creates a new Handlers instance
func NewHandlers(campaigns CampaignService, flows worker.Store) *Handlers {
	return &Handlers{campaigns: campaigns, flows: flows}
}

// SetEngine sets the engine reported by the health check.
func (h *Handlers) SetEngine(e EngineStatus) { h.engine = e }

// SetPing sets the database ping used by the health check.
func (h *Handlers) SetPing(ping func(ctx context.Context) error) { h.ping = ping }

// Routes builds the router.
func (h *Handlers) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.HandleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/campaigns/{id}/send", h.HandleSendNow)
		r.Post("/campaigns/{id}/schedule", h.HandleSchedule)
		r.Post("/messages/{id}/retry", h.HandleRetryMessage)
		r.Post("/flow-messages", h.HandleEnqueueFlowMessage)
	})
	return r
}

// HandleHealth reports database reachability and engine state.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["database"] = "unreachable"
			status = http.StatusServiceUnavailable
		} else {
			resp["database"] = "ok"
		}
	}
	if h.engine != nil {
		resp["engine_running"] = h.engine.Running()
	}
	respondJSON(w, status, resp)
}

// HandleSendNow starts a draft or scheduled campaign immediately.
func (h *Handlers) HandleSendNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	n, err := h.campaigns.SendNow(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"campaign_id": id,
		"status":      string(domain.CampaignSending),
		"enqueued":    n,
	})
}

type scheduleRequest struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// HandleSchedule sets a campaign's send time.
func (h *Handlers) HandleSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScheduledAt.IsZero() {
		respondError(w, http.StatusBadRequest, "scheduled_at (RFC 3339) is required")
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.campaigns.Schedule(r.Context(), id, req.ScheduledAt); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"campaign_id":  id,
		"status":       string(domain.CampaignScheduled),
		"scheduled_at": req.ScheduledAt.UTC(),
	})
}

// HandleRetryMessage re-queues a failed or bounced message.
func (h *Handlers) HandleRetryMessage(w http.ResponseWriter, r *http.Request) {
	retry, err := h.campaigns.RetryMessage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"message_id": retry.ID,
		"retry_of":   retry.RetryOf,
		"status":     string(retry.Status),
	})
}

// HandleEnqueueFlowMessage queues a standalone message.
func (h *Handlers) HandleEnqueueFlowMessage(w http.ResponseWriter, r *http.Request) {
	var req worker.FlowMessage
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, err := worker.EnqueueFlowMessage(r.Context(), h.flows, req)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"message_id": id, "status": string(domain.MessageQueued)})
}

// respondServiceError maps service sentinels to status codes.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, campaign.ErrMessageNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, campaign.ErrAlreadySending),
		errors.Is(err, campaign.ErrInvalidTransition),
		errors.Is(err, campaign.ErrNotRetryable):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, campaign.ErrScheduleInPast), errors.Is(err, worker.ErrInvalidFlowMessage):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondSafeError(w, http.StatusInternalServerError, err, "internal error")
	}
}

// Response helpers

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
