package tracking

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/metrics"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// EventSink receives verified tracking events. The postgres store records
// them directly; Publisher forwards them to SQS.
type EventSink interface {
	Record(ctx context.Context, evt domain.TrackingEvent) error
}

type Handler struct {
	signer *Signer
	sink   EventSink
	now    func() time.Time
}

func NewHandler(signer *Signer, sink EventSink) *Handler {
	return &Handler{signer: signer, sink: sink, now: time.Now}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open/{data}/{sig}", h.HandleOpen)
	r.Get("/track/click/{data}/{sig}", h.HandleClick)
	r.Get("/track/unsubscribe/{data}/{sig}", h.HandleUnsubscribe)
	// RFC 8058 one-click unsubscribe
	r.Post("/track/unsubscribe/{data}/{sig}", h.HandleUnsubscribe)
	r.Get("/health", h.HandleHealth)
	return r
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	messageID, err := h.signer.Verify(chi.URLParam(r, "data"), chi.URLParam(r, "sig"))
	if err != nil {
		h.servePixel(w)
		return
	}

	h.record(r, domain.TrackingEvent{MessageID: messageID, EventType: domain.EventOpen})
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	messageID, originalURL, err := h.signer.VerifyClick(chi.URLParam(r, "data"), chi.URLParam(r, "sig"))
	if err != nil {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	h.record(r, domain.TrackingEvent{MessageID: messageID, EventType: domain.EventClick, URL: originalURL})
	http.Redirect(w, r, originalURL, http.StatusTemporaryRedirect)
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	messageID, err := h.signer.Verify(chi.URLParam(r, "data"), chi.URLParam(r, "sig"))
	if err != nil {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	if err := h.record(r, domain.TrackingEvent{MessageID: messageID, EventType: domain.EventUnsubscribe}); err != nil {
		http.Error(w, "unable to process request", http.StatusInternalServerError)
		return
	}

	if r.Method == http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from us.</p>
	</body></html>`))
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) record(r *http.Request, evt domain.TrackingEvent) error {
	evt.ID = uuid.New().String()
	evt.IPAddress = realIP(r)
	evt.UserAgent = r.UserAgent()
	evt.CreatedAt = h.now().UTC()

	if err := h.sink.Record(r.Context(), evt); err != nil {
		logger.Error("tracking event not recorded",
			"component", "tracking", "event", string(evt.EventType), "message_id", evt.MessageID, "error", err)
		return err
	}
	metrics.TrackingEvents.WithLabelValues(string(evt.EventType)).Inc()
	logger.Debug("tracking event", "component", "tracking", "event", string(evt.EventType), "message_id", evt.MessageID)
	return nil
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
