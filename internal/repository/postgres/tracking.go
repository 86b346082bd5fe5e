package postgres

import (
	"context"
	"fmt"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/pkg/logger"
)

// Record stores a tracking event. Campaign and address are taken from the
// message row. An unsubscribe also marks the lead, matched by recipient id
// or by address for flow messages.
func (s *Store) Record(ctx context.Context, evt domain.TrackingEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO tracking_events (id, message_id, campaign_id, email, event_type,
		                             ip_address, user_agent, url, created_at)
		SELECT $1, m.id, m.campaign_id, m.to_email, $3, $4, $5, $6, $7
		FROM messages m
		WHERE m.id = $2
		ON CONFLICT (id) DO NOTHING
	`, evt.ID, evt.MessageID, string(evt.EventType), evt.IPAddress, evt.UserAgent, evt.URL, evt.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert tracking event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		logger.Warn("tracking event for unknown message", "component", "postgres", "message_id", evt.MessageID)
		return tx.Commit()
	}

	if evt.EventType == domain.EventUnsubscribe {
		_, err := tx.ExecContext(ctx, `
			UPDATE leads l
			SET unsubscribed_at = $2, updated_at = NOW()
			FROM messages m
			WHERE m.id = $1
			  AND l.unsubscribed_at IS NULL
			  AND (l.id = m.recipient_id OR lower(l.email) = lower(m.to_email))
		`, evt.MessageID, evt.CreatedAt)
		if err != nil {
			return fmt.Errorf("unsubscribe lead: %w", err)
		}
	}
	return tx.Commit()
}
