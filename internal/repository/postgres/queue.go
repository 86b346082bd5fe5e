package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
)

func (s *Store) DueCampaigns(ctx context.Context, now time.Time) ([]string, error) {
	return s.ids(ctx, `
		SELECT id FROM campaigns
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at
	`, now)
}

func (s *Store) StartCampaign(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'sending', started_at = $2, completed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("start campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) StalledCampaigns(ctx context.Context) ([]string, error) {
	return s.ids(ctx, `
		SELECT c.id FROM campaigns c
		WHERE c.status = 'sending'
		  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.campaign_id = c.id)
		ORDER BY c.started_at NULLS FIRST
	`)
}

// QueuedMessages returns messages in insertion order. Campaign and flow
// messages share one budget, so a flow message queued behind a large
// campaign backlog waits until the rows ahead of it have been dispatched;
// separate budgets would let one tick exceed the per-tick limit.
func (s *Store) QueuedMessages(ctx context.Context, limit int) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN campaigns c ON c.id = m.campaign_id
		WHERE m.status = 'queued'
		  AND (m.campaign_id IS NULL OR c.status = 'sending')
		ORDER BY m.seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select queued messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) MarkSending(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET status = 'sending' WHERE id = $1 AND status = 'queued'`, id)
	if err != nil {
		return false, fmt.Errorf("claim message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *Store) MarkSent(ctx context.Context, msg *domain.Message, transportID string, at time.Time) error {
	return s.finish(ctx, msg, "sent_count", `
		UPDATE messages SET status = 'sent', message_id = $2, sent_at = $3
		WHERE id = $1 AND status = 'sending'
	`, msg.ID, transportID, at)
}

func (s *Store) MarkUndelivered(ctx context.Context, msg *domain.Message, status domain.MessageStatus, errText string) error {
	counter := "failed_count"
	switch status {
	case domain.MessageBounced:
		counter = "bounce_count"
	case domain.MessageFailed:
	default:
		return fmt.Errorf("%w: %s is not an undelivered status", ErrStaleMessage, status)
	}
	return s.finish(ctx, msg, counter, `
		UPDATE messages SET status = $2, error_message = $3
		WHERE id = $1 AND status = 'sending'
	`, msg.ID, string(status), errText)
}

// finish applies a terminal message update and the matching campaign
// counter in one transaction. counter is one of a fixed set of column names.
func (s *Store) finish(ctx context.Context, msg *domain.Message, counter, update string, args ...interface{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, update, args...)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrStaleMessage, msg.ID)
	}

	if msg.CampaignID != nil {
		_, err := tx.ExecContext(ctx,
			`UPDATE campaigns SET `+counter+` = `+counter+` + 1, updated_at = NOW() WHERE id = $1`,
			*msg.CampaignID)
		if err != nil {
			return fmt.Errorf("bump %s: %w", counter, err)
		}
	}
	return tx.Commit()
}

func (s *Store) CompleteCampaigns(ctx context.Context, now time.Time) ([]string, error) {
	return s.ids(ctx, `
		UPDATE campaigns c
		SET status = 'sent', completed_at = $1, updated_at = NOW()
		WHERE c.status = 'sending'
		  AND EXISTS (SELECT 1 FROM messages m WHERE m.campaign_id = c.id)
		  AND NOT EXISTS (
		      SELECT 1 FROM messages m
		      WHERE m.campaign_id = c.id AND m.status IN ('queued', 'sending'))
		RETURNING c.id
	`, now)
}

func (s *Store) EnqueueFlowMessage(ctx context.Context, msg *domain.Message) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (to_email, to_name, subject, html_body, text_body, status)
		VALUES ($1, $2, $3, $4, $5, 'queued')
		RETURNING id
	`, msg.ToEmail, msg.ToName, msg.Subject, msg.HTMLBody, msg.TextBody).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert flow message: %w", err)
	}
	return id, nil
}

func (s *Store) ids(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
