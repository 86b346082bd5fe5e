package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/segmentation"
	"github.com/ignite/campaign-engine/internal/service/campaign"
)

// txStore implements campaign.Tx on one transaction.
type txStore struct{ tx *sql.Tx }

func (r *txStore) LoadCampaign(ctx context.Context, id string) (*domain.CampaignContent, error) {
	var (
		content              domain.CampaignContent
		segmentID, subject   sql.NullString
		variables            []byte
		scheduledAt, started sql.NullTime
		completed            sql.NullTime
	)
	c := &content.Campaign
	t := &content.Template
	err := r.tx.QueryRowContext(ctx, `
		SELECT c.id, c.name, c.template_id, c.segment_id, c.subject, COALESCE(c.variables, '{}'::jsonb),
		       c.status, c.scheduled_at, c.total_recipients, c.sent_count, c.failed_count, c.bounce_count,
		       c.started_at, c.completed_at, c.created_at, c.updated_at,
		       t.id, t.name, t.subject, t.html_body, COALESCE(t.text_body, ''), t.created_at
		FROM campaigns c
		JOIN templates t ON t.id = c.template_id
		WHERE c.id = $1
		FOR UPDATE OF c
	`, id).Scan(
		&c.ID, &c.Name, &c.TemplateID, &segmentID, &subject, &variables,
		&c.Status, &scheduledAt, &c.TotalRecipients, &c.SentCount, &c.FailedCount, &c.BounceCount,
		&started, &completed, &c.CreatedAt, &c.UpdatedAt,
		&t.ID, &t.Name, &t.Subject, &t.HTMLBody, &t.TextBody, &t.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	c.SegmentID = nullString(segmentID)
	c.Subject = nullString(subject)
	c.ScheduledAt = nullTime(scheduledAt)
	c.StartedAt = nullTime(started)
	c.CompletedAt = nullTime(completed)
	if len(variables) > 0 {
		if err := json.Unmarshal(variables, &c.Variables); err != nil {
			return nil, fmt.Errorf("decode campaign variables: %w", err)
		}
	}

	if c.SegmentID != nil {
		seg := &domain.Segment{}
		var filter []byte
		err := r.tx.QueryRowContext(ctx,
			`SELECT id, name, filter FROM segments WHERE id = $1`, *c.SegmentID,
		).Scan(&seg.ID, &seg.Name, &filter)
		if err == sql.ErrNoRows {
			return nil, campaign.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load segment: %w", err)
		}
		seg.Filter = json.RawMessage(filter)
		content.Segment = seg
	}
	return &content, nil
}

func (r *txStore) QueryRecipients(ctx context.Context, query string, args []interface{}) ([]domain.Recipient, error) {
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query segment recipients: %w", err)
	}
	return scanRecipients(rows)
}

func (r *txStore) EligibleRecipients(ctx context.Context) ([]domain.Recipient, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT `+segmentation.RecipientColumns+`
		FROM leads l
		WHERE l.email IS NOT NULL AND l.email <> '' AND l.unsubscribed_at IS NULL
		ORDER BY l.created_at, l.id`)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	return scanRecipients(rows)
}

func (r *txStore) CreateMessage(ctx context.Context, m *domain.Message) (string, error) {
	var id string
	err := r.tx.QueryRowContext(ctx, `
		INSERT INTO messages (campaign_id, recipient_id, retry_of, to_email, to_name,
		                      subject, html_body, text_body, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, m.CampaignID, m.RecipientID, m.RetryOf, m.ToEmail, m.ToName,
		m.Subject, m.HTMLBody, m.TextBody, domain.MessageQueued,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

func (r *txStore) SetMessageContent(ctx context.Context, id, subject, html, text string) error {
	res, err := r.tx.ExecContext(ctx,
		`UPDATE messages SET subject = $2, html_body = $3, text_body = $4 WHERE id = $1`,
		id, subject, html, text)
	if err != nil {
		return fmt.Errorf("update message content: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return campaign.ErrMessageNotFound
	}
	return nil
}

func (r *txStore) CountMessages(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE campaign_id = $1`, campaignID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

func (r *txStore) SetTotalRecipients(ctx context.Context, campaignID string, n int) error {
	_, err := r.tx.ExecContext(ctx,
		`UPDATE campaigns SET total_recipients = $2, updated_at = NOW() WHERE id = $1`,
		campaignID, n)
	if err != nil {
		return fmt.Errorf("set total recipients: %w", err)
	}
	return nil
}

func (r *txStore) MarkCampaignSent(ctx context.Context, campaignID string, at time.Time) error {
	_, err := r.tx.ExecContext(ctx, `
		UPDATE campaigns
		SET status = 'sent', total_recipients = 0, completed_at = $2, updated_at = NOW()
		WHERE id = $1
	`, campaignID, at)
	if err != nil {
		return fmt.Errorf("mark campaign sent: %w", err)
	}
	return nil
}

func (r *txStore) TransitionCampaign(ctx context.Context, id string, from []domain.CampaignStatus, to domain.CampaignStatus, at time.Time) error {
	q := `UPDATE campaigns SET status = $2, updated_at = NOW()`
	args := []interface{}{id, string(to), statusArray(from)}
	if to == domain.CampaignSending {
		q += `, started_at = COALESCE(started_at, $4), completed_at = NULL`
		args = append(args, at)
	}
	q += ` WHERE id = $1 AND status = ANY($3)`

	res, err := r.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("transition campaign: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

func (r *txStore) ScheduleCampaign(ctx context.Context, id string, at time.Time) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE campaigns SET status = 'scheduled', scheduled_at = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('draft', 'scheduled')
	`, id, at)
	if err != nil {
		return fmt.Errorf("schedule campaign: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// checkTransition tells a missing campaign apart from one in the wrong state
// when a conditional update matched nothing.
func (r *txStore) checkTransition(ctx context.Context, res sql.Result, id string) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var exists bool
	if err := r.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check campaign: %w", err)
	}
	if !exists {
		return campaign.ErrNotFound
	}
	return campaign.ErrInvalidTransition
}

func (r *txStore) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	m, err := scanMessage(r.tx.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, campaign.ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}
