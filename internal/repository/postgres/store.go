// Package postgres implements the engine's stores on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/campaign-engine/internal/config"
	"github.com/ignite/campaign-engine/internal/domain"
	"github.com/ignite/campaign-engine/internal/service/campaign"
	"github.com/ignite/campaign-engine/internal/tracking"
	"github.com/ignite/campaign-engine/internal/worker"
)

//go:embed schema.sql
var schemaSQL string

// ErrStaleMessage is returned when a message is not in the state a
// transition expects.
var ErrStaleMessage = errors.New("message is not in the expected state")

var (
	_ campaign.Repository = (*Store)(nil)
	_ worker.Store        = (*Store)(nil)
	_ tracking.EventSink  = (*Store)(nil)
)

// Store is the PostgreSQL implementation of every engine store.
type Store struct{ db *sql.DB }

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Open connects to PostgreSQL with the configured pool limits.
func Open(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	return db, nil
}

// Migrate applies the embedded schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Schema returns the embedded DDL.
func Schema() string { return schemaSQL }

// WithTx runs fn in a transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx campaign.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&txStore{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const messageColumns = `m.id, m.seq, m.campaign_id, m.recipient_id, m.retry_of, m.to_email,
	COALESCE(m.to_name, ''), m.subject, m.html_body, COALESCE(m.text_body, ''), m.status,
	m.error_message, m.message_id, m.sent_at, m.created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row scanner) (*domain.Message, error) {
	var (
		m                                domain.Message
		campaignID, recipientID, retryOf sql.NullString
		errorMessage, transportMessageID sql.NullString
		sentAt                           sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.Seq, &campaignID, &recipientID, &retryOf, &m.ToEmail,
		&m.ToName, &m.Subject, &m.HTMLBody, &m.TextBody, &m.Status,
		&errorMessage, &transportMessageID, &sentAt, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.CampaignID = nullString(campaignID)
	m.RecipientID = nullString(recipientID)
	m.RetryOf = nullString(retryOf)
	m.ErrorMessage = nullString(errorMessage)
	m.TransportMessageID = nullString(transportMessageID)
	m.SentAt = nullTime(sentAt)
	return &m, nil
}

func scanRecipients(rows *sql.Rows) ([]domain.Recipient, error) {
	defer rows.Close()
	var out []domain.Recipient
	for rows.Next() {
		var (
			r      domain.Recipient
			fields []byte
		)
		if err := rows.Scan(&r.ID, &r.Email, &r.FirstName, &r.LastName, &fields); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		r.Fields = decodeFields(fields)
		out = append(out, r)
	}
	return out, rows.Err()
}

// decodeFields flattens a JSONB object into strings. Non-string values keep
// their JSON text.
func decodeFields(raw []byte) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		if string(v) == "null" {
			continue
		}
		out[k] = string(v)
	}
	return out
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func statusArray(statuses []domain.CampaignStatus) interface{} {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return pq.Array(out)
}
