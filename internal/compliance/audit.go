package compliance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
)

// SuppressionEvent is an immutable audit record of a lead becoming suppressed.
type SuppressionEvent struct {
	ID           string
	LeadKey      string
	Channel      leads.Channel
	Reason       string
	MatchedTerms []string
	Message      string
	At           time.Time
}

// AuditLog writes suppression events to compliance_audit_events.
type AuditLog struct {
	db *sql.DB
}

var _ AuditRecorder = (*AuditLog)(nil)

// NewAuditLog creates an audit log over db.
func NewAuditLog(db *sql.DB) *AuditLog {
	return &AuditLog{db: db}
}

// RecordSuppression inserts one event.
func (a *AuditLog) RecordSuppression(ctx context.Context, ev SuppressionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	terms := ev.MatchedTerms
	if terms == nil {
		terms = []string{}
	}
	query := `
		INSERT INTO compliance_audit_events (
			id, event_type, lead_key, channel, reason, matched_terms, message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := a.db.ExecContext(ctx, query,
		ev.ID,
		"compliance.suppressed",
		ev.LeadKey,
		string(ev.Channel),
		ev.Reason,
		pq.Array(terms),
		nullString(ev.Message),
		ev.At,
	)
	if err != nil {
		return fmt.Errorf("compliance: failed to log audit event: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
