package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
)

func TestAuditLog_RecordSuppression(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	log := NewAuditLog(db)
	at := time.Date(2025, 4, 1, 15, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO compliance_audit_events").
		WithArgs(sqlmock.AnyArg(), "compliance.suppressed", "opp-1", "sms", ReasonOptOut, sqlmock.AnyArg(), "STOP", at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = log.RecordSuppression(context.Background(), SuppressionEvent{
		LeadKey:      "opp-1",
		Channel:      leads.ChannelSMS,
		Reason:       ReasonOptOut,
		MatchedTerms: []string{"stop"},
		Message:      "STOP",
		At:           at,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditLog_RecordSuppressionError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO compliance_audit_events").WillReturnError(errors.New("db down"))
	err = NewAuditLog(db).RecordSuppression(context.Background(), SuppressionEvent{LeadKey: "opp-1", Reason: ReasonExternal})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to log audit event")
}
