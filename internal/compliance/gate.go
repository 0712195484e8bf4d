package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

// ReasonOptOut is recorded when the lead asked to stop.
const ReasonOptOut = "opt_out"

// ReasonExternal is recorded when suppression was found on re-verification.
const ReasonExternal = "suppressed_externally"

// Decision is the gate's verdict for one inbound message or tick.
type Decision struct {
	Allow bool
	// OptOut is true only when this message flipped suppression; it triggers the single confirmation.
	OptOut bool
	Term   string
}

// ComplianceCheckError wraps a transport failure while re-verifying suppression.
type ComplianceCheckError struct {
	Err error
}

func (e *ComplianceCheckError) Error() string {
	return fmt.Sprintf("compliance: suppression re-check failed: %v", e.Err)
}

func (e *ComplianceCheckError) Unwrap() error { return e.Err }

// SuppressionChecker re-reads suppression from the system of record.
type SuppressionChecker interface {
	IsSuppressed(ctx context.Context, key string) (bool, error)
}

// AuditRecorder persists suppression events.
type AuditRecorder interface {
	RecordSuppression(ctx context.Context, ev SuppressionEvent) error
}

// Evaluate applies the opt-out rules to lead without any I/O.
func Evaluate(lexicon *OptOutLexicon, lead *leads.Lead, channel leads.Channel, text string, now time.Time) Decision {
	if lead.Compliance.Suppressed {
		return Decision{}
	}
	term, ok := lexicon.Match(text)
	if !ok {
		return Decision{Allow: true}
	}
	at := now.UTC()
	lead.Compliance = leads.Compliance{Suppressed: true, Reason: ReasonOptOut, Channel: channel, At: &at}
	return Decision{OptOut: true, Term: term}
}

// Gate evaluates inbound text and re-verifies suppression before outbound sends.
type Gate struct {
	lexicon *OptOutLexicon
	checker SuppressionChecker
	audit   AuditRecorder
	logger  *logging.Logger
}

// NewGate creates a gate. checker and audit may be nil.
func NewGate(checker SuppressionChecker, audit AuditRecorder, logger *logging.Logger) *Gate {
	if logger == nil {
		logger = logging.Default()
	}
	return &Gate{lexicon: NewOptOutLexicon(), checker: checker, audit: audit, logger: logger}
}

// Lexicon exposes the opt-out lexicon for triage.
func (g *Gate) Lexicon() *OptOutLexicon {
	return g.lexicon
}

// Inbound evaluates an inbound message. A detected opt-out always suppresses, regardless of store health.
func (g *Gate) Inbound(ctx context.Context, lead *leads.Lead, channel leads.Channel, text string, now time.Time) Decision {
	d := Evaluate(g.lexicon, lead, channel, text, now)
	if d.OptOut {
		g.record(ctx, SuppressionEvent{
			LeadKey:      lead.Key,
			Channel:      channel,
			Reason:       ReasonOptOut,
			MatchedTerms: []string{d.Term},
			Message:      text,
			At:           now.UTC(),
		})
		return d
	}
	if !d.Allow {
		return d
	}
	return g.verify(ctx, lead, channel, now)
}

// Outbound re-checks a lead before a tick-driven send.
func (g *Gate) Outbound(ctx context.Context, lead *leads.Lead, channel leads.Channel, now time.Time) Decision {
	if lead.Compliance.Suppressed {
		return Decision{}
	}
	return g.verify(ctx, lead, channel, now)
}

func (g *Gate) verify(ctx context.Context, lead *leads.Lead, channel leads.Channel, now time.Time) Decision {
	if g.checker == nil {
		return Decision{Allow: true}
	}
	suppressed, err := g.checker.IsSuppressed(ctx, lead.Key)
	if err != nil {
		g.logger.Warn("compliance: suppression re-check failed, failing open",
			"lead_key", lead.Key,
			"error", &ComplianceCheckError{Err: err},
		)
		return Decision{Allow: true}
	}
	if !suppressed {
		return Decision{Allow: true}
	}
	at := now.UTC()
	lead.Compliance = leads.Compliance{Suppressed: true, Reason: ReasonExternal, Channel: channel, At: &at}
	g.record(ctx, SuppressionEvent{LeadKey: lead.Key, Channel: channel, Reason: ReasonExternal, At: at})
	return Decision{}
}

func (g *Gate) record(ctx context.Context, ev SuppressionEvent) {
	if g.audit == nil {
		return
	}
	if err := g.audit.RecordSuppression(ctx, ev); err != nil {
		g.logger.Error("compliance: audit write failed", "lead_key", ev.LeadKey, "error", err)
	}
}

// StoreChecker reports suppression as currently persisted in the lead store.
type StoreChecker struct {
	Store leads.Store
}

func (c StoreChecker) IsSuppressed(ctx context.Context, key string) (bool, error) {
	lead, err := c.Store.FindByKey(ctx, key)
	if err != nil {
		return false, err
	}
	return lead.Compliance.Suppressed, nil
}

// ConfirmationText is the single message sent after an opt-out.
func ConfirmationText(channel leads.Channel) string {
	if channel == leads.ChannelSMS {
		return "You're unsubscribed and will not receive further messages from us."
	}
	return "You have been unsubscribed. We will not contact you again."
}
