package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/appointment"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/outbound"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/triage"
)

var (
	// ErrBusy is returned when another worker holds the lead's lease.
	ErrBusy = errors.New("engine: lead is locked by another worker")
	// ErrInvalidEvent is returned for events without a channel or sender.
	ErrInvalidEvent = errors.New("engine: invalid inbound event")
	// ErrEffectsCommitted is returned when a step's messages or CRM calls went
	// out but the lead could not be written back. Callers must not redeliver.
	ErrEffectsCommitted = errors.New("engine: side effects committed without persisting lead")
)

// Trigger names what started a step.
type Trigger string

const (
	TriggerInbound Trigger = "inbound"
	TriggerTick    Trigger = "tick"
	TriggerEnroll  Trigger = "enroll"
)

// Outcome summarises what a step did.
type Outcome string

const (
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeOptedOut       Outcome = "opted_out"
	OutcomeSuppressed     Outcome = "suppressed"
	OutcomeNonLead        Outcome = "non_lead"
	OutcomeHandoff        Outcome = "handoff"
	OutcomeReplied        Outcome = "replied"
	OutcomeSent           Outcome = "sent"
	OutcomeDeferred       Outcome = "deferred"
	OutcomeInactive       Outcome = "inactive"
	OutcomeTerminal       Outcome = "terminal"
	OutcomeEnrolled       Outcome = "enrolled"
	OutcomeSkipped        Outcome = "skipped"
	OutcomeDeliveryFailed Outcome = "delivery_failed"
	OutcomeNoop           Outcome = "noop"
)

// InboundEvent is a normalized customer message.
type InboundEvent struct {
	// LeadKey may be empty; the lead is then resolved from From.
	LeadKey           string
	Channel           leads.Channel
	From              string
	Name              string
	Text              string
	ProviderMessageID string
	Timestamp         time.Time
}

// DueTick asks the machine to evaluate a lead's timers.
type DueTick struct {
	LeadKey string    `json:"leadKey"`
	At      time.Time `json:"at"`
}

// EnrollRequest creates a lead from a CRM campaign.
type EnrollRequest struct {
	Key          string
	Name         string
	Email        string
	Phone        string
	Interest     string
	StartCadence bool
}

// Result reports one step.
type Result struct {
	LeadKey     string
	Outcome     Outcome
	Mode        leads.Mode
	Triage      *triage.Verdict
	Appointment *appointment.Extraction
	Sent        *outbound.Message
}

// Metrics receives step observations.
type Metrics interface {
	ObserveStep(trigger, outcome string)
	ObserveTriage(classification, source string)
	ObserveAppointment(classification string)
	ObserveCadenceSend(plan, channel string)
	ObserveSuppression(reason string)
}

// Archiver stores the conversation of a lead that reached a terminal mode.
type Archiver interface {
	ArchiveLead(ctx context.Context, lead *leads.Lead) error
}

// TickScheduler enqueues a tick for a precise time.
type TickScheduler interface {
	ScheduleTick(ctx context.Context, key string, at time.Time) error
}

// ContactKey is the key given to a lead first seen through an inbound message.
func ContactKey(ch leads.Channel, address string) string {
	address = strings.TrimSpace(address)
	if ch == leads.ChannelEmail {
		address = strings.ToLower(address)
	}
	return string(ch) + ":" + address
}

type nopMetrics struct{}

func (nopMetrics) ObserveStep(string, string)        {}
func (nopMetrics) ObserveTriage(string, string)      {}
func (nopMetrics) ObserveAppointment(string)         {}
func (nopMetrics) ObserveCadenceSend(string, string) {}
func (nopMetrics) ObserveSuppression(string)         {}
