// Package replygen drafts outbound lead messages.
package replygen

import (
	"context"
	"strings"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/appointment"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/cadence"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

// Kind is the reason a message is being drafted.
type Kind string

const (
	KindAutoReply Kind = "auto_reply"
	KindCadence   Kind = "cadence"
	KindFollowUp  Kind = "follow_up"
)

// Persona describes who the messages come from.
type Persona struct {
	AgentName  string
	Dealership string
}

// ReplyContext is everything a generator may use.
type ReplyContext struct {
	Kind     Kind
	Channel  leads.Channel
	Persona  Persona
	LeadName string
	Interest string
	History  []leads.Message
	Inbound  string
	// Template is the cadence content for KindCadence and KindFollowUp.
	Template *cadence.Content
	// Appointment is the extraction for the inbound message, when any.
	Appointment *appointment.Extraction
	// Booked is the confirmed appointment time in store time, when one was just scheduled.
	Booked string
}

// Reply is a drafted message. NeedsHandoff is advisory.
type Reply struct {
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	NeedsHandoff  bool   `json:"needs_handoff"`
	HandoffReason string `json:"handoff_reason"`
}

// Generator drafts a reply.
type Generator interface {
	Generate(ctx context.Context, rc ReplyContext) (Reply, error)
}

// Fallback drafts with primary and falls back to secondary on error.
type Fallback struct {
	primary   Generator
	secondary Generator
	logger    *logging.Logger
}

func NewFallback(primary, secondary Generator, logger *logging.Logger) *Fallback {
	if logger == nil {
		logger = logging.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Generate(ctx context.Context, rc ReplyContext) (Reply, error) {
	r, err := f.primary.Generate(ctx, rc)
	if err == nil {
		return r, nil
	}
	if f.secondary == nil || ctx.Err() != nil {
		return Reply{}, err
	}
	f.logger.Warn("replygen: primary generator failed, using fallback", "kind", rc.Kind, "error", err)
	return f.secondary.Generate(ctx, rc)
}

const maxSMSLength = 480

// finish trims the draft for its channel.
func finish(r Reply, ch leads.Channel) Reply {
	r.Subject = strings.TrimSpace(r.Subject)
	r.Body = strings.TrimSpace(r.Body)
	if ch == leads.ChannelSMS {
		r.Subject = ""
		if len(r.Body) > maxSMSLength {
			cut := strings.LastIndex(r.Body[:maxSMSLength], " ")
			if cut <= 0 {
				cut = maxSMSLength
			}
			r.Body = strings.TrimSpace(r.Body[:cut])
		}
	}
	return r
}

func fill(text string, rc ReplyContext) string {
	name := strings.TrimSpace(rc.LeadName)
	if name == "" {
		name = "there"
	} else {
		name = strings.Fields(name)[0]
	}
	interest := strings.TrimSpace(rc.Interest)
	if interest == "" {
		interest = "vehicle you asked about"
	}
	dealer := strings.TrimSpace(rc.Persona.Dealership)
	if dealer == "" {
		dealer = "our dealership"
	}
	return strings.NewReplacer("{name}", name, "{interest}", interest, "{dealer}", dealer).Replace(text)
}
