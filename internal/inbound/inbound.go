// Package inbound turns provider webhook payloads into engine events.
package inbound

import (
	"errors"
	"strings"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
)

var (
	// ErrUnrecognizedPayload means the body is not a shape this package reads.
	ErrUnrecognizedPayload = errors.New("inbound: unrecognized payload")
	// ErrIgnoredEvent is a well-formed delivery that carries no customer message
	// (status callbacks, outbound echoes).
	ErrIgnoredEvent = errors.New("inbound: event carries no customer message")
	// ErrInvalidSignature means a signed webhook failed verification.
	ErrInvalidSignature = errors.New("inbound: invalid webhook signature")
)

// finish applies the checks every normalized event must pass.
func finish(ev engine.InboundEvent) (engine.InboundEvent, error) {
	ev.Text = strings.TrimSpace(ev.Text)
	ev.From = strings.TrimSpace(ev.From)
	ev.LeadKey = strings.TrimSpace(ev.LeadKey)
	if ev.LeadKey == "" && ev.From == "" {
		return engine.InboundEvent{}, ErrUnrecognizedPayload
	}
	if !ev.Channel.Valid() {
		return engine.InboundEvent{}, ErrUnrecognizedPayload
	}
	if ev.Channel == leads.ChannelEmail {
		ev.From = strings.ToLower(ev.From)
	}
	if !ev.Timestamp.IsZero() {
		ev.Timestamp = ev.Timestamp.UTC()
	}
	return ev, nil
}
