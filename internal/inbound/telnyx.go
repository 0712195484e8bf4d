package inbound

import (
	"strings"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/messaging/telnyxclient"
)

// FromTelnyx reads a Telnyx messaging webhook body. Only message.received
// events become engine events.
func FromTelnyx(body []byte) (engine.InboundEvent, error) {
	evt, err := telnyxclient.ParseWebhookEvent(body)
	if err != nil {
		return engine.InboundEvent{}, ErrUnrecognizedPayload
	}
	if evt.Data.EventType != telnyxclient.EventMessageReceived {
		return engine.InboundEvent{}, ErrIgnoredEvent
	}
	p := evt.Data.Payload
	id := strings.TrimSpace(p.ID)
	if id == "" {
		id = strings.TrimSpace(evt.Data.ID)
	}
	if id == "" {
		return engine.InboundEvent{}, ErrUnrecognizedPayload
	}
	at := p.ReceivedAt
	if at.IsZero() {
		at = evt.Data.OccurredAt
	}
	return finish(engine.InboundEvent{
		Channel:           leads.ChannelSMS,
		From:              NormalizePhone(p.From.PhoneNumber),
		Text:              p.Text,
		ProviderMessageID: id,
		Timestamp:         at,
	})
}
