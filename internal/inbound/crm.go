package inbound

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
)

// CRMMessage is the JSON the CRM posts when a customer replies to an
// opportunity thread.
type CRMMessage struct {
	OpportunityID string    `json:"opportunityId"`
	Channel       string    `json:"channel"`
	From          string    `json:"from"`
	Name          string    `json:"name"`
	Body          string    `json:"body"`
	MessageID     string    `json:"messageId"`
	ReceivedAt    time.Time `json:"receivedAt"`
}

// FromCRM reads a CRM reply notification.
func FromCRM(body []byte) (engine.InboundEvent, error) {
	var msg CRMMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return engine.InboundEvent{}, ErrUnrecognizedPayload
	}
	if strings.TrimSpace(msg.MessageID) == "" {
		return engine.InboundEvent{}, ErrUnrecognizedPayload
	}
	ch := leads.Channel(strings.ToLower(strings.TrimSpace(msg.Channel)))
	if ch == "" {
		ch = leads.ChannelEmail
	}
	from := msg.From
	if ch == leads.ChannelSMS {
		from = NormalizePhone(from)
	}
	return finish(engine.InboundEvent{
		LeadKey:           msg.OpportunityID,
		Channel:           ch,
		From:              from,
		Name:              msg.Name,
		Text:              msg.Body,
		ProviderMessageID: strings.TrimSpace(msg.MessageID),
		Timestamp:         msg.ReceivedAt,
	})
}
