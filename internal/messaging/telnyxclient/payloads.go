package telnyxclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SendMessageRequest describes an outbound SMS payload.
type SendMessageRequest struct {
	From               string
	To                 string
	Body               string
	MessagingProfileID string
}

func (r SendMessageRequest) validate() error {
	if strings.TrimSpace(r.To) == "" {
		return errors.New("telnyxclient: to number required")
	}
	if strings.TrimSpace(r.From) == "" && strings.TrimSpace(r.MessagingProfileID) == "" {
		return errors.New("telnyxclient: from number or messaging profile required")
	}
	if strings.TrimSpace(r.Body) == "" {
		return errors.New("telnyxclient: body required")
	}
	return nil
}

// MessageResponse represents the Telnyx message resource.
type MessageResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Direction string    `json:"direction"`
	Parts     int       `json:"parts"`
}

// EventMessageReceived is the webhook event type for inbound SMS.
const EventMessageReceived = "message.received"

// WebhookEvent is the envelope Telnyx posts to messaging webhooks.
type WebhookEvent struct {
	Data struct {
		ID         string         `json:"id"`
		EventType  string         `json:"event_type"`
		OccurredAt time.Time      `json:"occurred_at"`
		Payload    MessagePayload `json:"payload"`
	} `json:"data"`
}

// MessagePayload is the message carried by a webhook event.
type MessagePayload struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	From struct {
		PhoneNumber string `json:"phone_number"`
	} `json:"from"`
	To []struct {
		PhoneNumber string `json:"phone_number"`
	} `json:"to"`
	ReceivedAt time.Time `json:"received_at"`
}

// ParseWebhookEvent decodes a webhook body.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var evt WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("telnyxclient: decode webhook: %w", err)
	}
	if evt.Data.EventType == "" {
		return nil, errors.New("telnyxclient: webhook missing event_type")
	}
	return &evt, nil
}
