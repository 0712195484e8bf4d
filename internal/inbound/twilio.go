package inbound

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
)

// TwilioSignatureHeader carries the request signature.
const TwilioSignatureHeader = "X-Twilio-Signature"

// ValidTwilioSignature checks signature against the HMAC-SHA1 of webhookURL
// followed by every form key and value in key order.
func ValidTwilioSignature(authToken, webhookURL, signature string, form url.Values) bool {
	if signature == "" || authToken == "" {
		return false
	}
	expected := SignTwilio(authToken, webhookURL, form)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SignTwilio computes the signature Twilio sends for a form post.
func SignTwilio(authToken, webhookURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(webhookURL)
	for _, k := range keys {
		for _, v := range form[k] {
			payload.WriteString(k)
			payload.WriteString(v)
		}
	}
	h := hmac.New(sha1.New, []byte(authToken))
	h.Write([]byte(payload.String()))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// FromTwilio reads an inbound SMS form post.
func FromTwilio(form url.Values) (engine.InboundEvent, error) {
	sid := strings.TrimSpace(form.Get("MessageSid"))
	if sid == "" {
		sid = strings.TrimSpace(form.Get("SmsSid"))
	}
	from := NormalizePhone(form.Get("From"))
	if sid == "" || from == "" {
		return engine.InboundEvent{}, ErrUnrecognizedPayload
	}
	if status := strings.ToLower(form.Get("SmsStatus")); status != "" && status != "received" {
		return engine.InboundEvent{}, ErrIgnoredEvent
	}
	return finish(engine.InboundEvent{
		Channel:           leads.ChannelSMS,
		From:              from,
		Text:              form.Get("Body"),
		ProviderMessageID: sid,
	})
}
