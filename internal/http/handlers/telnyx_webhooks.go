package handlers

import (
	"net/http"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/inbound"
)

const (
	telnyxTimestampHeader = "Telnyx-Timestamp"
	telnyxSignatureHeader = "Telnyx-Signature"
)

// HandleTelnyx accepts Telnyx messaging webhooks. Delivery receipts and other
// non-inbound events are acknowledged and ignored.
func (h *WebhookHandler) HandleTelnyx(w http.ResponseWriter, r *http.Request) {
	const provider = "telnyx"
	start := time.Now()
	body, err := readBody(w, r)
	if err != nil {
		h.respond(w, provider, start, statusBad, webhookResponse{Outcome: "invalid"})
		return
	}
	switch {
	case h.telnyx != nil:
		if err := h.telnyx.VerifyWebhookSignature(r.Header.Get(telnyxTimestampHeader), r.Header.Get(telnyxSignatureHeader), body); err != nil {
			h.logger.Warn("invalid telnyx webhook signature", "error", err)
			h.respond(w, provider, start, statusUnsigned, webhookResponse{Outcome: "invalid_signature"})
			return
		}
	case !h.allowUnsigned:
		h.respond(w, provider, start, statusDisabled, webhookResponse{Outcome: "not_configured"})
		return
	}

	ev, parseErr := inbound.FromTelnyx(body)
	st, resp := h.deliver(r.Context(), provider, ev, parseErr)
	h.respond(w, provider, start, st, resp)
}

// HandleTwilio accepts Twilio inbound SMS form posts and answers with an
// empty TwiML document so Twilio sends nothing on its own.
func (h *WebhookHandler) HandleTwilio(w http.ResponseWriter, r *http.Request) {
	const provider = "twilio"
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.respond(w, provider, start, statusBad, webhookResponse{Outcome: "invalid"})
		return
	}
	switch {
	case h.twilioToken != "":
		sig := r.Header.Get(inbound.TwilioSignatureHeader)
		if !inbound.ValidTwilioSignature(h.twilioToken, externalURL(r, h.publicBaseURL), sig, r.PostForm) {
			h.logger.Warn("invalid twilio webhook signature", "path", r.URL.Path)
			h.respond(w, provider, start, statusUnsigned, webhookResponse{Outcome: "invalid_signature"})
			return
		}
	case !h.allowUnsigned:
		h.respond(w, provider, start, statusDisabled, webhookResponse{Outcome: "not_configured"})
		return
	}

	ev, parseErr := inbound.FromTwilio(r.PostForm)
	st, _ := h.deliver(r.Context(), provider, ev, parseErr)
	h.metrics.ObserveInbound(provider, st.label)
	h.metrics.ObserveLatency(provider, time.Since(start))
	if st.code >= http.StatusBadRequest {
		if st.code == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "5")
		}
		http.Error(w, st.label, st.code)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Response></Response>`))
}

// HandleSendGrid accepts SendGrid Inbound Parse posts (multipart form).
func (h *WebhookHandler) HandleSendGrid(w http.ResponseWriter, r *http.Request) {
	const provider = "sendgrid"
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, 10*maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil && err != http.ErrNotMultipart {
		h.respond(w, provider, start, statusBad, webhookResponse{Outcome: "invalid"})
		return
	}
	if r.PostForm == nil {
		if err := r.ParseForm(); err != nil {
			h.respond(w, provider, start, statusBad, webhookResponse{Outcome: "invalid"})
			return
		}
	}
	ev, parseErr := inbound.FromSendGrid(r.PostForm)
	st, resp := h.deliver(r.Context(), provider, ev, parseErr)
	h.respond(w, provider, start, st, resp)
}

// HandleCRM accepts reply notifications pushed by the CRM.
func (h *WebhookHandler) HandleCRM(w http.ResponseWriter, r *http.Request) {
	const provider = "crm"
	start := time.Now()
	body, err := readBody(w, r)
	if err != nil {
		h.respond(w, provider, start, statusBad, webhookResponse{Outcome: "invalid"})
		return
	}
	ev, parseErr := inbound.FromCRM(body)
	st, resp := h.deliver(r.Context(), provider, ev, parseErr)
	h.respond(w, provider, start, st, resp)
}

var _ InboundProcessor = (*engine.Machine)(nil)
