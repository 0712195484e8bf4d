package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/events"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/inbound"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

// InboundProcessor runs the state machine for a normalized customer message.
type InboundProcessor interface {
	HandleInbound(ctx context.Context, ev engine.InboundEvent) (engine.Result, error)
}

type signatureVerifier interface {
	VerifyWebhookSignature(timestamp, signature string, payload []byte) error
}

// WebhookMetrics receives per-provider delivery observations.
type WebhookMetrics interface {
	ObserveInbound(provider, status string)
	ObserveLatency(provider string, d time.Duration)
}

type nopWebhookMetrics struct{}

func (nopWebhookMetrics) ObserveInbound(string, string)          {}
func (nopWebhookMetrics) ObserveLatency(string, time.Duration) {}

// WebhookConfig wires a WebhookHandler.
type WebhookConfig struct {
	Engine InboundProcessor
	// Deduper claims provider event ids before the engine runs. Optional.
	Deduper         events.Deduper
	Telnyx          signatureVerifier
	TwilioAuthToken string
	PublicBaseURL   string
	// AllowUnsigned accepts webhooks without signature checks when the
	// provider secret is not configured. Only for offline runs.
	AllowUnsigned bool
	Metrics       WebhookMetrics
	Logger        *logging.Logger
}

// WebhookHandler turns provider callbacks into engine steps.
type WebhookHandler struct {
	engine        InboundProcessor
	dedupe        events.Deduper
	telnyx        signatureVerifier
	twilioToken   string
	publicBaseURL string
	allowUnsigned bool
	metrics       WebhookMetrics
	logger        *logging.Logger
}

func NewWebhookHandler(cfg WebhookConfig) *WebhookHandler {
	if cfg.Engine == nil {
		panic("handlers: engine required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopWebhookMetrics{}
	}
	return &WebhookHandler{
		engine:        cfg.Engine,
		dedupe:        cfg.Deduper,
		telnyx:        cfg.Telnyx,
		twilioToken:   cfg.TwilioAuthToken,
		publicBaseURL: cfg.PublicBaseURL,
		allowUnsigned: cfg.AllowUnsigned,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

type webhookResponse struct {
	LeadKey string `json:"leadKey,omitempty"`
	Outcome string `json:"outcome"`
	Mode    string `json:"mode,omitempty"`
}

// status is the metric label and the HTTP status of one delivery.
type status struct {
	label string
	code  int
}

var (
	statusOK        = status{"processed", http.StatusOK}
	statusDuplicate = status{"duplicate", http.StatusOK}
	statusIgnored   = status{"ignored", http.StatusAccepted}
	statusBad       = status{"bad_request", http.StatusBadRequest}
	statusUnsigned  = status{"unauthorized", http.StatusUnauthorized}
	statusNotFound  = status{"not_found", http.StatusNotFound}
	statusBusy      = status{"busy", http.StatusServiceUnavailable}
	statusFailed    = status{"error", http.StatusInternalServerError}
	statusDisabled  = status{"disabled", http.StatusServiceUnavailable}
)

// deliver dedupes, runs the engine and reports the outcome. The returned
// status has not been written yet.
func (h *WebhookHandler) deliver(ctx context.Context, provider string, ev engine.InboundEvent, parseErr error) (status, webhookResponse) {
	if parseErr != nil {
		switch {
		case errors.Is(parseErr, inbound.ErrIgnoredEvent):
			return statusIgnored, webhookResponse{Outcome: "ignored"}
		case errors.Is(parseErr, inbound.ErrUnrecognizedPayload):
			h.logger.Warn("webhook payload not recognized, dropping", "provider", provider, "error", parseErr)
			return statusIgnored, webhookResponse{Outcome: "unrecognized"}
		default:
			h.logger.Warn("webhook payload rejected", "provider", provider, "error", parseErr)
			return statusBad, webhookResponse{Outcome: "invalid"}
		}
	}

	claimed := false
	if h.dedupe != nil && ev.ProviderMessageID != "" {
		fresh, err := h.dedupe.MarkProcessed(ctx, provider, ev.ProviderMessageID)
		if err != nil {
			// The per-lead message id check still guards the engine.
			h.logger.Warn("webhook dedupe unavailable", "provider", provider, "error", err)
		} else if !fresh {
			return statusDuplicate, webhookResponse{LeadKey: ev.LeadKey, Outcome: string(engine.OutcomeDuplicate)}
		} else {
			claimed = true
		}
	}

	res, err := h.engine.HandleInbound(ctx, ev)
	if errors.Is(err, engine.ErrEffectsCommitted) {
		// The reply already went out; a redelivery would repeat it.
		h.logger.Error("webhook processed but lead not saved", "provider", provider, "lead_key", res.LeadKey, "error", err)
		return statusOK, webhookResponse{LeadKey: res.LeadKey, Outcome: string(res.Outcome), Mode: string(res.Mode)}
	}
	if err != nil {
		if claimed {
			if ferr := h.dedupe.Forget(context.WithoutCancel(ctx), provider, ev.ProviderMessageID); ferr != nil {
				h.logger.Error("webhook dedupe release failed", "provider", provider, "message_id", ev.ProviderMessageID, "error", ferr)
			}
		}
		resp := webhookResponse{LeadKey: res.LeadKey, Outcome: "error"}
		switch {
		case errors.Is(err, engine.ErrInvalidEvent):
			return statusBad, resp
		case errors.Is(err, leads.ErrNotFound):
			return statusNotFound, resp
		case errors.Is(err, engine.ErrBusy):
			h.logger.Info("lead busy, asking provider to retry", "provider", provider, "lead_key", res.LeadKey)
			return statusBusy, resp
		default:
			h.logger.Error("webhook processing failed", "provider", provider, "lead_key", res.LeadKey, "error", err)
			return statusFailed, resp
		}
	}
	return statusOK, webhookResponse{LeadKey: res.LeadKey, Outcome: string(res.Outcome), Mode: string(res.Mode)}
}

func (h *WebhookHandler) respond(w http.ResponseWriter, provider string, start time.Time, st status, resp webhookResponse) {
	h.metrics.ObserveInbound(provider, st.label)
	h.metrics.ObserveLatency(provider, time.Since(start))
	if st.code == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}
	writeJSON(w, st.code, resp)
}
