package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/events"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/inbound"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/leads"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/messaging/telnyxclient"
)

type fakeEngine struct {
	mu     sync.Mutex
	events []engine.InboundEvent
	err    error
}

func (f *fakeEngine) HandleInbound(_ context.Context, ev engine.InboundEvent) (engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	key := ev.LeadKey
	if key == "" {
		key = engine.ContactKey(ev.Channel, ev.From)
	}
	if f.err != nil {
		return engine.Result{LeadKey: key}, f.err
	}
	return engine.Result{LeadKey: key, Outcome: engine.OutcomeReplied, Mode: leads.ModeConvo}, nil
}

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type recordingMetrics struct {
	mu     sync.Mutex
	labels []string
}

func (m *recordingMetrics) ObserveInbound(provider, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels = append(m.labels, provider+":"+status)
}

func (m *recordingMetrics) ObserveLatency(string, time.Duration) {}

const telnyxSecret = "whsec_test"

func telnyxBody(id, from, text string) []byte {
	return []byte(`{"data":{"id":"evt_` + id + `","event_type":"message.received","occurred_at":"2025-03-10T16:00:00Z","payload":{"id":"` + id + `","text":"` + text + `","from":{"phone_number":"` + from + `"},"to":[{"phone_number":"+16502530001"}]}}}`)
}

func signedTelnyxRequest(t *testing.T, body []byte) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telnyx", bytes.NewReader(body))
	req.Header.Set(telnyxTimestampHeader, ts)
	req.Header.Set(telnyxSignatureHeader, telnyxclient.Sign(telnyxSecret, ts, body))
	return req
}

func newTestWebhookHandler(t *testing.T, eng *fakeEngine, metrics *recordingMetrics) *WebhookHandler {
	t.Helper()
	client, err := telnyxclient.New(telnyxclient.Config{APIKey: "key", WebhookSecret: telnyxSecret})
	if err != nil {
		t.Fatalf("telnyx client: %v", err)
	}
	return NewWebhookHandler(WebhookConfig{
		Engine:          eng,
		Deduper:         events.NewMemoryDeduper(),
		Telnyx:          client,
		TwilioAuthToken: "twilio-token",
		PublicBaseURL:   "https://leads.example.com",
		Metrics:         metrics,
	})
}

func decodeWebhookResponse(t *testing.T, rec *httptest.ResponseRecorder) webhookResponse {
	t.Helper()
	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestTelnyxWebhookProcessesAndDedupes(t *testing.T) {
	eng := &fakeEngine{}
	metrics := &recordingMetrics{}
	h := newTestWebhookHandler(t, eng, metrics)
	body := telnyxBody("msg_1", "+16502530000", "Is Tuesday at 3pm open?")

	rec := httptest.NewRecorder()
	h.HandleTelnyx(rec, signedTelnyxRequest(t, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeWebhookResponse(t, rec)
	if resp.LeadKey != "sms:+16502530000" || resp.Mode != string(leads.ModeConvo) {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got := eng.events[0]; got.Channel != leads.ChannelSMS || got.ProviderMessageID != "msg_1" || got.Text != "Is Tuesday at 3pm open?" {
		t.Fatalf("unexpected event %+v", got)
	}

	rec = httptest.NewRecorder()
	h.HandleTelnyx(rec, signedTelnyxRequest(t, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on retry, got %d", rec.Code)
	}
	if resp := decodeWebhookResponse(t, rec); resp.Outcome != string(engine.OutcomeDuplicate) {
		t.Fatalf("expected duplicate outcome, got %+v", resp)
	}
	if eng.calls() != 1 {
		t.Fatalf("provider retry reached the engine %d times", eng.calls())
	}
	if strings.Join(metrics.labels, ",") != "telnyx:processed,telnyx:duplicate" {
		t.Fatalf("unexpected metrics %v", metrics.labels)
	}
}

func TestTelnyxWebhookRejectsBadSignature(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestWebhookHandler(t, eng, &recordingMetrics{})
	req := signedTelnyxRequest(t, telnyxBody("msg_2", "+16502530000", "hi"))
	req.Header.Set(telnyxSignatureHeader, "deadbeef")

	rec := httptest.NewRecorder()
	h.HandleTelnyx(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if eng.calls() != 0 {
		t.Fatalf("unsigned webhook reached the engine")
	}
}

func TestTelnyxWebhookIgnoresDeliveryReceipts(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestWebhookHandler(t, eng, &recordingMetrics{})
	body := []byte(`{"data":{"id":"evt_9","event_type":"message.finalized","payload":{"id":"msg_9"}}}`)

	rec := httptest.NewRecorder()
	h.HandleTelnyx(rec, signedTelnyxRequest(t, body))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if eng.calls() != 0 {
		t.Fatalf("delivery receipt reached the engine")
	}
}

func TestUnrecognizedPayloadIsDropped(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestWebhookHandler(t, eng, &recordingMetrics{})
	rec := httptest.NewRecorder()
	h.HandleTelnyx(rec, signedTelnyxRequest(t, []byte(`{"unexpected":true}`)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if resp := decodeWebhookResponse(t, rec); resp.Outcome != "unrecognized" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestFailedDeliveryReleasesDedupeClaim(t *testing.T) {
	eng := &fakeEngine{err: errors.New("store unavailable")}
	h := newTestWebhookHandler(t, eng, &recordingMetrics{})
	body := telnyxBody("msg_3", "+16502530000", "hello")

	rec := httptest.NewRecorder()
	h.HandleTelnyx(rec, signedTelnyxRequest(t, body))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	eng.err = nil
	rec = httptest.NewRecorder()
	h.HandleTelnyx(rec, signedTelnyxRequest(t, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected retry to be processed, got %d", rec.Code)
	}
	if eng.calls() != 2 {
		t.Fatalf("expected the retry to reach the engine, calls=%d", eng.calls())
	}
}

func TestUnsavedSideEffectsKeepDedupeClaim(t *testing.T) {
	eng := &fakeEngine{err: fmt.Errorf("engine: persist lead: %w: %w", engine.ErrEffectsCommitted, errors.New("connection reset"))}
	h := newTestWebhookHandler(t, eng, &recordingMetrics{})
	body := telnyxBody("msg_5", "+16502530000", "Is it still available?")

	rec := httptest.NewRecorder()
	h.HandleTelnyx(rec, signedTelnyxRequest(t, body))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the delivery to be acknowledged, got %d", rec.Code)
	}

	eng.err = nil
	rec = httptest.NewRecorder()
	h.HandleTelnyx(rec, signedTelnyxRequest(t, body))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "duplicate") {
		t.Fatalf("expected redelivery to be a duplicate, got %d %s", rec.Code, rec.Body.String())
	}
	if eng.calls() != 1 {
		t.Fatalf("expected a single engine run, calls=%d", eng.calls())
	}
}

func TestBusyLeadAsksForRetry(t *testing.T) {
	eng := &fakeEngine{err: engine.ErrBusy}
	h := newTestWebhookHandler(t, eng, &recordingMetrics{})
	rec := httptest.NewRecorder()
	h.HandleTelnyx(rec, signedTelnyxRequest(t, telnyxBody("msg_4", "+16502530000", "hello")))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestTelnyxWithoutSecret(t *testing.T) {
	eng := &fakeEngine{}
	h := NewWebhookHandler(WebhookConfig{Engine: eng})
	rec := httptest.NewRecorder()
	h.HandleTelnyx(rec, httptest.NewRequest(http.MethodPost, "/webhooks/telnyx", bytes.NewReader(telnyxBody("m", "+16502530000", "hi"))))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a secret, got %d", rec.Code)
	}

	h = NewWebhookHandler(WebhookConfig{Engine: eng, AllowUnsigned: true})
	rec = httptest.NewRecorder()
	h.HandleTelnyx(rec, httptest.NewRequest(http.MethodPost, "/webhooks/telnyx", bytes.NewReader(telnyxBody("m", "+16502530000", "hi"))))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected unsigned delivery to be accepted offline, got %d", rec.Code)
	}
}

func TestTwilioWebhook(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestWebhookHandler(t, eng, &recordingMetrics{})
	form := url.Values{
		"MessageSid": {"SM123"},
		"From":       {"+16502530000"},
		"To":         {"+16502530001"},
		"Body":       {"STOP"},
		"SmsStatus":  {"received"},
	}
	sig := inbound.SignTwilio("twilio-token", "https://leads.example.com/webhooks/twilio", form)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(inbound.TwilioSignatureHeader, sig)
	rec := httptest.NewRecorder()
	h.HandleTwilio(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "<Response></Response>") {
		t.Fatalf("expected empty TwiML, got %q", rec.Body.String())
	}
	if eng.calls() != 1 || eng.events[0].Text != "STOP" {
		t.Fatalf("unexpected engine calls %+v", eng.events)
	}

	req = httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(inbound.TwilioSignatureHeader, "forged")
	rec = httptest.NewRecorder()
	h.HandleTwilio(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged signature, got %d", rec.Code)
	}
}

func TestSendGridWebhook(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestWebhookHandler(t, eng, &recordingMetrics{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"from":    "Dana Buyer <Dana@Example.com>",
		"to":      "leads+opp-77@reply.example.com",
		"subject": "Re: Your offer",
		"text":    "Can I come Saturday at 10am?\n\nOn Mon, Sales wrote:\n> Your offer is ready",
		"headers": "Message-Id: <abc@mail.example.com>\r\nSubject: Re: Your offer\r\n",
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/sendgrid", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.HandleSendGrid(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	ev := eng.events[0]
	if ev.LeadKey != "opp-77" || ev.From != "dana@example.com" || ev.Channel != leads.ChannelEmail {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.ProviderMessageID != "abc@mail.example.com" {
		t.Fatalf("unexpected message id %q", ev.ProviderMessageID)
	}
}

func TestCRMWebhook(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestWebhookHandler(t, eng, &recordingMetrics{})
	body := `{"opportunityId":"opp-1","channel":"email","from":"buyer@example.com","body":"What is your best price?","messageId":"crm-55","receivedAt":"2025-03-10T16:00:00Z"}`

	rec := httptest.NewRecorder()
	h.HandleCRM(rec, httptest.NewRequest(http.MethodPost, "/webhooks/crm", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if eng.events[0].LeadKey != "opp-1" {
		t.Fatalf("unexpected event %+v", eng.events[0])
	}

	eng.err = leads.ErrNotFound
	rec = httptest.NewRecorder()
	h.HandleCRM(rec, httptest.NewRequest(http.MethodPost, "/webhooks/crm", strings.NewReader(strings.Replace(body, "crm-55", "crm-56", 1))))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
