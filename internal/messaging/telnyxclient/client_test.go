package telnyxclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/provider"
)

const sendSuccess = `{"data":{"id":"msg_01J123ABC","status":"queued","text":"hello","parts":1}}`

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.APIKey = "test-key"
	cfg.BaseURL = server.URL
	cfg.HTTPClient = server.Client()
	if cfg.Policy.Backoff == 0 {
		cfg.Policy.Backoff = time.Millisecond
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("unexpected auth header %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"text":"hello"`) || !strings.Contains(string(body), `"to":"+15552223333"`) {
			t.Fatalf("unexpected body %s", body)
		}
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(sendSuccess))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	resp, err := client.SendMessage(context.Background(), SendMessageRequest{
		From: "+15553334444",
		To:   "+15552223333",
		Body: "hello",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if resp.ID != "msg_01J123ABC" || resp.Status != "queued" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected api key validation error")
	}
	client, err := New(Config{APIKey: "key"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.baseURL != defaultBaseURL {
		t.Fatalf("expected default base url, got %s", client.baseURL)
	}
	if _, err := client.SendMessage(context.Background(), SendMessageRequest{To: "+1555", Body: "x"}); err == nil {
		t.Fatalf("expected missing sender error")
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(sendSuccess))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{Policy: provider.Policy{MaxRetries: 2}})
	if _, err := client.SendMessage(context.Background(), SendMessageRequest{MessagingProfileID: "mp", To: "+15552223333", Body: "hi"}); err != nil {
		t.Fatalf("send message: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"errors":[{"title":"invalid to"}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{Policy: provider.Policy{MaxRetries: 3}})
	_, err := client.SendMessage(context.Background(), SendMessageRequest{From: "+1", To: "+2", Body: "hi"})
	if !provider.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetriesExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{Policy: provider.Policy{MaxRetries: 1}})
	_, err := client.SendMessage(context.Background(), SendMessageRequest{From: "+1", To: "+2", Body: "hi"})
	if !errors.Is(err, provider.ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	client, err := New(Config{APIKey: "key", WebhookSecret: "whsec"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	now := time.Unix(1700000000, 0)
	client.now = func() time.Time { return now }
	payload := []byte(`{"data":{"event_type":"message.received"}}`)
	ts := strconv.FormatInt(now.Unix(), 10)

	if err := client.VerifyWebhookSignature(ts, Sign("whsec", ts, payload), payload); err != nil {
		t.Fatalf("expected valid signature: %v", err)
	}
	if err := client.VerifyWebhookSignature(ts, "deadbeef", payload); err == nil {
		t.Fatalf("expected mismatch")
	}
	stale := strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10)
	if err := client.VerifyWebhookSignature(stale, Sign("whsec", stale, payload), payload); err == nil {
		t.Fatalf("expected skew error")
	}
}

func TestParseWebhookEvent(t *testing.T) {
	body := []byte(`{"data":{"id":"evt_1","event_type":"message.received","payload":{"id":"msg_9","text":"STOP","from":{"phone_number":"+15551112222"},"to":[{"phone_number":"+15553334444"}]}}}`)
	evt, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if evt.Data.EventType != EventMessageReceived || evt.Data.Payload.From.PhoneNumber != "+15551112222" || evt.Data.Payload.Text != "STOP" {
		t.Fatalf("unexpected event %#v", evt)
	}
	if _, err := ParseWebhookEvent([]byte(`{"data":{}}`)); err == nil {
		t.Fatalf("expected missing event type error")
	}
}
