package telnyxclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/provider"
)

const defaultBaseURL = "https://api.telnyx.com/v2"

// Config controls how the Telnyx client behaves.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	MaxSkew       time.Duration
	HTTPClient    *http.Client
	Policy        provider.Policy
	Logger        *slog.Logger
}

// Client sends SMS through Telnyx and verifies its webhooks.
type Client struct {
	apiKey        string
	baseURL       string
	webhookSecret string
	httpClient    *http.Client
	policy        provider.Policy
	maxSkew       time.Duration
	now           func() time.Time
}

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("telnyxclient: API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	maxSkew := cfg.MaxSkew
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	policy := cfg.Policy
	if policy.Name == "" {
		policy.Name = "sms"
	}
	if cfg.Logger != nil {
		policy.Logger = cfg.Logger
	}
	return &Client{
		apiKey:        cfg.APIKey,
		baseURL:       baseURL,
		webhookSecret: cfg.WebhookSecret,
		httpClient:    httpClient,
		policy:        policy,
		maxSkew:       maxSkew,
		now:           time.Now,
	}, nil
}

// SendMessage triggers an SMS send request.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*MessageResponse, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(struct {
		From               string `json:"from,omitempty"`
		To                 string `json:"to"`
		Text               string `json:"text"`
		MessagingProfileID string `json:"messaging_profile_id,omitempty"`
	}{
		From:               req.From,
		To:                 req.To,
		Text:               req.Body,
		MessagingProfileID: req.MessagingProfileID,
	})
	if err != nil {
		return nil, fmt.Errorf("telnyxclient: marshal send body: %w", err)
	}
	data, err := provider.Invoke(ctx, c.httpClient, c.policy, provider.Request{
		Op:     "telnyx.sendMessage",
		Method: http.MethodPost,
		URL:    c.baseURL + "/messages",
		Body:   body,
		Header: func(_ context.Context, h http.Header) error {
			h.Set("Authorization", "Bearer "+c.apiKey)
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeDataWrapper[MessageResponse](data)
}

// VerifyWebhookSignature validates Telnyx webhook signatures.
func (c *Client) VerifyWebhookSignature(timestamp, signature string, payload []byte) error {
	if c.webhookSecret == "" {
		return errors.New("telnyxclient: webhook secret not configured")
	}
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return errors.New("telnyxclient: missing signature timestamp")
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("telnyxclient: invalid signature timestamp: %w", err)
	}
	if diff := c.now().Sub(time.Unix(sec, 0)); diff > c.maxSkew || diff < -c.maxSkew {
		return fmt.Errorf("telnyxclient: signature timestamp skew %s exceeds limit", diff)
	}
	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" {
		return errors.New("telnyxclient: missing signature header")
	}
	if !hmac.Equal([]byte(Sign(c.webhookSecret, ts, payload)), []byte(actual)) {
		return errors.New("telnyxclient: signature mismatch")
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 of "timestamp.payload".
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + "." + string(payload)))
	return hex.EncodeToString(mac.Sum(nil))
}

func decodeDataWrapper[T any](body []byte) (*T, error) {
	var wrapper struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("telnyxclient: decode response: %w", err)
	}
	return &wrapper.Data, nil
}
