package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/provider"
)

// Config controls how the CRM client behaves.
type Config struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	HTTPClient   *http.Client
	Policy       provider.Policy
	Logger       *slog.Logger
}

// Client calls the CRM REST API with client-credentials auth.
type Client struct {
	baseURL    string
	tokenURL   string
	clientID   string
	secret     string
	httpClient *http.Client
	policy     provider.Policy
	tokens     *TokenCache
	logger     *slog.Logger
}

var _ CRM = (*Client)(nil)

// New creates a configured Client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("crm: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Policy
	if policy.Name == "" {
		policy.Name = "crm"
	}
	policy.Logger = logger
	c := &Client{
		baseURL:    baseURL,
		tokenURL:   strings.TrimSpace(cfg.TokenURL),
		clientID:   cfg.ClientID,
		secret:     cfg.ClientSecret,
		httpClient: httpClient,
		policy:     policy,
		logger:     logger,
	}
	c.tokens = NewTokenCache(c.fetchToken, time.Minute)
	return c, nil
}

func (c *Client) ScheduleActivity(ctx context.Context, req ScheduleActivityRequest) (ActivityResult, error) {
	if req.LeadKey == "" || req.DueUTC.IsZero() {
		return ActivityResult{}, errors.New("crm: lead key and due time required")
	}
	req.DueUTC = req.DueUTC.UTC()
	data, err := c.post(ctx, "crm.scheduleActivity", "/leads/"+url.PathEscape(req.LeadKey)+"/activities", req)
	if err != nil {
		return ActivityResult{}, err
	}
	var out ActivityResult
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return ActivityResult{}, fmt.Errorf("crm: decode activity: %w", err)
		}
	}
	return out, nil
}

func (c *Client) CompleteActivity(ctx context.Context, req CompleteActivityRequest) error {
	if req.LeadKey == "" || req.ActivityID == "" {
		return errors.New("crm: lead key and activity id required")
	}
	if req.CompletedUTC.IsZero() {
		req.CompletedUTC = time.Now().UTC()
	}
	path := "/leads/" + url.PathEscape(req.LeadKey) + "/activities/" + url.PathEscape(req.ActivityID) + "/complete"
	_, err := c.post(ctx, "crm.completeActivity", path, req)
	return err
}

func (c *Client) SendEmail(ctx context.Context, req SendEmailRequest) error {
	if req.LeadKey == "" || len(req.Recipients) == 0 {
		return errors.New("crm: lead key and recipients required")
	}
	_, err := c.post(ctx, "crm.sendEmail", "/leads/"+url.PathEscape(req.LeadKey)+"/emails", req)
	return err
}

func (c *Client) AddComment(ctx context.Context, leadKey, text string) error {
	if leadKey == "" {
		return errors.New("crm: lead key required")
	}
	body := struct {
		Text string `json:"text"`
	}{Text: text}
	_, err := c.post(ctx, "crm.addComment", "/leads/"+url.PathEscape(leadKey)+"/comments", body)
	return err
}

func (c *Client) post(ctx context.Context, op, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("crm: marshal %s: %w", op, err)
	}
	data, err := provider.Invoke(ctx, c.httpClient, c.policy, provider.Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    c.baseURL + path,
		Body:   body,
		Header: c.authorize,
	})
	var perm *provider.PermanentProviderError
	if errors.As(err, &perm) && perm.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
	}
	return data, err
}

func (c *Client) authorize(ctx context.Context, h http.Header) error {
	if c.tokenURL == "" {
		return nil
	}
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return err
	}
	h.Set("Authorization", "Bearer "+token)
	return nil
}

func (c *Client) fetchToken(ctx context.Context) (Token, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.secret)

	data, err := provider.Invoke(ctx, c.httpClient, c.policy, provider.Request{
		Op:          "crm.token",
		Method:      http.MethodPost,
		URL:         c.tokenURL,
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return Token{}, err
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return Token{}, fmt.Errorf("crm: decode token: %w", err)
	}
	if resp.AccessToken == "" {
		return Token{}, errors.New("crm: token response missing access_token")
	}
	ttl := time.Duration(resp.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return Token{Value: resp.AccessToken, ExpiresAt: time.Now().Add(ttl)}, nil
}
