package notify

import (
	"context"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

// SMSSender sends SMS messages to staff.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// SMSFunc adapts a transport function to SMSSender.
type SMSFunc func(ctx context.Context, to, body string) error

func (f SMSFunc) SendSMS(ctx context.Context, to, body string) error {
	return f(ctx, to, body)
}

// StubSMSSender logs instead of sending.
type StubSMSSender struct {
	logger *logging.Logger
}

func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSMSSender{logger: logger}
}

func (s *StubSMSSender) SendSMS(_ context.Context, to, body string) error {
	s.logger.Info("stub SMS sender: would send", "to", to, "body_preview", truncate(body, 50))
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

var (
	_ SMSSender = SMSFunc(nil)
	_ SMSSender = (*StubSMSSender)(nil)
)
