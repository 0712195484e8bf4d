package llm

import (
	"context"
	"log/slog"
)

// FallbackClient retries a failed completion on a secondary provider.
type FallbackClient struct {
	primary  Client
	fallback Client
	logger   *slog.Logger
}

func NewFallbackClient(primary, fallback Client, logger *slog.Logger) *FallbackClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackClient{primary: primary, fallback: fallback, logger: logger}
}

func (c *FallbackClient) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if c.fallback == nil || ctx.Err() != nil {
		return Response{}, err
	}
	c.logger.Warn("primary llm failed, trying fallback", "error", err)
	resp, fbErr := c.fallback.Complete(ctx, req)
	if fbErr != nil {
		c.logger.Error("fallback llm failed", "primary_error", err, "fallback_error", fbErr)
		return Response{}, fbErr
	}
	return resp, nil
}
