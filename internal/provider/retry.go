package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CallObserver receives one observation per collaborator call.
type CallObserver interface {
	ObserveCall(collaborator, outcome string, d time.Duration)
}

// Policy bounds a collaborator call: a timeout per attempt and a small retry budget.
type Policy struct {
	Name       string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	Logger     *slog.Logger
	Observer   CallObserver
}

// DefaultPolicy returns the policy used when a collaborator is not configured explicitly.
func DefaultPolicy(name string) Policy {
	return Policy{Name: name, Timeout: 15 * time.Second, MaxRetries: 3, Backoff: 250 * time.Millisecond}
}

func (p Policy) normalized() Policy {
	if p.Timeout <= 0 {
		p.Timeout = 15 * time.Second
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Backoff <= 0 {
		p.Backoff = 250 * time.Millisecond
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

// Retry runs fn until it succeeds, fails with a non-transient error, or the retry budget is spent.
// Each attempt gets its own timeout. Exhausted transient failures wrap ErrDeliveryFailed.
func Retry(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := fn(attemptCtx)
		cancel()
		p.observe(err, time.Since(start))
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) && !IsTransient(err) {
			err = &TransientProviderError{Op: op, Err: err}
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err
		if attempt == p.MaxRetries {
			break
		}
		p.Logger.Warn("collaborator retry",
			"collaborator", p.Name,
			"op", op,
			"attempt", attempt+1,
			"error", err,
		)
		if sleepErr := sleep(ctx, p.Backoff, attempt); sleepErr != nil {
			return sleepErr
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrDeliveryFailed, op, lastErr)
}

func (p Policy) observe(err error, d time.Duration) {
	if p.Observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case IsPermanent(err):
		outcome = "permanent"
	case IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		outcome = "transient"
	default:
		outcome = "error"
	}
	p.Observer.ObserveCall(p.Name, outcome, d)
}

func sleep(ctx context.Context, backoff time.Duration, attempt int) error {
	delay := backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
