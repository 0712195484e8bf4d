// Package scanner finds leads whose timers have elapsed and drives their
// ticks, inline or through a queue.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

// DueLister returns the keys of leads with an elapsed timer.
type DueLister interface {
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// TickHandler runs one tick. The engine's Machine satisfies it.
type TickHandler interface {
	HandleTick(ctx context.Context, tick engine.DueTick) (engine.Result, error)
}

// Metrics receives scan observations.
type Metrics interface {
	ObserveScan(status string, due int, d time.Duration)
	ObserveLeaseSkipped()
}

type nopMetrics struct{}

func (nopMetrics) ObserveScan(string, int, time.Duration) {}
func (nopMetrics) ObserveLeaseSkipped()                   {}

// Config tunes a Scanner.
type Config struct {
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

// Report summarizes one scan cycle.
type Report struct {
	Due       int
	Processed int
	Skipped   int
	Failed    int
	Enqueued  int
}

// Scanner lists due leads and either runs their ticks (when built with a
// handler) or publishes them to a queue for consumers.
type Scanner struct {
	lister  DueLister
	handler TickHandler
	queue   Queue
	cfg     Config
	metrics Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

func WithMetrics(m Metrics) Option {
	return func(s *Scanner) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

// WithQueue publishes due ticks instead of running them inline.
func WithQueue(q Queue) Option {
	return func(s *Scanner) { s.queue = q }
}

func New(lister DueLister, handler TickHandler, cfg Config, logger *logging.Logger, opts ...Option) *Scanner {
	if lister == nil {
		panic("scanner: due lister required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Scanner{lister: lister, handler: handler, cfg: cfg, metrics: nopMetrics{}, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.handler == nil && s.queue == nil {
		panic("scanner: tick handler or queue required")
	}
	return s
}

// Run scans every interval until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("scanner started", "interval", s.cfg.Interval, "batch", s.cfg.BatchSize, "queued", s.queue != nil)
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scanner: scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scanner stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one scan cycle.
func (s *Scanner) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	now := s.now().UTC()
	keys, err := s.lister.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.metrics.ObserveScan("error", 0, time.Since(start))
		return Report{}, fmt.Errorf("scanner: list due: %w", err)
	}
	rep := Report{Due: len(keys)}
	if len(keys) == 0 {
		s.metrics.ObserveScan("ok", 0, time.Since(start))
		return rep, nil
	}

	if s.queue != nil {
		rep, err = s.publish(ctx, keys, now, rep)
	} else {
		rep, err = s.process(ctx, keys, now, rep)
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveScan(status, rep.Due, time.Since(start))
	s.logger.Info("scanner: cycle complete",
		"due", rep.Due, "processed", rep.Processed, "skipped", rep.Skipped, "failed", rep.Failed, "enqueued", rep.Enqueued)
	return rep, err
}

func (s *Scanner) publish(ctx context.Context, keys []string, now time.Time, rep Report) (Report, error) {
	for _, key := range keys {
		body, err := EncodeTick(engine.DueTick{LeadKey: key, At: now})
		if err != nil {
			return rep, err
		}
		if err := s.queue.Send(ctx, body); err != nil {
			return rep, fmt.Errorf("scanner: enqueue %s: %w", key, err)
		}
		rep.Enqueued++
	}
	return rep, nil
}

func (s *Scanner) process(ctx context.Context, keys []string, now time.Time, rep Report) (Report, error) {
	var processed, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			res, err := s.handler.HandleTick(gctx, engine.DueTick{LeadKey: key, At: now})
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.Error("scanner: tick failed", "lead_key", key, "error", err)
			case res.Outcome == engine.OutcomeSkipped:
				skipped.Add(1)
				s.metrics.ObserveLeaseSkipped()
			default:
				processed.Add(1)
			}
			// One lead's failure never stops the batch.
			return nil
		})
	}
	err := g.Wait()
	rep.Processed = int(processed.Load())
	rep.Skipped = int(skipped.Load())
	rep.Failed = int(failed.Load())
	return rep, err
}

// EncodeTick serializes a tick for a queue.
func EncodeTick(t engine.DueTick) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("scanner: encode tick: %w", err)
	}
	return string(data), nil
}

// DecodeTick parses a queued tick.
func DecodeTick(body string) (engine.DueTick, error) {
	var t engine.DueTick
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return engine.DueTick{}, fmt.Errorf("scanner: decode tick: %w", err)
	}
	if t.LeadKey == "" {
		return engine.DueTick{}, fmt.Errorf("scanner: decode tick: missing lead key")
	}
	return t, nil
}
