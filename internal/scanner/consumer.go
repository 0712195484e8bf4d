package scanner

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

const (
	receiveBatch = 10
	receiveWait  = 20
)

// Consumer drains a tick queue into a TickHandler.
type Consumer struct {
	queue       Queue
	handler     TickHandler
	concurrency int
	metrics     Metrics
	logger      *logging.Logger
}

func NewConsumer(queue Queue, handler TickHandler, concurrency int, metrics Metrics, logger *logging.Logger) *Consumer {
	if queue == nil || handler == nil {
		panic("scanner: consumer requires queue and handler")
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Consumer{queue: queue, handler: handler, concurrency: concurrency, metrics: metrics, logger: logger}
}

// Run receives and handles ticks until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msgs, err := c.queue.Receive(ctx, receiveBatch, receiveWait)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("scanner: receive failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		c.HandleBatch(ctx, msgs)
	}
}

// HandleBatch processes msgs concurrently. Messages whose tick failed are
// left on the queue for redelivery.
func (c *Consumer) HandleBatch(ctx context.Context, msgs []Message) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, msg := range msgs {
		msg := msg
		g.Go(func() error {
			c.handle(gctx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (c *Consumer) handle(ctx context.Context, msg Message) {
	tick, err := DecodeTick(msg.Body)
	if err != nil {
		c.logger.Error("scanner: dropping malformed tick", "message_id", msg.ID, "error", err)
		c.delete(ctx, msg)
		return
	}
	res, err := c.handler.HandleTick(ctx, tick)
	if errors.Is(err, engine.ErrEffectsCommitted) {
		c.logger.Error("scanner: tick sent but lead not saved, not redelivering", "lead_key", tick.LeadKey, "error", err)
		c.delete(ctx, msg)
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Error("scanner: tick failed, leaving for redelivery", "lead_key", tick.LeadKey, "error", err)
		return
	}
	if res.Outcome == engine.OutcomeSkipped {
		c.metrics.ObserveLeaseSkipped()
	}
	c.delete(ctx, msg)
}

func (c *Consumer) delete(ctx context.Context, msg Message) {
	if err := c.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		c.logger.Warn("scanner: delete failed", "message_id", msg.ID, "error", err)
	}
}
