package scanner

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

// TaskLeadTick is the asynq task type for a precise lead tick.
const TaskLeadTick = "leads.tick"

// RedisClientOpt builds asynq connection options.
func RedisClientOpt(addr, password string, useTLS bool) asynq.RedisClientOpt {
	opt := asynq.RedisClientOpt{Addr: addr, Password: password}
	if useTLS {
		opt.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opt
}

// NewTickTask encodes a tick as an asynq task.
func NewTickTask(t engine.DueTick) (*asynq.Task, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("scanner: encode tick task: %w", err)
	}
	return asynq.NewTask(TaskLeadTick, data), nil
}

// ParseTickTask decodes a tick task payload.
func ParseTickTask(task *asynq.Task) (engine.DueTick, error) {
	return DecodeTick(string(task.Payload()))
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqScheduler enqueues ticks to run at a lead's next due time. It
// satisfies engine.TickScheduler.
type AsynqScheduler struct {
	client    enqueuer
	closer    func() error
	queue     string
	retention time.Duration
}

var _ engine.TickScheduler = (*AsynqScheduler)(nil)

func NewAsynqScheduler(opt asynq.RedisClientOpt, queue string) *AsynqScheduler {
	client := asynq.NewClient(opt)
	return newAsynqScheduler(client, client.Close, queue)
}

func newAsynqScheduler(client enqueuer, closer func() error, queue string) *AsynqScheduler {
	if queue == "" {
		queue = "default"
	}
	return &AsynqScheduler{client: client, closer: closer, queue: queue, retention: time.Hour}
}

// ScheduleTick enqueues one task per lead and due time. Re-arming the same
// timer is a no-op.
func (s *AsynqScheduler) ScheduleTick(ctx context.Context, key string, at time.Time) error {
	if s == nil || s.client == nil {
		return nil
	}
	task, err := NewTickTask(engine.DueTick{LeadKey: key, At: at.UTC()})
	if err != nil {
		return err
	}
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.ProcessAt(at),
		asynq.Queue(s.queue),
		asynq.TaskID(fmt.Sprintf("tick:%s:%d", key, at.Unix())),
		asynq.Retention(s.retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("scanner: schedule tick %s: %w", key, err)
	}
	return nil
}

func (s *AsynqScheduler) Close() error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}

// AsynqWorker runs precise tick tasks against a TickHandler.
type AsynqWorker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	handler TickHandler
	metrics Metrics
	logger  *logging.Logger
}

func NewAsynqWorker(opt asynq.RedisClientOpt, queue string, concurrency int, handler TickHandler, metrics Metrics, logger *logging.Logger) *AsynqWorker {
	if queue == "" {
		queue = "default"
	}
	if concurrency < 1 {
		concurrency = 10
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
	})
	w := &AsynqWorker{server: server, mux: asynq.NewServeMux(), handler: handler, metrics: metrics, logger: logger}
	w.mux.HandleFunc(TaskLeadTick, w.handleTick)
	return w
}

func (w *AsynqWorker) handleTick(ctx context.Context, task *asynq.Task) error {
	tick, err := ParseTickTask(task)
	if err != nil {
		// A payload that never decodes must not be retried.
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	res, err := w.handler.HandleTick(ctx, tick)
	if errors.Is(err, engine.ErrEffectsCommitted) {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if err != nil {
		return err
	}
	if res.Outcome == engine.OutcomeSkipped {
		w.metrics.ObserveLeaseSkipped()
	}
	return nil
}

// Run starts the server and blocks until ctx is done.
func (w *AsynqWorker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("scanner: start asynq worker: %w", err)
	}
	w.logger.Info("asynq tick worker started")
	<-ctx.Done()
	w.server.Shutdown()
	w.logger.Info("asynq tick worker stopped")
	return nil
}
