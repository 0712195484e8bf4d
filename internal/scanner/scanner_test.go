package scanner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowzek/gpt-lead-autoresponder-sub000/internal/engine"
	"github.com/knowzek/gpt-lead-autoresponder-sub000/pkg/logging"
)

type staticLister struct {
	keys  []string
	err   error
	limit int
}

func (l *staticLister) ListDue(_ context.Context, _ time.Time, limit int) ([]string, error) {
	l.limit = limit
	return l.keys, l.err
}

type fakeHandler struct {
	mu       sync.Mutex
	seen     []string
	outcomes map[string]engine.Outcome
	errs     map[string]error
}

func (h *fakeHandler) HandleTick(_ context.Context, t engine.DueTick) (engine.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, t.LeadKey)
	if err := h.errs[t.LeadKey]; err != nil {
		return engine.Result{LeadKey: t.LeadKey}, err
	}
	out := engine.OutcomeSent
	if o, ok := h.outcomes[t.LeadKey]; ok {
		out = o
	}
	return engine.Result{LeadKey: t.LeadKey, Outcome: out}, nil
}

func (h *fakeHandler) keys() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := append([]string(nil), h.seen...)
	sort.Strings(out)
	return out
}

type countingMetrics struct {
	mu      sync.Mutex
	skipped int
	scans   []string
}

func (m *countingMetrics) ObserveScan(status string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans = append(m.scans, status)
}

func (m *countingMetrics) ObserveLeaseSkipped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.skipped++
}

func TestRunOnce_ProcessesInline(t *testing.T) {
	lister := &staticLister{keys: []string{"a", "b", "c", "d"}}
	handler := &fakeHandler{
		outcomes: map[string]engine.Outcome{"b": engine.OutcomeSkipped},
		errs:     map[string]error{"c": errors.New("store down")},
	}
	metrics := &countingMetrics{}
	s := New(lister, handler, Config{BatchSize: 50, Concurrency: 2}, nil, WithMetrics(metrics))

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Report{Due: 4, Processed: 2, Skipped: 1, Failed: 1}, rep)
	assert.Equal(t, []string{"a", "b", "c", "d"}, handler.keys())
	assert.Equal(t, 50, lister.limit)
	assert.Equal(t, 1, metrics.skipped)
	assert.Equal(t, []string{"ok"}, metrics.scans)
}

func TestRunOnce_ListError(t *testing.T) {
	metrics := &countingMetrics{}
	s := New(&staticLister{err: errors.New("timeout")}, &fakeHandler{}, Config{}, nil, WithMetrics(metrics))
	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Equal(t, []string{"error"}, metrics.scans)
}

func TestRunOnce_PublishesToQueueThenConsumerDrains(t *testing.T) {
	now := time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC)
	queue := NewMemoryQueue(10)
	s := New(&staticLister{keys: []string{"lead-1", "lead-2"}}, nil, Config{}, nil,
		WithQueue(queue), WithClock(func() time.Time { return now }))

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Enqueued)
	assert.Equal(t, 2, queue.Len())

	handler := &fakeHandler{outcomes: map[string]engine.Outcome{"lead-2": engine.OutcomeSkipped}}
	metrics := &countingMetrics{}
	consumer := NewConsumer(queue, handler, 2, metrics, logging.Default())
	msgs, err := queue.Receive(context.Background(), 10, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	consumer.HandleBatch(context.Background(), msgs)

	assert.Equal(t, []string{"lead-1", "lead-2"}, handler.keys())
	assert.Equal(t, 1, metrics.skipped)
}

func TestDecodeTick(t *testing.T) {
	at := time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC)
	body, err := EncodeTick(engine.DueTick{LeadKey: "opp-1", At: at})
	require.NoError(t, err)
	tick, err := DecodeTick(body)
	require.NoError(t, err)
	assert.Equal(t, "opp-1", tick.LeadKey)
	assert.True(t, tick.At.Equal(at))

	_, err = DecodeTick(`{"at":"2025-03-10T16:00:00Z"}`)
	assert.Error(t, err)
	_, err = DecodeTick(`nope`)
	assert.Error(t, err)
}

func TestMemoryQueueReceiveTimesOut(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	msgs, err := q.Receive(ctx, 1, 0)
	assert.Nil(t, msgs)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fakeSQS struct {
	sent     []string
	deleted  []string
	messages []sqstypes.Message
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(in.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueConsumerDeletesOnlyHandled(t *testing.T) {
	client := &fakeSQS{messages: []sqstypes.Message{
		{MessageId: aws.String("m1"), Body: aws.String(`{"leadKey":"ok"}`), ReceiptHandle: aws.String("r1")},
		{MessageId: aws.String("m2"), Body: aws.String(`{"leadKey":"broken"}`), ReceiptHandle: aws.String("r2")},
		{MessageId: aws.String("m3"), Body: aws.String(`garbage`), ReceiptHandle: aws.String("r3")},
		{MessageId: aws.String("m4"), Body: aws.String(`{"leadKey":"unsaved"}`), ReceiptHandle: aws.String("r4")},
	}}
	q := NewSQSQueue(client, "https://sqs.us-east-1.amazonaws.com/123/ticks")
	require.NoError(t, q.Send(context.Background(), `{"leadKey":"x"}`))
	assert.Equal(t, []string{`{"leadKey":"x"}`}, client.sent)

	msgs, err := q.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	handler := &fakeHandler{errs: map[string]error{
		"broken":  errors.New("persist failed"),
		"unsaved": engine.ErrEffectsCommitted,
	}}
	NewConsumer(q, handler, 1, nil, nil).HandleBatch(context.Background(), msgs)

	sort.Strings(client.deleted)
	assert.Equal(t, []string{"r1", "r3", "r4"}, client.deleted, "failed ticks stay queued; malformed and already-sent ones are dropped")
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: "t1"}, nil
}

func TestAsynqScheduler(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := newAsynqScheduler(enq, nil, "")
	at := time.Date(2025, 3, 11, 14, 0, 0, 0, time.UTC)
	require.NoError(t, s.ScheduleTick(context.Background(), "opp-1", at))
	require.Len(t, enq.tasks, 1)
	assert.Equal(t, TaskLeadTick, enq.tasks[0].Type())

	tick, err := ParseTickTask(enq.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "opp-1", tick.LeadKey)
	assert.True(t, tick.At.Equal(at))

	enq.err = asynq.ErrTaskIDConflict
	assert.NoError(t, s.ScheduleTick(context.Background(), "opp-1", at), "re-arming the same timer is not an error")
	enq.err = errors.New("redis down")
	assert.Error(t, s.ScheduleTick(context.Background(), "opp-1", at))
}

func TestAsynqWorkerHandleTick(t *testing.T) {
	handler := &fakeHandler{
		outcomes: map[string]engine.Outcome{"busy": engine.OutcomeSkipped},
		errs:     map[string]error{"unsaved": engine.ErrEffectsCommitted},
	}
	metrics := &countingMetrics{}
	w := &AsynqWorker{handler: handler, metrics: metrics, logger: logging.Default()}

	task, err := NewTickTask(engine.DueTick{LeadKey: "busy", At: time.Now()})
	require.NoError(t, err)
	require.NoError(t, w.handleTick(context.Background(), task))
	assert.Equal(t, 1, metrics.skipped)

	err = w.handleTick(context.Background(), asynq.NewTask(TaskLeadTick, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)

	task, err = NewTickTask(engine.DueTick{LeadKey: "unsaved", At: time.Now()})
	require.NoError(t, err)
	assert.ErrorIs(t, w.handleTick(context.Background(), task), asynq.SkipRetry, "a sent tick is never retried")
}
