package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func TestProcessedStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("twilio", "SM1").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := store.MarkProcessed(context.Background(), "twilio", "SM1")
	if err != nil || !ok {
		t.Fatalf("expected mark processed success, got %v %v", ok, err)
	}

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("twilio", "SM1").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	ok, err = store.MarkProcessed(context.Background(), "twilio", "SM1")
	if err != nil || ok {
		t.Fatalf("expected duplicate claim to return false, got %v %v", ok, err)
	}

	mock.ExpectExec("DELETE FROM processed_events WHERE provider").WithArgs("twilio", "SM1").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	if err := store.Forget(context.Background(), "twilio", "SM1"); err != nil {
		t.Fatalf("forget: %v", err)
	}

	cutoff := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM processed_events WHERE processed_at").WithArgs(cutoff).WillReturnResult(pgxmock.NewResult("DELETE", 4))
	n, err := store.Prune(context.Background(), cutoff)
	if err != nil || n != 4 {
		t.Fatalf("expected 4 pruned, got %d %v", n, err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessedStoreExecError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)
	mock.ExpectExec("INSERT INTO processed_events").WithArgs("crm", "x").WillReturnError(errors.New("conn reset"))
	if _, err := store.MarkProcessed(context.Background(), "crm", "x"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMemoryDeduper(t *testing.T) {
	d := NewMemoryDeduper()
	ctx := context.Background()
	if ok, _ := d.MarkProcessed(ctx, "telnyx", "m1"); !ok {
		t.Fatalf("first claim should succeed")
	}
	if ok, _ := d.MarkProcessed(ctx, "telnyx", "m1"); ok {
		t.Fatalf("second claim should fail")
	}
	if ok, _ := d.MarkProcessed(ctx, "twilio", "m1"); !ok {
		t.Fatalf("claims are per provider")
	}
	_ = d.Forget(ctx, "telnyx", "m1")
	if ok, _ := d.MarkProcessed(ctx, "telnyx", "m1"); !ok {
		t.Fatalf("claim after forget should succeed")
	}
}

type countingPruner struct {
	mu      sync.Mutex
	cutoffs []time.Time
	err     error
}

func (p *countingPruner) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, cutoff)
	return 2, p.err
}

func (p *countingPruner) runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestPruneLoop(t *testing.T) {
	p := &countingPruner{err: errors.New("db down")}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- PruneLoop(ctx, p, 72*time.Hour, 10*time.Millisecond, nil) }()

	deadline := time.Now().Add(2 * time.Second)
	for p.runs() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("expected clean stop, got %v", err)
	}
	if p.runs() < 2 {
		t.Fatalf("expected a failed prune to be retried on the next interval, runs=%d", p.runs())
	}

	p.mu.Lock()
	first := p.cutoffs[0]
	p.mu.Unlock()
	if age := time.Since(first); age < 72*time.Hour || age > 73*time.Hour {
		t.Fatalf("expected cutoff 72h in the past, got %s", age)
	}
}
