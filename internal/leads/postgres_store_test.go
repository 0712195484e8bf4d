package leads

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	now := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)
	return newPostgresStoreWithQuerier(mock, func() time.Time { return now }), mock
}

func TestPostgresStoreFindByKey(t *testing.T) {
	store, mock := newMockStore(t)
	lead := NewLead("opp-9", time.Now())
	lead.Mode = ModeConvo
	data, _ := json.Marshal(lead)

	mock.ExpectQuery("SELECT data, snapshot_hash FROM leads").WithArgs("opp-9").
		WillReturnRows(pgxmock.NewRows([]string{"data", "snapshot_hash"}).AddRow(data, "h1"))
	got, err := store.FindByKey(context.Background(), "opp-9")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Mode != ModeConvo || got.Hash != "h1" {
		t.Fatalf("unexpected lead %+v", got)
	}

	mock.ExpectQuery("SELECT data, snapshot_hash FROM leads").WithArgs("opp-bad").
		WillReturnRows(pgxmock.NewRows([]string{"data", "snapshot_hash"}).AddRow([]byte(`{"key":"opp-bad","mode":"PAUSED"}`), "h2"))
	if _, err := store.FindByKey(context.Background(), "opp-bad"); err == nil || !strings.Contains(err.Error(), "unknown mode") {
		t.Fatalf("expected unknown mode to be rejected, got %v", err)
	}

	mock.ExpectQuery("SELECT data, snapshot_hash FROM leads").WithArgs("missing").WillReturnError(pgx.ErrNoRows)
	if _, err := store.FindByKey(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStorePatchConflict(t *testing.T) {
	store, mock := newMockStore(t)
	lead := NewLead("opp-9", time.Now())

	mock.ExpectExec("UPDATE leads").
		WithArgs("opp-9", pgxmock.AnyArg(), pgxmock.AnyArg(), "NEW", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "stale").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM leads").WithArgs("opp-9").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))

	if err := store.Patch(context.Background(), lead, "stale"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mock.ExpectExec("UPDATE leads").
		WithArgs("opp-9", pgxmock.AnyArg(), pgxmock.AnyArg(), "NEW", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "current").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.Patch(context.Background(), lead, "current"); err != nil {
		t.Fatalf("patch: %v", err)
	}
	if lead.Hash == "" || lead.Hash == "current" {
		t.Fatalf("expected new hash stamped, got %q", lead.Hash)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreLease(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE leads SET lease_token").
		WithArgs("opp-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	token, ok, err := store.AcquireLease(context.Background(), "opp-1", time.Minute)
	if err != nil || !ok || token == "" {
		t.Fatalf("expected lease, got %q %v %v", token, ok, err)
	}

	mock.ExpectExec("UPDATE leads SET lease_token").
		WithArgs("opp-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	if _, ok, err := store.AcquireLease(context.Background(), "opp-1", time.Minute); ok || err != nil {
		t.Fatalf("expected lease held elsewhere, got ok=%v err=%v", ok, err)
	}

	mock.ExpectExec("UPDATE leads SET lease_token = NULL").WithArgs("opp-1", token).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.ReleaseLease(context.Background(), "opp-1", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresStoreListDue(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2025, 2, 3, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT key FROM leads").WithArgs(now, 50).
		WillReturnRows(pgxmock.NewRows([]string{"key"}).AddRow("a").AddRow("b"))
	keys, err := store.ListDue(context.Background(), now, 50)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
