package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var pgTracer = otel.Tracer("leadengine.leads.postgres")

type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore keeps each lead as a JSONB document with indexed contact, due and lease columns.
type PostgresStore struct {
	db  pgQuerier
	now func() time.Time
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Leaser = (*PostgresStore)(nil)
)

// NewPostgresStore initializes a store backed by pgxpool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresStore{db: pool, now: time.Now}
}

func newPostgresStoreWithQuerier(db pgQuerier, now func() time.Time) *PostgresStore {
	return &PostgresStore{db: db, now: now}
}

const selectLeadColumns = `SELECT data, snapshot_hash FROM leads`

func (s *PostgresStore) FindByKey(ctx context.Context, key string) (*Lead, error) {
	ctx, span := pgTracer.Start(ctx, "leads.FindByKey")
	defer span.End()
	span.SetAttributes(attribute.String("lead.key", key))

	return s.scanOne(s.db.QueryRow(ctx, selectLeadColumns+` WHERE key = $1`, key))
}

func (s *PostgresStore) FindByContact(ctx context.Context, channel Channel, address string) (*Lead, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrNotFound
	}
	var query string
	switch channel {
	case ChannelEmail:
		query = selectLeadColumns + ` WHERE lower(email) = lower($1) ORDER BY created_at DESC LIMIT 1`
	case ChannelSMS:
		query = selectLeadColumns + ` WHERE phone = $1 ORDER BY created_at DESC LIMIT 1`
	default:
		return nil, fmt.Errorf("leads: unsupported channel %q", channel)
	}
	return s.scanOne(s.db.QueryRow(ctx, query, address))
}

func (s *PostgresStore) scanOne(row pgx.Row) (*Lead, error) {
	var (
		data []byte
		hash string
	)
	if err := row.Scan(&data, &hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	lead, err := decodeLead(data)
	if err != nil {
		return nil, err
	}
	lead.Hash = hash
	return lead, nil
}

func (s *PostgresStore) Create(ctx context.Context, lead *Lead) error {
	if lead == nil || strings.TrimSpace(lead.Key) == "" {
		return ErrMissingKey
	}
	hash, err := stamp(lead, s.now())
	if err != nil {
		return fmt.Errorf("leads: hash failed: %w", err)
	}
	data, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("leads: encode failed: %w", err)
	}
	query := `
		INSERT INTO leads (key, email, phone, mode, data, snapshot_hash, next_due_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO NOTHING
	`
	ct, err := s.db.Exec(ctx, query,
		lead.Key,
		nullIfEmpty(lead.Email),
		nullIfEmpty(lead.Phone),
		string(lead.Mode),
		data,
		hash,
		lead.NextDueAt(),
		lead.CreatedAt,
		lead.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("leads: insert failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrExists
	}
	lead.Hash = hash
	return nil
}

func (s *PostgresStore) Patch(ctx context.Context, lead *Lead, expectedHash string) error {
	ctx, span := pgTracer.Start(ctx, "leads.Patch")
	defer span.End()

	if lead == nil || lead.Key == "" {
		return ErrMissingKey
	}
	hash, err := stamp(lead, s.now())
	if err != nil {
		return fmt.Errorf("leads: hash failed: %w", err)
	}
	data, err := json.Marshal(lead)
	if err != nil {
		return fmt.Errorf("leads: encode failed: %w", err)
	}
	query := `
		UPDATE leads
		SET email = $2, phone = $3, mode = $4, data = $5, snapshot_hash = $6, next_due_at = $7, updated_at = $8
		WHERE key = $1 AND snapshot_hash = $9
	`
	ct, err := s.db.Exec(ctx, query,
		lead.Key,
		nullIfEmpty(lead.Email),
		nullIfEmpty(lead.Phone),
		string(lead.Mode),
		data,
		hash,
		lead.NextDueAt(),
		lead.UpdatedAt,
		expectedHash,
	)
	if err != nil {
		return fmt.Errorf("leads: update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		var exists int
		if err := s.db.QueryRow(ctx, `SELECT 1 FROM leads WHERE key = $1`, lead.Key).Scan(&exists); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("leads: conflict check failed: %w", err)
		}
		return ErrConflict
	}
	lead.Hash = hash
	return nil
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT key FROM leads
		WHERE next_due_at IS NOT NULL AND next_due_at <= $1 AND mode IN ('CADENCE', 'CONVO')
		ORDER BY next_due_at
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("leads: list due failed: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("leads: scan due failed: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) AcquireLease(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := newLeaseToken()
	now := s.now().UTC()
	query := `
		UPDATE leads SET lease_token = $2, lease_expires_at = $3
		WHERE key = $1 AND (lease_token IS NULL OR lease_expires_at <= $4)
	`
	ct, err := s.db.Exec(ctx, query, key, token, now.Add(ttl), now)
	if err != nil {
		return "", false, fmt.Errorf("leads: acquire lease failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return "", false, nil
	}
	return token, true, nil
}

func (s *PostgresStore) ReleaseLease(ctx context.Context, key, token string) error {
	query := `UPDATE leads SET lease_token = NULL, lease_expires_at = NULL WHERE key = $1 AND lease_token = $2`
	if _, err := s.db.Exec(ctx, query, key, token); err != nil {
		return fmt.Errorf("leads: release lease failed: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
