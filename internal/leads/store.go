package leads

import (
	"context"
	"time"
)

// Store persists lead aggregates.
type Store interface {
	// FindByKey loads a lead and stamps Hash with its stored snapshot hash.
	FindByKey(ctx context.Context, key string) (*Lead, error)
	// FindByContact resolves a lead from an email address or E.164 phone number.
	FindByContact(ctx context.Context, channel Channel, address string) (*Lead, error)
	Create(ctx context.Context, lead *Lead) error
	// Patch writes the lead only if the stored hash still equals expectedHash.
	Patch(ctx context.Context, lead *Lead, expectedHash string) error
	// ListDue returns keys of non-terminal leads with a timer at or before now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Leaser grants short-lived exclusive processing rights on a lead.
type Leaser interface {
	// AcquireLease returns ok=false without error when another holder owns an unexpired lease.
	AcquireLease(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	ReleaseLease(ctx context.Context, key, token string) error
}

// stamp prepares a lead for writing and returns its new snapshot hash.
func stamp(lead *Lead, now time.Time) (string, error) {
	lead.UpdatedAt = now.UTC()
	if lead.CreatedAt.IsZero() {
		lead.CreatedAt = lead.UpdatedAt
	}
	return SnapshotHash(lead)
}
