package leads

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryRecord struct {
	lead       *Lead
	hash       string
	leaseToken string
	leaseUntil time.Time
}

// MemoryStore is an in-process Store and Leaser for tests and offline mode.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*memoryRecord
	now     func() time.Time
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Leaser = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*memoryRecord), now: time.Now}
}

// WithClock overrides the lease clock.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) FindByKey(_ context.Context, key string) (*Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.lead.Clone()
	out.Hash = rec.hash
	return out, nil
}

func (s *MemoryStore) FindByContact(_ context.Context, channel Channel, address string) (*Lead, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rec := s.records[k]
		if strings.EqualFold(rec.lead.Address(channel), address) {
			out := rec.lead.Clone()
			out.Hash = rec.hash
			return out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Create(_ context.Context, lead *Lead) error {
	if lead == nil || strings.TrimSpace(lead.Key) == "" {
		return ErrMissingKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[lead.Key]; ok {
		return ErrExists
	}
	hash, err := stamp(lead, s.now())
	if err != nil {
		return err
	}
	lead.Hash = hash
	s.records[lead.Key] = &memoryRecord{lead: lead.Clone(), hash: hash}
	return nil
}

func (s *MemoryStore) Patch(_ context.Context, lead *Lead, expectedHash string) error {
	if lead == nil || lead.Key == "" {
		return ErrMissingKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[lead.Key]
	if !ok {
		return ErrNotFound
	}
	if rec.hash != expectedHash {
		return ErrConflict
	}
	hash, err := stamp(lead, s.now())
	if err != nil {
		return err
	}
	lead.Hash = hash
	rec.lead = lead.Clone()
	rec.hash = hash
	return nil
}

func (s *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type due struct {
		key string
		at  time.Time
	}
	var candidates []due
	for key, rec := range s.records {
		next := rec.lead.NextDueAt()
		if next == nil || next.After(now) {
			continue
		}
		candidates = append(candidates, due{key: key, at: *next})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].at.Equal(candidates[j].at) {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].at.Before(candidates[j].at)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.key
	}
	return keys, nil
}

func (s *MemoryStore) AcquireLease(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return "", false, ErrNotFound
	}
	now := s.now()
	if rec.leaseToken != "" && now.Before(rec.leaseUntil) {
		return "", false, nil
	}
	rec.leaseToken = newLeaseToken()
	rec.leaseUntil = now.Add(ttl)
	return rec.leaseToken, true, nil
}

func (s *MemoryStore) ReleaseLease(_ context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	if rec.leaseToken == token {
		rec.leaseToken = ""
		rec.leaseUntil = time.Time{}
	}
	return nil
}
