package idempotency

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps records in process. It backs the memory ledger and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	key = trimKey(key)
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[key]
	if ok && !existing.expired(now) {
		if existing.Fingerprint != fingerprint {
			return Reservation{}, ErrFingerprintMismatch
		}
		if existing.Status == StatusCompleted {
			return Reservation{State: ReservationStateCompleted, Record: existing}, nil
		}
		return Reservation{State: ReservationStatePending, Record: existing}, nil
	}

	record := Record{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(normalizeTTL(ttl)),
	}
	s.records[key] = record
	return Reservation{State: ReservationStateNew, Record: record}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	key = trimKey(key)
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	} else if record.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	record.Status = StatusCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = storableHeaders(resp.Headers)
	record.ResponseBody = nil
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(normalizeTTL(ttl))
	s.records[key] = record
	return nil
}

// Release forgets a pending key. Completed records and records owned by another fingerprint are kept.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	key = trimKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if ok && record.Fingerprint == fingerprint && record.Status == StatusPending {
		delete(s.records, key)
	}
	return nil
}

// CleanupExpired removes up to limit expired records, oldest expiry first. A non-positive limit
// removes all of them.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]Record, 0)
	for _, record := range s.records {
		if record.expired(now) {
			expired = append(expired, record)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt.Before(expired[j].ExpiresAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	for _, record := range expired {
		delete(s.records, record.Key)
	}
	return len(expired), nil
}

// Len reports how many records are held, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
