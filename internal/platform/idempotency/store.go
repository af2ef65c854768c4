// Package idempotency replays stored responses for mutating requests that repeat an
// Idempotency-Key, so client retries of order creation never place a second order.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a key is remembered when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// Status is the persisted state of a key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// ReservationState is the outcome of Reserve.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and must either save a response or release it.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means a stored response exists and should be replayed.
	ReservationStateCompleted
	// ReservationStatePending means another request holds the key.
	ReservationStatePending
)

// Reservation is returned by Reserve together with the current record.
type Reservation struct {
	State  ReservationState
	Record Record
}

// Record is one remembered key.
type Record struct {
	Key             string
	Fingerprint     string
	Status          Status
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

func (r Record) expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Response is the captured handler output.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and responses. Implementations must make Reserve atomic: two
// concurrent callers with the same key never both observe ReservationStateNew.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch reports a key reused for a request with different content.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hop-by-hop and per-connection headers are never replayed.
var skippedHeaders = map[string]struct{}{
	"Content-Length":      {},
	"Date":                {},
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func storableHeaders(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := skippedHeaders[canonical]; skip {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func replayHeaders(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[name] = append([]string(nil), vals...)
	}
	return header
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func trimKey(key string) string {
	return strings.TrimSpace(key)
}
