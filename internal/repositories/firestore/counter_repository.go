// Package firestore implements the sequence counter and activity log on Firestore, for deployments
// that keep the stock ledger in Postgres but share counters and audit data across services.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/hanko-field/orderledger/internal/platform/firestore"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository hands out sequence values from a transactional document per counter. Values
// are not returned when the caller's Postgres transaction rolls back, so sequences may have gaps.
type CounterRepository struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{provider: provider, clock: time.Now}, nil
}

// Next atomically adds step to the counter and returns the new value. A missing counter starts at zero.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step <= 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	coll, err := r.provider.Collection(ctx, countersCollection)
	if err != nil {
		return 0, err
	}
	ref := coll.Doc(id)
	now := r.clock().UTC()

	var next int64
	err = r.provider.RunTransaction(ctx, "counters.next", func(ctx context.Context, tx *firestore.Transaction) error {
		var doc counterDocument
		snap, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.OK:
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("decode counter %s: %w", id, err)
			}
		case codes.NotFound:
		default:
			return err
		}
		doc.CurrentValue += step
		doc.UpdatedAt = now
		next = doc.CurrentValue
		return tx.Set(ref, doc)
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
