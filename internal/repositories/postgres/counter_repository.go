package postgres

import (
	"context"
	"fmt"
	"strings"

	ppostgres "github.com/hanko-field/orderledger/internal/platform/postgres"
	"github.com/hanko-field/orderledger/internal/repositories"
)

// CounterRepository implements repositories.CounterRepository with an upserted counters row. Called
// inside a transaction the row stays locked until commit, so a rolled back order does not burn a value.
type CounterRepository struct {
	db *ppostgres.DB
}

// NewCounterRepository constructs the counter repository.
func NewCounterRepository(db *ppostgres.DB) *CounterRepository {
	return &CounterRepository{db: db}
}

// Next increments the counter by step, creating it on first use, and returns the new value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}
	if step == 0 {
		step = 1
	}

	var value int64
	err := r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO counters (id, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET value = counters.value + EXCLUDED.value, updated_at = now()
		RETURNING value`, id, step).Scan(&value)
	if err != nil {
		return 0, ppostgres.WrapError("counters.next", err)
	}
	return value, nil
}
