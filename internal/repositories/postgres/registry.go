package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	ppostgres "github.com/hanko-field/orderledger/internal/platform/postgres"
	"github.com/hanko-field/orderledger/internal/repositories"
)

// Registry wires the Postgres backed repositories around a shared pool. Counters and activity may be
// swapped for other backends with the corresponding options.
type Registry struct {
	db       *ppostgres.DB
	skus     *SKURepository
	orders   *OrderRepository
	payments *PaymentRepository
	activity repositories.ActivityRepository
	counters repositories.CounterRepository
	closers  []func(context.Context) error
}

// RegistryOption customises the registry.
type RegistryOption func(*Registry)

// WithActivityRepository replaces the Postgres activity log.
func WithActivityRepository(repo repositories.ActivityRepository) RegistryOption {
	return func(r *Registry) {
		if repo != nil {
			r.activity = repo
		}
	}
}

// WithCounterRepository replaces the Postgres counter table.
func WithCounterRepository(repo repositories.CounterRepository) RegistryOption {
	return func(r *Registry) {
		if repo != nil {
			r.counters = repo
		}
	}
}

// WithCloser registers an extra shutdown hook run by Close.
func WithCloser(fn func(context.Context) error) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.closers = append(r.closers, fn)
		}
	}
}

// NewRegistry builds the registry. The pool is closed by Close.
func NewRegistry(pool *pgxpool.Pool, txOpts []ppostgres.TxOption, opts ...RegistryOption) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("postgres registry: pool is required")
	}
	db := ppostgres.NewDB(pool, txOpts...)
	reg := &Registry{
		db:       db,
		skus:     NewSKURepository(db),
		orders:   NewOrderRepository(db),
		payments: NewPaymentRepository(db),
		activity: NewActivityRepository(db),
		counters: NewCounterRepository(db),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(reg)
		}
	}
	return reg, nil
}

// SKUs returns the stock ledger.
func (r *Registry) SKUs() repositories.SKURepository { return r.skus }

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Payments returns the payment repository.
func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }

// Activity returns the activity log repository.
func (r *Registry) Activity() repositories.ActivityRepository { return r.activity }

// Counters returns the sequence repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// RunInTx executes fn inside one Postgres transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunInTx(ctx, fn)
}

// DB exposes the transaction router for components sharing the pool.
func (r *Registry) DB() *ppostgres.DB { return r.db }

// Close runs registered hooks and closes the pool.
func (r *Registry) Close(ctx context.Context) error {
	var errs []error
	for _, fn := range r.closers {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if pool := r.db.Pool(); pool != nil {
		pool.Close()
	}
	return errors.Join(errs...)
}
