package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultTxAttempts = 3
	defaultTxTimeout  = 15 * time.Second
	retryBackoff      = 25 * time.Millisecond
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides how many times a transaction is attempted on serialization or deadlock failures.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// DB routes repository statements either to the pool or to the transaction carried by the context.
type DB struct {
	pool *pgxpool.Pool
	cfg  txConfig
}

// NewDB wraps the pool. Options apply to every RunInTx call.
func NewDB(pool *pgxpool.Pool, opts ...TxOption) *DB {
	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &DB{pool: pool, cfg: cfg}
}

// Pool exposes the underlying pool.
func (d *DB) Pool() *pgxpool.Pool {
	if d == nil {
		return nil
	}
	return d.pool
}

// Querier returns the transaction bound to ctx, or the pool when ctx carries none.
func (d *DB) Querier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok && tx != nil {
		return tx
	}
	return d.pool
}

// InTx reports whether ctx carries an open transaction. Repositories use it to decide whether
// reads should take row locks.
func InTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok && tx != nil
}

// RunInTx executes fn inside a transaction. Nested calls join the outer transaction. Serialization
// failures and deadlocks restart fn from scratch until the attempt budget is spent.
func (d *DB) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if d == nil || d.pool == nil {
		return WrapError("transaction", errors.New("postgres: pool is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("postgres: transaction function is nil"))
	}
	if InTx(ctx) {
		return fn(ctx)
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if d.cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > d.cfg.timeout {
			txnCtx, cancel = context.WithTimeout(ctx, d.cfg.timeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	var err error
	for attempt := 1; attempt <= d.cfg.attempts; attempt++ {
		err = d.runOnce(txnCtx, fn)
		if err == nil || !isRetryable(err) || attempt == d.cfg.attempts {
			break
		}
		select {
		case <-txnCtx.Done():
			return txnCtx.Err()
		case <-time.After(time.Duration(attempt) * retryBackoff):
		}
	}
	return err
}

func (d *DB) runOnce(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return WrapError("transaction.begin", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return WrapError("transaction.commit", err)
	}
	return nil
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
	}
	return false
}
