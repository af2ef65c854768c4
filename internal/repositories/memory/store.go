// Package memory provides a process-local repository registry used by tests and by the API when
// API_LEDGER_STORE=memory. A transaction holds the store lock for its whole duration and restores a
// snapshot when fn fails.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/pagination"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type txKey struct{ store *Store }

type state struct {
	skus     map[string]domain.SKU
	orders   map[string]domain.Order
	payments map[string][]domain.Payment
	activity []domain.ActivityEntry
	counters map[string]int64
}

func (s state) clone() state {
	out := state{
		skus:     make(map[string]domain.SKU, len(s.skus)),
		orders:   make(map[string]domain.Order, len(s.orders)),
		payments: make(map[string][]domain.Payment, len(s.payments)),
		activity: append([]domain.ActivityEntry(nil), s.activity...),
		counters: make(map[string]int64, len(s.counters)),
	}
	for k, v := range s.skus {
		out.skus[k] = v
	}
	for k, v := range s.orders {
		out.orders[k] = cloneOrder(v)
	}
	for k, v := range s.payments {
		out.payments[k] = append([]domain.Payment(nil), v...)
	}
	for k, v := range s.counters {
		out.counters[k] = v
	}
	return out
}

// Store is an in-memory implementation of repositories.Registry.
type Store struct {
	mu    sync.Mutex
	state state
	now   func() time.Time
	// FailNext, when set, is consulted before every mutating call and may inject an error.
	FailNext func(op string) error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		state: state{
			skus:     make(map[string]domain.SKU),
			orders:   make(map[string]domain.Order),
			payments: make(map[string][]domain.Payment),
			counters: make(map[string]int64),
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SKUs returns the stock ledger.
func (s *Store) SKUs() repositories.SKURepository { return skuRepo{s} }

// Orders returns the order repository.
func (s *Store) Orders() repositories.OrderRepository { return orderRepo{s} }

// Payments returns the payment repository.
func (s *Store) Payments() repositories.PaymentRepository { return paymentRepo{s} }

// Activity returns the activity log.
func (s *Store) Activity() repositories.ActivityRepository { return activityRepo{s} }

// Counters returns the sequence repository.
func (s *Store) Counters() repositories.CounterRepository { return counterRepo{s} }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

// RunInTx serialises fn against every other store access and rolls the store back when fn fails.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("memory: transaction function is nil")
	}
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{s}, true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

// Stock returns the current stock of a SKU, or -1 when it does not exist.
func (s *Store) Stock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	sku, ok := s.state.skus[id]
	if !ok {
		return -1
	}
	return sku.Stock
}

func (s *Store) inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{s}).(bool)
	return v
}

func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) fail(op string) error {
	if s.FailNext == nil {
		return nil
	}
	return s.FailNext(op)
}

// Error implements repositories.RepositoryError for the memory store.
type Error struct {
	Op       string
	Message  string
	NotFound bool
	Conflict bool
}

// Error implements the error interface.
func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Message) }

// IsNotFound reports whether the entity was missing.
func (e *Error) IsNotFound() bool { return e.NotFound }

// IsConflict reports whether the write clashed with existing data.
func (e *Error) IsConflict() bool { return e.Conflict }

// IsUnavailable is always false.
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), NotFound: true}
}

func conflict(op, format string, args ...any) error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), Conflict: true}
}

func cloneOrder(order domain.Order) domain.Order {
	order.Items = append([]domain.OrderItem(nil), order.Items...)
	order.Payments = append([]domain.Payment(nil), order.Payments...)
	return order
}

func clampPageSize(size int) int {
	switch {
	case size <= 0:
		return defaultPageSize
	case size > maxPageSize:
		return maxPageSize
	default:
		return size
	}
}

// pageDesc pages items already sorted newest first, keyed by (at, id).
func pageDesc[T any](items []T, pager domain.Pagination, key func(T) (time.Time, string)) (domain.CursorPage[T], error) {
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}
	start := 0
	if len(cursor.StartAfter) == 2 {
		rawAt, _ := cursor.StartAfter[0].(string)
		id, _ := cursor.StartAfter[1].(string)
		at, err := time.Parse(time.RFC3339Nano, rawAt)
		if err != nil || id == "" {
			return domain.CursorPage[T]{}, fmt.Errorf("%w: malformed cursor", pagination.ErrInvalidPageToken)
		}
		start = sort.Search(len(items), func(i int) bool {
			itemAt, itemID := key(items[i])
			return itemAt.Before(at) || (itemAt.Equal(at) && itemID < id)
		})
	} else if len(cursor.StartAfter) != 0 {
		return domain.CursorPage[T]{}, fmt.Errorf("%w: malformed cursor", pagination.ErrInvalidPageToken)
	}

	limit := clampPageSize(pager.PageSize)
	end := start + limit
	page := domain.CursorPage[T]{}
	if end < len(items) {
		at, id := key(items[end-1])
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{at.UTC().Format(time.RFC3339Nano), id}})
		if err != nil {
			return domain.CursorPage[T]{}, err
		}
		page.NextPageToken = token
	} else {
		end = len(items)
	}
	page.Items = append([]T(nil), items[start:end]...)
	return page, nil
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
