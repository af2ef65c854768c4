package repositories

import (
	"context"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	SKUs() SKURepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Activity() ActivityRepository
	Counters() CounterRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repositories called with
// the context handed to fn participate in the same transaction; rows they read are locked until
// fn returns.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SKURepository is the stock ledger consulted and adjusted by the order engine.
type SKURepository interface {
	// FindByIDs loads every SKU whose id is listed. Ids without a row are silently omitted.
	FindByIDs(ctx context.Context, ids []string) ([]domain.SKU, error)
	// AdjustStock adds delta to the SKU's stock and returns the new level. A change that would
	// leave stock negative fails with LedgerErrorInsufficientStock and changes nothing.
	AdjustStock(ctx context.Context, skuID string, delta int) (int, error)
	Save(ctx context.Context, sku domain.SKU) error
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.SKU], error)
}

// OrderRepository persists orders and their line items.
type OrderRepository interface {
	// Insert stores the order header and all of its items.
	Insert(ctx context.Context, order domain.Order) error
	// Update overwrites the mutable header fields of an existing order. Items are untouched.
	// Callers hold the order row through UnitOfWork; writes made after commit use SetInvoice or
	// Confirm so they never replay a stale status.
	Update(ctx context.Context, order domain.Order) error
	// SetInvoice stores only the invoice reference of an order; a nil ref clears it. An empty
	// language leaves the stored language unchanged.
	SetInvoice(ctx context.Context, orderID string, ref *domain.InvoiceRef, language string, updatedAt time.Time) error
	// Confirm records the settlement outcome of a new order and moves it out of PENDING. It
	// reports false, and writes nothing, when the order was cancelled or refunded meanwhile.
	Confirm(ctx context.Context, orderID string, confirmation OrderConfirmation) (bool, error)
	// ReplaceItems deletes every existing line of the order and inserts items in their place.
	ReplaceItems(ctx context.Context, orderID string, items []domain.OrderItem) error
	// Delete removes the order together with its items and payments.
	Delete(ctx context.Context, orderID string) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderConfirmation is the state written by OrderRepository.Confirm. Status only applies to an
// order still PENDING; a status set by an update in between is kept.
type OrderConfirmation struct {
	Status        domain.OrderStatus
	PaymentStatus domain.PaymentStatus
	ConfirmedBy   *string
	UpdatedAt     time.Time
}

// PaymentRepository persists settlement records attached to orders.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	// UpdateStatusByOrder moves every payment of the order to status and returns how many changed.
	UpdateStatusByOrder(ctx context.Context, orderID string, status domain.PaymentStatus, updatedAt time.Time) (int, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)
}

// ActivityRepository stores the append-only activity log.
type ActivityRepository interface {
	Append(ctx context.Context, entry domain.ActivityEntry) error
	List(ctx context.Context, filter ActivityListFilter) (domain.CursorPage[domain.ActivityEntry], error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status        []domain.OrderStatus
	PaymentStatus []domain.PaymentStatus
	// Search matches order number, customer name or phone (case-insensitive substring).
	Search     string
	CreatedAt  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// ActivityListFilter narrows activity listings to one entity.
type ActivityListFilter struct {
	Entity     string
	EntityID   string
	Pagination domain.Pagination
}
