package services

import (
	"context"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination    = domain.Pagination
	Money         = domain.Money
	SKU           = domain.SKU
	Order         = domain.Order
	OrderItem     = domain.OrderItem
	OrderStatus   = domain.OrderStatus
	OrderTotals   = domain.OrderTotals
	PaymentStatus = domain.PaymentStatus
	Payment       = domain.Payment
	PaymentMethod = domain.PaymentMethod
	Customer      = domain.Customer
	Delivery      = domain.Delivery
	InvoiceRef    = domain.InvoiceRef
	ActivityEntry = domain.ActivityEntry
)

// OrderService is the order lifecycle engine. Every stock-mutating step of an operation runs in a
// single unit of work; invoice rendering, settlement and activity recording follow the commit.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (OrderResult, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) (OrderResult, error)
	CancelOrder(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	RefundOrder(ctx context.Context, cmd OrderTransitionCommand) (Order, error)
	RegenerateInvoice(ctx context.Context, cmd RegenerateInvoiceCommand) (Order, error)
	InvoiceLink(ctx context.Context, orderID string) (InvoiceLink, error)
}

// InventoryService fronts the SKU ledger. Availability checks and stock adjustments join the unit of
// work carried by ctx; callers own the transaction.
type InventoryService interface {
	// CheckAvailability locks every SKU named by lines and verifies the net demand against stock.
	// previous holds quantities the caller already consumes and is about to give back; they are
	// credited to the Available figure of an InsufficientStockError.
	CheckAvailability(ctx context.Context, lines []StockLine, previous map[string]int) (map[string]SKU, error)
	Consume(ctx context.Context, quantities map[string]int) error
	Restore(ctx context.Context, quantities map[string]int) error
	ListSKUs(ctx context.Context, pager Pagination) (domain.CursorPage[SKU], error)
	PutSKU(ctx context.Context, cmd PutSKUCommand) (SKU, error)
}

// CounterService allocates human-readable sequence numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context, now time.Time) (string, error)
}

// ActivityLogService records and lists the append-only activity log.
type ActivityLogService interface {
	// Record never fails the caller; write errors are logged.
	Record(ctx context.Context, record ActivityRecord)
	List(ctx context.Context, filter ActivityListFilter) (domain.CursorPage[ActivityEntry], error)
	// Flush blocks until pending asynchronous writes finish or ctx is done.
	Flush(ctx context.Context) error
}

// InvoiceCollaborator renders and removes invoice documents.
type InvoiceCollaborator interface {
	Render(ctx context.Context, order Order, lang string) (InvoiceRef, error)
	Delete(ctx context.Context, fileID string) error
	DownloadURL(ctx context.Context, ref InvoiceRef, fileName string) (string, time.Time, error)
}

// LanguageResolver maps requested languages onto the ones invoices can be rendered in.
type LanguageResolver func(candidates ...string) string

// ItemInput is a requested order line.
type ItemInput struct {
	SKUID    string
	Quantity int
}

// StockLine is a demand against one SKU.
type StockLine struct {
	SKUID    string
	Quantity int
}

// CreateOrderCommand places a new order on behalf of a staff member.
type CreateOrderCommand struct {
	Customer      Customer
	Items         []ItemInput
	Delivery      *Delivery
	PaymentMethod PaymentMethod
	Language      string
	Notes         string
	Currency      string
	ActorID       string
}

// CreateOrderResult is the outcome of CreateOrder. Warnings describe post-commit steps that failed
// without undoing the order.
type CreateOrderResult struct {
	Order    Order
	Payment  *Payment
	Warnings []string
}

// CustomerPatch updates individual customer fields. Nil fields are left alone.
type CustomerPatch struct {
	Name    *string
	Phone   *string
	Email   *string
	Address *string
}

// UpdateOrderCommand patches an order. Items, when set, replace the existing lines wholesale.
type UpdateOrderCommand struct {
	OrderID  string
	Items    *[]ItemInput
	Customer *CustomerPatch
	Delivery *Delivery
	Status   *OrderStatus
	Notes    *string
	Language *string
	ActorID  string
}

// OrderResult carries an order along with non-fatal warnings.
type OrderResult struct {
	Order    Order
	Warnings []string
}

// DeleteOrderCommand hard-deletes an order.
type DeleteOrderCommand struct {
	OrderID string
	ActorID string
}

// OrderTransitionCommand drives cancel and refund.
type OrderTransitionCommand struct {
	OrderID string
	Reason  string
	ActorID string
}

// RegenerateInvoiceCommand re-renders the invoice of an order.
type RegenerateInvoiceCommand struct {
	OrderID  string
	Language string
	ActorID  string
}

// InvoiceLink is a download location for an invoice. ExpiresAt is zero for unsigned links.
type InvoiceLink struct {
	URL       string
	ExpiresAt time.Time
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status        []OrderStatus
	PaymentStatus []PaymentStatus
	Search        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    Pagination
}

// PutSKUCommand creates or replaces a SKU.
type PutSKUCommand struct {
	ID          string
	Code        string
	ProductName string
	Price       Money
	Stock       int
}

// ActivityRecord is the input to the activity log.
type ActivityRecord struct {
	Action      domain.ActivityAction
	EntityID    string
	Description string
	ActorID     string
	Metadata    map[string]any
	OccurredAt  time.Time
}

// ActivityListFilter narrows activity listings to one order.
type ActivityListFilter struct {
	OrderID    string
	Pagination Pagination
}
