package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	// OrderStatusCancelled is terminal; stock and payments have been reversed.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefunded is terminal; stock and payments have been reversed.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

// OrderStatuses lists every valid order status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// Valid reports whether the status is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	for _, candidate := range OrderStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// StockReturned reports whether reaching this status already gave the order's units back to the ledger.
func (s OrderStatus) StockReturned() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// PaymentStatus enumerates settlement states shared by orders and payments.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
)

// PaymentStatuses lists every valid payment status.
var PaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusRefunded,
	PaymentStatusCancelled,
}

// Valid reports whether the status is one of the known payment statuses.
func (s PaymentStatus) Valid() bool {
	for _, candidate := range PaymentStatuses {
		if s == candidate {
			return true
		}
	}
	return false
}

// SKU is the stock-keeping unit record owned by the catalog and adjusted by the order engine.
type SKU struct {
	ID          string
	Code        string
	ProductName string
	Price       Money
	Stock       int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Customer is the snapshot of the buyer captured on the order.
type Customer struct {
	Name    string
	Phone   string
	Email   *string
	Address *string
}

// Delivery holds optional drop-off information for the order.
type Delivery struct {
	Latitude  *float64
	Longitude *float64
	Address   *string
}

// InvoiceRef points at a rendered invoice document.
type InvoiceRef struct {
	URL    string
	FileID string
}

// OrderTotals holds the monetary roll-up of an order. Total = Subtotal + Tax + Shipping - Discount.
type OrderTotals struct {
	Subtotal Money
	Tax      Money
	Shipping Money
	Discount Money
	Total    Money
}

// Recompute derives Total from the other components.
func (t OrderTotals) Recompute() OrderTotals {
	t.Total = t.Subtotal.Add(t.Tax).Add(t.Shipping).Sub(t.Discount)
	return t
}

// Order captures order headers and owned line items.
type Order struct {
	ID            string
	OrderNumber   string
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Currency      string
	Totals        OrderTotals
	Customer      Customer
	Delivery      *Delivery
	Invoice       *InvoiceRef
	Language      string
	Notes         string
	CreatedBy     *string
	ConfirmedBy   *string
	Items         []OrderItem
	Payments      []Payment
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CancelledAt   *time.Time
	RefundedAt    *time.Time
}

// ItemCount returns the number of units across all lines.
func (o Order) ItemCount() int {
	count := 0
	for _, item := range o.Items {
		count += item.Quantity
	}
	return count
}

// QuantitiesBySKU aggregates line quantities per SKU id.
func (o Order) QuantitiesBySKU() map[string]int {
	out := make(map[string]int, len(o.Items))
	for _, item := range o.Items {
		out[item.SKUID] += item.Quantity
	}
	return out
}

// OrderItem is a line of an order. ProductName, SKUCode and UnitPrice are frozen at order time.
type OrderItem struct {
	ID          string
	OrderID     string
	SKUID       string
	ProductName string
	SKUCode     string
	UnitPrice   Money
	Quantity    int
	TotalPrice  Money
	Position    int
}

// PaymentMethod identifies a settlement method.
type PaymentMethod string

// PaymentMethodCash settles immediately at the counter.
const PaymentMethodCash PaymentMethod = "CASH"

// Payment records settlement of an order.
type Payment struct {
	ID           string
	OrderID      string
	Method       PaymentMethod
	Amount       Money
	Currency     string
	Status       PaymentStatus
	ProcessorRef string
	ProcessedBy  *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ActivityAction enumerates audited order operations.
type ActivityAction string

const (
	ActivityActionCreate  ActivityAction = "CREATE"
	ActivityActionUpdate  ActivityAction = "UPDATE"
	ActivityActionDelete  ActivityAction = "DELETE"
	ActivityActionCancel  ActivityAction = "CANCEL"
	ActivityActionRefund  ActivityAction = "REFUND"
	ActivityActionInvoice ActivityAction = "INVOICE"
)

// ActivityEntry is an append-only audit record.
type ActivityEntry struct {
	ID          string
	Action      ActivityAction
	Entity      string
	EntityID    string
	Description string
	ActorID     string
	Metadata    map[string]any
	OccurredAt  time.Time
}
