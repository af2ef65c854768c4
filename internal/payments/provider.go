package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

// ErrUnsupportedMethod is returned when no strategy settles the requested method.
var ErrUnsupportedMethod = errors.New("payments: unsupported method")

// ErrSettlementFailed marks a strategy that ran but could not settle the amount.
var ErrSettlementFailed = errors.New("payments: settlement failed")

// SettleRequest describes the amount owed for an order.
type SettleRequest struct {
	OrderID     string
	OrderNumber string
	Amount      domain.Money
	Currency    string
	ActorID     string
}

// Settlement is the normalised outcome of a strategy.
type Settlement struct {
	Method       domain.PaymentMethod
	Status       domain.PaymentStatus
	Amount       domain.Money
	Currency     string
	ProcessorRef string
}

// Strategy settles orders for one payment method.
type Strategy interface {
	Method() domain.PaymentMethod
	Settle(ctx context.Context, req SettleRequest) (Settlement, error)
}

// CashStrategy settles at the counter: the money is already in hand, so the payment completes at once.
type CashStrategy struct {
	newRef func() string
}

// NewCashStrategy constructs the cash strategy. refGen may be nil.
func NewCashStrategy(refGen func() string) *CashStrategy {
	if refGen == nil {
		refGen = func() string { return ulid.Make().String() }
	}
	return &CashStrategy{newRef: refGen}
}

// Method returns CASH.
func (s *CashStrategy) Method() domain.PaymentMethod { return domain.PaymentMethodCash }

// Settle completes the payment for the full amount.
func (s *CashStrategy) Settle(ctx context.Context, req SettleRequest) (Settlement, error) {
	if err := ctx.Err(); err != nil {
		return Settlement{}, err
	}
	if req.Amount.IsNegative() {
		return Settlement{}, fmt.Errorf("%w: amount must not be negative", ErrSettlementFailed)
	}
	return Settlement{
		Method:       domain.PaymentMethodCash,
		Status:       domain.PaymentStatusCompleted,
		Amount:       req.Amount,
		Currency:     strings.ToUpper(strings.TrimSpace(req.Currency)),
		ProcessorRef: "cash:" + s.newRef(),
	}, nil
}

// Manager dispatches settlement to the strategy registered for a method. The set of methods is fixed
// when the manager is built.
type Manager struct {
	strategies map[domain.PaymentMethod]Strategy
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithStrategy registers or replaces the strategy for its method.
func WithStrategy(strategy Strategy) ManagerOption {
	return func(m *Manager) {
		if strategy != nil {
			m.strategies[strategy.Method()] = strategy
		}
	}
}

// NewManager builds a manager that settles CASH unless options replace it.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{strategies: map[domain.PaymentMethod]Strategy{
		domain.PaymentMethodCash: NewCashStrategy(nil),
	}}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Supports reports whether method can be settled.
func (m *Manager) Supports(method domain.PaymentMethod) bool {
	if m == nil {
		return false
	}
	_, ok := m.strategies[normaliseMethod(method)]
	return ok
}

// Settle runs the strategy for method.
func (m *Manager) Settle(ctx context.Context, method domain.PaymentMethod, req SettleRequest) (Settlement, error) {
	if m == nil {
		return Settlement{}, errors.New("payments: manager is nil")
	}
	strategy, ok := m.strategies[normaliseMethod(method)]
	if !ok {
		return Settlement{}, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	return strategy.Settle(ctx, req)
}

func normaliseMethod(method domain.PaymentMethod) domain.PaymentMethod {
	return domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(method))))
}
