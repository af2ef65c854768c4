package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	domain "github.com/hanko-field/orderledger/internal/domain"
)

type failingStrategy struct{}

func (failingStrategy) Method() domain.PaymentMethod { return domain.PaymentMethodCash }

func (failingStrategy) Settle(context.Context, SettleRequest) (Settlement, error) {
	return Settlement{}, ErrSettlementFailed
}

func TestCashStrategyCompletesImmediately(t *testing.T) {
	t.Parallel()
	mgr := NewManager(WithStrategy(NewCashStrategy(func() string { return "01HX" })))

	settlement, err := mgr.Settle(context.Background(), "cash", SettleRequest{
		OrderID:  "ord_1",
		Amount:   domain.NewMoney(60, 0),
		Currency: "usd",
	})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentStatusCompleted, settlement.Status)
	require.Equal(t, domain.PaymentMethodCash, settlement.Method)
	require.Equal(t, domain.NewMoney(60, 0), settlement.Amount)
	require.Equal(t, "USD", settlement.Currency)
	require.Equal(t, "cash:01HX", settlement.ProcessorRef)
}

func TestManagerRejectsUnknownMethod(t *testing.T) {
	t.Parallel()
	mgr := NewManager()

	require.True(t, mgr.Supports(domain.PaymentMethodCash))
	require.False(t, mgr.Supports("CARD"))

	_, err := mgr.Settle(context.Background(), "CARD", SettleRequest{Amount: domain.NewMoney(1, 0)})
	require.True(t, errors.Is(err, ErrUnsupportedMethod))
}

func TestManagerPropagatesStrategyFailure(t *testing.T) {
	t.Parallel()
	mgr := NewManager(WithStrategy(failingStrategy{}))

	_, err := mgr.Settle(context.Background(), domain.PaymentMethodCash, SettleRequest{Amount: domain.NewMoney(5, 0)})
	require.ErrorIs(t, err, ErrSettlementFailed)
}

func TestCashStrategyHonoursCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCashStrategy(nil).Settle(ctx, SettleRequest{Amount: domain.NewMoney(1, 0)})
	require.ErrorIs(t, err, context.Canceled)
}
