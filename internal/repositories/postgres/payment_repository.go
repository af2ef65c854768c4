package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/hanko-field/orderledger/internal/domain"
	ppostgres "github.com/hanko-field/orderledger/internal/platform/postgres"
)

const paymentColumns = `id, order_id, method, amount_minor, currency, status, processor_ref, processed_by, created_at, updated_at`

// PaymentRepository implements repositories.PaymentRepository on the payments table.
type PaymentRepository struct {
	db *ppostgres.DB
}

// NewPaymentRepository constructs the payment repository.
func NewPaymentRepository(db *ppostgres.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Insert stores a settlement record.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		payment.ID, payment.OrderID, string(payment.Method), payment.Amount.MinorUnits(), payment.Currency,
		string(payment.Status), payment.ProcessorRef, payment.ProcessedBy, payment.CreatedAt, payment.UpdatedAt)
	return ppostgres.WrapError("payments.insert", err)
}

// UpdateStatusByOrder moves every payment of the order to status.
func (r *PaymentRepository) UpdateStatusByOrder(ctx context.Context, orderID string, status domain.PaymentStatus, updatedAt time.Time) (int, error) {
	tag, err := r.db.Querier(ctx).Exec(ctx,
		`UPDATE payments SET status = $2, updated_at = $3 WHERE order_id = $1`,
		orderID, string(status), updatedAt)
	if err != nil {
		return 0, ppostgres.WrapError("payments.update_status", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListByOrder returns the payments of the order oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	rows, err := r.db.Querier(ctx).Query(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, ppostgres.WrapError("payments.list", err)
	}
	payments, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return nil, ppostgres.WrapError("payments.list", err)
	}
	return payments, nil
}

func scanPayment(row pgx.CollectableRow) (domain.Payment, error) {
	var (
		payment        domain.Payment
		method, status string
		amount         int64
	)
	if err := row.Scan(&payment.ID, &payment.OrderID, &method, &amount, &payment.Currency, &status,
		&payment.ProcessorRef, &payment.ProcessedBy, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return domain.Payment{}, err
	}
	payment.Method = domain.PaymentMethod(method)
	payment.Status = domain.PaymentStatus(status)
	payment.Amount = domain.Money(amount)
	return payment, nil
}
