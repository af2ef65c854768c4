package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/hanko-field/orderledger/internal/domain"
	ppostgres "github.com/hanko-field/orderledger/internal/platform/postgres"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const orderColumns = `id, order_number, status, payment_status, currency,
	subtotal_minor, tax_minor, shipping_minor, discount_minor, total_minor,
	customer_name, customer_phone, customer_email, customer_address,
	has_delivery, delivery_lat, delivery_lng, delivery_address,
	invoice_url, invoice_file_id, language, notes, created_by, confirmed_by,
	created_at, updated_at, cancelled_at, refunded_at`

const itemColumns = `id, order_id, sku_id, product_name, sku_code, unit_price_minor, quantity, total_minor, position`

// OrderRepository implements repositories.OrderRepository on the orders and order_items tables.
type OrderRepository struct {
	db *ppostgres.DB
}

// NewOrderRepository constructs the order repository.
func NewOrderRepository(db *ppostgres.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Insert stores the order header and its items.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("orders.insert: order id is required")
	}
	q := r.db.Querier(ctx)
	delivery := deliveryColumns(order.Delivery)
	invoiceURL, invoiceFileID := invoiceColumns(order.Invoice)
	_, err := q.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`,
		order.ID, order.OrderNumber, string(order.Status), string(order.PaymentStatus), order.Currency,
		order.Totals.Subtotal.MinorUnits(), order.Totals.Tax.MinorUnits(), order.Totals.Shipping.MinorUnits(),
		order.Totals.Discount.MinorUnits(), order.Totals.Total.MinorUnits(),
		order.Customer.Name, order.Customer.Phone, order.Customer.Email, order.Customer.Address,
		delivery.present, delivery.lat, delivery.lng, delivery.address,
		invoiceURL, invoiceFileID, order.Language, order.Notes, order.CreatedBy, order.ConfirmedBy,
		order.CreatedAt, order.UpdatedAt, order.CancelledAt, order.RefundedAt)
	if err != nil {
		return ppostgres.WrapError("orders.insert", err)
	}
	return r.insertItems(ctx, q, order.ID, order.Items)
}

// Update overwrites the header of an existing order.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	delivery := deliveryColumns(order.Delivery)
	invoiceURL, invoiceFileID := invoiceColumns(order.Invoice)
	tag, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE orders SET
			status = $2, payment_status = $3, currency = $4,
			subtotal_minor = $5, tax_minor = $6, shipping_minor = $7, discount_minor = $8, total_minor = $9,
			customer_name = $10, customer_phone = $11, customer_email = $12, customer_address = $13,
			has_delivery = $14, delivery_lat = $15, delivery_lng = $16, delivery_address = $17,
			invoice_url = $18, invoice_file_id = $19, language = $20, notes = $21, confirmed_by = $22,
			updated_at = $23, cancelled_at = $24, refunded_at = $25
		WHERE id = $1`,
		order.ID, string(order.Status), string(order.PaymentStatus), order.Currency,
		order.Totals.Subtotal.MinorUnits(), order.Totals.Tax.MinorUnits(), order.Totals.Shipping.MinorUnits(),
		order.Totals.Discount.MinorUnits(), order.Totals.Total.MinorUnits(),
		order.Customer.Name, order.Customer.Phone, order.Customer.Email, order.Customer.Address,
		delivery.present, delivery.lat, delivery.lng, delivery.address,
		invoiceURL, invoiceFileID, order.Language, order.Notes, order.ConfirmedBy,
		order.UpdatedAt, order.CancelledAt, order.RefundedAt)
	if err != nil {
		return ppostgres.WrapError("orders.update", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("orders.update", "order %s not found", order.ID)
	}
	return nil
}

// SetInvoice writes the invoice columns alone, leaving status and notes to whoever owns them.
func (r *OrderRepository) SetInvoice(ctx context.Context, orderID string, ref *domain.InvoiceRef, language string, updatedAt time.Time) error {
	invoiceURL, invoiceFileID := invoiceColumns(ref)
	tag, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE orders SET
			invoice_url = $2, invoice_file_id = $3,
			language = COALESCE(NULLIF($4::text, ''), language), updated_at = $5
		WHERE id = $1`,
		orderID, invoiceURL, invoiceFileID, language, updatedAt)
	if err != nil {
		return ppostgres.WrapError("orders.set_invoice", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("orders.set_invoice", "order %s not found", orderID)
	}
	return nil
}

// Confirm applies the settlement outcome unless the order has been reversed since it was created.
func (r *OrderRepository) Confirm(ctx context.Context, orderID string, c repositories.OrderConfirmation) (bool, error) {
	q := r.db.Querier(ctx)
	tag, err := q.Exec(ctx, `
		UPDATE orders SET
			status = CASE WHEN status = $2 THEN $3 ELSE status END,
			payment_status = $4, confirmed_by = $5, updated_at = $6
		WHERE id = $1 AND status NOT IN ($7, $8)`,
		orderID, string(domain.OrderStatusPending), string(c.Status), string(c.PaymentStatus), c.ConfirmedBy, c.UpdatedAt,
		string(domain.OrderStatusCancelled), string(domain.OrderStatusRefunded))
	if err != nil {
		return false, ppostgres.WrapError("orders.confirm", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return false, ppostgres.WrapError("orders.confirm", err)
	}
	if !exists {
		return false, ppostgres.NotFound("orders.confirm", "order %s not found", orderID)
	}
	return false, nil
}

// ReplaceItems swaps every line of the order for items.
func (r *OrderRepository) ReplaceItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	q := r.db.Querier(ctx)
	if _, err := q.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return ppostgres.WrapError("orders.replace_items", err)
	}
	return r.insertItems(ctx, q, orderID, items)
}

// Delete removes the order; items and payments follow through ON DELETE CASCADE.
func (r *OrderRepository) Delete(ctx context.Context, orderID string) error {
	tag, err := r.db.Querier(ctx).Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return ppostgres.WrapError("orders.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ppostgres.NotFound("orders.delete", "order %s not found", orderID)
	}
	return nil
}

// FindByID loads the order with its items and payments. The header row is locked inside a transaction.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	q := r.db.Querier(ctx)
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if ppostgres.InTx(ctx) {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, orderID)
	if err != nil {
		return domain.Order{}, ppostgres.WrapError("orders.find", err)
	}
	order, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, ppostgres.NotFound("orders.find", "order %s not found", orderID)
		}
		return domain.Order{}, ppostgres.WrapError("orders.find", err)
	}

	orders := []domain.Order{order}
	if err := r.attachChildren(ctx, q, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

// List returns orders newest first with keyset pagination on (created_at, id).
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	limit := pageSize(filter.Pagination.PageSize)
	after, err := decodeKeyset(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if len(filter.Status) > 0 {
		values := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			values = append(values, string(s))
		}
		where = append(where, "status = ANY("+arg(values)+")")
	}
	if len(filter.PaymentStatus) > 0 {
		values := make([]string, 0, len(filter.PaymentStatus))
		for _, s := range filter.PaymentStatus {
			values = append(values, string(s))
		}
		where = append(where, "payment_status = ANY("+arg(values)+")")
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		pattern := arg("%" + escapeLike(search) + "%")
		where = append(where, fmt.Sprintf("(order_number ILIKE %[1]s OR customer_name ILIKE %[1]s OR customer_phone ILIKE %[1]s)", pattern))
	}
	if filter.CreatedAt.From != nil {
		where = append(where, "created_at >= "+arg(*filter.CreatedAt.From))
	}
	if filter.CreatedAt.To != nil {
		where = append(where, "created_at <= "+arg(*filter.CreatedAt.To))
	}
	if after != nil {
		where = append(where, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(after.At), arg(after.ID)))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + arg(limit+1)

	q := r.db.Querier(ctx)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, ppostgres.WrapError("orders.list", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, ppostgres.WrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{}
	if len(orders) > limit {
		orders = orders[:limit]
		last := orders[limit-1]
		token, err := encodeKeyset(last.CreatedAt, last.ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	if err := r.attachChildren(ctx, q, orders); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}
	page.Items = orders
	return page, nil
}

func (r *OrderRepository) insertItems(ctx context.Context, q ppostgres.Querier, orderID string, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`INSERT INTO order_items (`+itemColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			item.ID, orderID, item.SKUID, item.ProductName, item.SKUCode,
			item.UnitPrice.MinorUnits(), item.Quantity, item.TotalPrice.MinorUnits(), item.Position)
	}
	results := q.SendBatch(ctx, batch)
	for range items {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return ppostgres.WrapError("orders.insert_items", err)
		}
	}
	return ppostgres.WrapError("orders.insert_items", results.Close())
}

func (r *OrderRepository) attachChildren(ctx context.Context, q ppostgres.Querier, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, 0, len(orders))
	index := make(map[string]int, len(orders))
	for i, order := range orders {
		ids = append(ids, order.ID)
		index[order.ID] = i
	}

	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return ppostgres.WrapError("orders.items", err)
	}
	items, err := pgx.CollectRows(rows, scanItem)
	if err != nil {
		return ppostgres.WrapError("orders.items", err)
	}
	for _, item := range items {
		i := index[item.OrderID]
		orders[i].Items = append(orders[i].Items, item)
	}

	rows, err = q.Query(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = ANY($1) ORDER BY order_id, created_at, id`, ids)
	if err != nil {
		return ppostgres.WrapError("orders.payments", err)
	}
	payments, err := pgx.CollectRows(rows, scanPayment)
	if err != nil {
		return ppostgres.WrapError("orders.payments", err)
	}
	for _, payment := range payments {
		i := index[payment.OrderID]
		orders[i].Payments = append(orders[i].Payments, payment)
	}
	return nil
}

type deliveryRow struct {
	present bool
	lat     *float64
	lng     *float64
	address *string
}

func deliveryColumns(d *domain.Delivery) deliveryRow {
	if d == nil {
		return deliveryRow{}
	}
	return deliveryRow{present: true, lat: d.Latitude, lng: d.Longitude, address: d.Address}
}

func invoiceColumns(ref *domain.InvoiceRef) (*string, *string) {
	if ref == nil {
		return nil, nil
	}
	url, fileID := ref.URL, ref.FileID
	return &url, &fileID
}

func scanOrder(row pgx.CollectableRow) (domain.Order, error) {
	var (
		order                                      domain.Order
		status, paymentStatus                      string
		subtotal, tax, shipping, discount, total   int64
		hasDelivery                                bool
		lat, lng                                   *float64
		deliveryAddress, invoiceURL, invoiceFileID *string
		cancelledAt, refundedAt                    *time.Time
	)
	err := row.Scan(
		&order.ID, &order.OrderNumber, &status, &paymentStatus, &order.Currency,
		&subtotal, &tax, &shipping, &discount, &total,
		&order.Customer.Name, &order.Customer.Phone, &order.Customer.Email, &order.Customer.Address,
		&hasDelivery, &lat, &lng, &deliveryAddress,
		&invoiceURL, &invoiceFileID, &order.Language, &order.Notes, &order.CreatedBy, &order.ConfirmedBy,
		&order.CreatedAt, &order.UpdatedAt, &cancelledAt, &refundedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(paymentStatus)
	order.Totals = domain.OrderTotals{
		Subtotal: domain.Money(subtotal),
		Tax:      domain.Money(tax),
		Shipping: domain.Money(shipping),
		Discount: domain.Money(discount),
		Total:    domain.Money(total),
	}
	if hasDelivery {
		order.Delivery = &domain.Delivery{Latitude: lat, Longitude: lng, Address: deliveryAddress}
	}
	if invoiceFileID != nil && *invoiceFileID != "" {
		ref := &domain.InvoiceRef{FileID: *invoiceFileID}
		if invoiceURL != nil {
			ref.URL = *invoiceURL
		}
		order.Invoice = ref
	}
	order.CancelledAt = cancelledAt
	order.RefundedAt = refundedAt
	return order, nil
}

func scanItem(row pgx.CollectableRow) (domain.OrderItem, error) {
	var (
		item              domain.OrderItem
		unitPrice, amount int64
	)
	if err := row.Scan(&item.ID, &item.OrderID, &item.SKUID, &item.ProductName, &item.SKUCode,
		&unitPrice, &item.Quantity, &amount, &item.Position); err != nil {
		return domain.OrderItem{}, err
	}
	item.UnitPrice = domain.Money(unitPrice)
	item.TotalPrice = domain.Money(amount)
	return item, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
