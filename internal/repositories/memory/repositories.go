package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/pagination"
	"github.com/hanko-field/orderledger/internal/repositories"
)

type skuRepo struct{ s *Store }

func (r skuRepo) FindByIDs(ctx context.Context, ids []string) ([]domain.SKU, error) {
	defer r.s.lock(ctx)()
	seen := make(map[string]struct{}, len(ids))
	out := make([]domain.SKU, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if sku, ok := r.s.state.skus[id]; ok {
			out = append(out, sku)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r skuRepo) AdjustStock(ctx context.Context, skuID string, delta int) (int, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fail("skus.adjust_stock"); err != nil {
		return 0, err
	}
	sku, ok := r.s.state.skus[skuID]
	if !ok {
		ledgerErr := repositories.NewLedgerError(repositories.LedgerErrorSKUNotFound, fmt.Sprintf("sku %s not found", skuID), nil)
		ledgerErr.SKUID = skuID
		return 0, ledgerErr
	}
	if sku.Stock+delta < 0 {
		return 0, repositories.NewInsufficientStockError("skus.adjust_stock", skuID, sku.Stock, delta)
	}
	sku.Stock += delta
	sku.UpdatedAt = r.s.now()
	r.s.state.skus[skuID] = sku
	return sku.Stock, nil
}

func (r skuRepo) Save(ctx context.Context, sku domain.SKU) error {
	defer r.s.lock(ctx)()
	if strings.TrimSpace(sku.ID) == "" {
		return repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, "sku id is required", nil)
	}
	if sku.Stock < 0 {
		return repositories.NewLedgerError(repositories.LedgerErrorInvalidInput, "stock must not be negative", nil)
	}
	now := r.s.now()
	if existing, ok := r.s.state.skus[sku.ID]; ok && sku.CreatedAt.IsZero() {
		sku.CreatedAt = existing.CreatedAt
	}
	if sku.CreatedAt.IsZero() {
		sku.CreatedAt = now
	}
	sku.UpdatedAt = now
	r.s.state.skus[sku.ID] = sku
	return nil
}

func (r skuRepo) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.SKU], error) {
	defer r.s.lock(ctx)()
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.SKU]{}, err
	}
	after := ""
	if len(cursor.StartAfter) == 2 {
		after, _ = cursor.StartAfter[1].(string)
	}
	all := make([]domain.SKU, 0, len(r.s.state.skus))
	for _, sku := range r.s.state.skus {
		if sku.ID > after {
			all = append(all, sku)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	limit := clampPageSize(pager.PageSize)
	page := domain.CursorPage[domain.SKU]{Items: all}
	if len(all) > limit {
		page.Items = all[:limit]
		last := page.Items[limit-1]
		token, err := pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.UpdatedAt.Format(time.RFC3339Nano), last.ID}})
		if err != nil {
			return domain.CursorPage[domain.SKU]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

type orderRepo struct{ s *Store }

func (r orderRepo) Insert(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()
	if err := r.s.fail("orders.insert"); err != nil {
		return err
	}
	if _, exists := r.s.state.orders[order.ID]; exists {
		return conflict("orders.insert", "order %s already exists", order.ID)
	}
	for _, existing := range r.s.state.orders {
		if existing.OrderNumber == order.OrderNumber {
			return conflict("orders.insert", "order number %s already exists", order.OrderNumber)
		}
	}
	order.Payments = nil
	r.s.state.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) Update(ctx context.Context, order domain.Order) error {
	defer r.s.lock(ctx)()
	if err := r.s.fail("orders.update"); err != nil {
		return err
	}
	existing, ok := r.s.state.orders[order.ID]
	if !ok {
		return notFound("orders.update", "order %s not found", order.ID)
	}
	order.OrderNumber = existing.OrderNumber
	order.CreatedAt = existing.CreatedAt
	order.CreatedBy = existing.CreatedBy
	order.Items = existing.Items
	order.Payments = nil
	r.s.state.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepo) SetInvoice(ctx context.Context, orderID string, ref *domain.InvoiceRef, language string, updatedAt time.Time) error {
	defer r.s.lock(ctx)()
	if err := r.s.fail("orders.set_invoice"); err != nil {
		return err
	}
	existing, ok := r.s.state.orders[orderID]
	if !ok {
		return notFound("orders.set_invoice", "order %s not found", orderID)
	}
	existing.Invoice = nil
	if ref != nil {
		copied := *ref
		existing.Invoice = &copied
	}
	if language != "" {
		existing.Language = language
	}
	existing.UpdatedAt = updatedAt
	r.s.state.orders[orderID] = existing
	return nil
}

func (r orderRepo) Confirm(ctx context.Context, orderID string, c repositories.OrderConfirmation) (bool, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fail("orders.confirm"); err != nil {
		return false, err
	}
	existing, ok := r.s.state.orders[orderID]
	if !ok {
		return false, notFound("orders.confirm", "order %s not found", orderID)
	}
	if existing.Status.StockReturned() {
		return false, nil
	}
	if existing.Status == domain.OrderStatusPending {
		existing.Status = c.Status
	}
	existing.PaymentStatus = c.PaymentStatus
	existing.ConfirmedBy = c.ConfirmedBy
	existing.UpdatedAt = c.UpdatedAt
	r.s.state.orders[orderID] = existing
	return true, nil
}

func (r orderRepo) ReplaceItems(ctx context.Context, orderID string, items []domain.OrderItem) error {
	defer r.s.lock(ctx)()
	if err := r.s.fail("orders.replace_items"); err != nil {
		return err
	}
	existing, ok := r.s.state.orders[orderID]
	if !ok {
		return notFound("orders.replace_items", "order %s not found", orderID)
	}
	existing.Items = append([]domain.OrderItem(nil), items...)
	r.s.state.orders[orderID] = existing
	return nil
}

func (r orderRepo) Delete(ctx context.Context, orderID string) error {
	defer r.s.lock(ctx)()
	if err := r.s.fail("orders.delete"); err != nil {
		return err
	}
	if _, ok := r.s.state.orders[orderID]; !ok {
		return notFound("orders.delete", "order %s not found", orderID)
	}
	delete(r.s.state.orders, orderID)
	delete(r.s.state.payments, orderID)
	return nil
}

func (r orderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	defer r.s.lock(ctx)()
	order, ok := r.s.state.orders[orderID]
	if !ok {
		return domain.Order{}, notFound("orders.find", "order %s not found", orderID)
	}
	order = cloneOrder(order)
	order.Payments = append([]domain.Payment(nil), r.s.state.payments[orderID]...)
	return order, nil
}

func (r orderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	defer r.s.lock(ctx)()
	statuses := make(map[domain.OrderStatus]struct{}, len(filter.Status))
	for _, st := range filter.Status {
		statuses[st] = struct{}{}
	}
	paymentStatuses := make(map[domain.PaymentStatus]struct{}, len(filter.PaymentStatus))
	for _, st := range filter.PaymentStatus {
		paymentStatuses[st] = struct{}{}
	}
	search := strings.TrimSpace(filter.Search)

	matches := make([]domain.Order, 0, len(r.s.state.orders))
	for _, order := range r.s.state.orders {
		if len(statuses) > 0 {
			if _, ok := statuses[order.Status]; !ok {
				continue
			}
		}
		if len(paymentStatuses) > 0 {
			if _, ok := paymentStatuses[order.PaymentStatus]; !ok {
				continue
			}
		}
		if search != "" && !containsFold(order.OrderNumber, search) && !containsFold(order.Customer.Name, search) && !containsFold(order.Customer.Phone, search) {
			continue
		}
		if from := filter.CreatedAt.From; from != nil && order.CreatedAt.Before(*from) {
			continue
		}
		if to := filter.CreatedAt.To; to != nil && order.CreatedAt.After(*to) {
			continue
		}
		order = cloneOrder(order)
		order.Payments = append([]domain.Payment(nil), r.s.state.payments[order.ID]...)
		matches = append(matches, order)
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})
	return pageDesc(matches, filter.Pagination, func(o domain.Order) (time.Time, string) { return o.CreatedAt, o.ID })
}

type paymentRepo struct{ s *Store }

func (r paymentRepo) Insert(ctx context.Context, payment domain.Payment) error {
	defer r.s.lock(ctx)()
	if err := r.s.fail("payments.insert"); err != nil {
		return err
	}
	if _, ok := r.s.state.orders[payment.OrderID]; !ok {
		return conflict("payments.insert", "order %s does not exist", payment.OrderID)
	}
	r.s.state.payments[payment.OrderID] = append(r.s.state.payments[payment.OrderID], payment)
	return nil
}

func (r paymentRepo) UpdateStatusByOrder(ctx context.Context, orderID string, status domain.PaymentStatus, updatedAt time.Time) (int, error) {
	defer r.s.lock(ctx)()
	if err := r.s.fail("payments.update_status"); err != nil {
		return 0, err
	}
	payments := r.s.state.payments[orderID]
	for i := range payments {
		payments[i].Status = status
		payments[i].UpdatedAt = updatedAt
	}
	return len(payments), nil
}

func (r paymentRepo) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	defer r.s.lock(ctx)()
	return append([]domain.Payment(nil), r.s.state.payments[orderID]...), nil
}

type activityRepo struct{ s *Store }

func (r activityRepo) Append(ctx context.Context, entry domain.ActivityEntry) error {
	defer r.s.lock(ctx)()
	if err := r.s.fail("activity.append"); err != nil {
		return err
	}
	r.s.state.activity = append(r.s.state.activity, entry)
	return nil
}

func (r activityRepo) List(ctx context.Context, filter repositories.ActivityListFilter) (domain.CursorPage[domain.ActivityEntry], error) {
	defer r.s.lock(ctx)()
	matches := make([]domain.ActivityEntry, 0)
	for _, entry := range r.s.state.activity {
		if entry.Entity == filter.Entity && entry.EntityID == filter.EntityID {
			matches = append(matches, entry)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].OccurredAt.Equal(matches[j].OccurredAt) {
			return matches[i].OccurredAt.After(matches[j].OccurredAt)
		}
		return matches[i].ID > matches[j].ID
	})
	return pageDesc(matches, filter.Pagination, func(e domain.ActivityEntry) (time.Time, string) { return e.OccurredAt, e.ID })
}

type counterRepo struct{ s *Store }

func (r counterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	defer r.s.lock(ctx)()
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}
	if step == 0 {
		step = 1
	}
	r.s.state.counters[id] += step
	return r.s.state.counters[id], nil
}
