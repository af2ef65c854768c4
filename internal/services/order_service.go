package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/text/language"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/payments"
	"github.com/hanko-field/orderledger/internal/platform/textutil"
	"github.com/hanko-field/orderledger/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"
	paymentIDPrefix   = "pay_"

	defaultOrderCurrency = "USD"
	defaultOrderLanguage = "en"
	orderMetricNamespace = "github.com/hanko-field/orderledger/internal/services"
)

var orderTracer = otel.Tracer(orderMetricNamespace)

// PaymentSettler settles an order through the strategy registered for a method.
type PaymentSettler interface {
	Supports(method PaymentMethod) bool
	Settle(ctx context.Context, method PaymentMethod, req payments.SettleRequest) (payments.Settlement, error)
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Payments    repositories.PaymentRepository
	Inventory   InventoryService
	Counters    CounterService
	Settlement  PaymentSettler
	Invoices    InvoiceCollaborator
	Activity    ActivityLogService
	UnitOfWork  repositories.UnitOfWork
	Languages   LanguageResolver
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
	Meter       metric.Meter
}

type orderService struct {
	orders     repositories.OrderRepository
	payments   repositories.PaymentRepository
	inventory  InventoryService
	counters   CounterService
	settlement PaymentSettler
	invoices   InvoiceCollaborator
	activity   ActivityLogService
	unitOfWork repositories.UnitOfWork
	languages  LanguageResolver
	currency   string
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
	operations metric.Int64Counter
	latency    metric.Float64Histogram
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Payments == nil:
		return nil, errors.New("order service: payment repository is required")
	case deps.Inventory == nil:
		return nil, errors.New("order service: inventory service is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter service is required")
	case deps.Settlement == nil:
		return nil, errors.New("order service: payment settlement is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	languages := deps.Languages
	if languages == nil {
		languages = firstLanguage
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = defaultOrderCurrency
	}

	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(orderMetricNamespace)
	}
	operations, err := meter.Int64Counter(
		"orders.operations",
		metric.WithDescription("Count of order engine operations by outcome"),
	)
	if err != nil {
		logger(context.Background(), "order.metrics.register.failed", map[string]any{"error": err.Error()})
	}
	latency, err := meter.Float64Histogram(
		"orders.operation.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of order engine operations"),
	)
	if err != nil {
		logger(context.Background(), "order.metrics.register.failed", map[string]any{"error": err.Error()})
	}

	return &orderService{
		orders:     deps.Orders,
		payments:   deps.Payments,
		inventory:  deps.Inventory,
		counters:   deps.Counters,
		settlement: deps.Settlement,
		invoices:   deps.Invoices,
		activity:   deps.Activity,
		unitOfWork: unit,
		languages:  languages,
		currency:   currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:      idGen,
		logger:     logger,
		operations: operations,
		latency:    latency,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (result CreateOrderResult, err error) {
	ctx, finish := s.startOp(ctx, "create")
	defer func() { finish(err) }()

	customer, err := normaliseCustomer(cmd.Customer)
	if err != nil {
		return CreateOrderResult{}, err
	}
	lines, err := normaliseItems(cmd.Items)
	if err != nil {
		return CreateOrderResult{}, err
	}
	delivery, err := normaliseDelivery(cmd.Delivery)
	if err != nil {
		return CreateOrderResult{}, err
	}
	method := normalisePaymentMethod(cmd.PaymentMethod)
	if !s.settlement.Supports(method) {
		return CreateOrderResult{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, method)
	}
	lang, err := normaliseLanguage(cmd.Language)
	if err != nil {
		return CreateOrderResult{}, err
	}
	currency, err := s.resolveCurrency(cmd.Currency)
	if err != nil {
		return CreateOrderResult{}, err
	}

	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()
	order := Order{
		ID:            s.nextID(orderIDPrefix),
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		Currency:      currency,
		Customer:      customer,
		Delivery:      delivery,
		Language:      lang,
		Notes:         textutil.PlainText(cmd.Notes),
		CreatedBy:     optionalString(actor),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		skus, err := s.inventory.CheckAvailability(txCtx, lines, nil)
		if err != nil {
			return err
		}
		order.Items = s.buildItems(order.ID, lines, skus)
		order.Totals = OrderTotals{Subtotal: sumItems(order.Items)}.Recompute()

		number, err := s.counters.NextOrderNumber(txCtx, now)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		if err := s.orders.Insert(txCtx, order); err != nil {
			return err
		}
		return s.inventory.Consume(txCtx, quantitiesOf(lines))
	})
	if err != nil {
		return CreateOrderResult{}, mapRepositoryError(err)
	}

	var warnings []string
	if ref, ok := s.renderInvoice(ctx, order, s.languages(cmd.Language, order.Language), &warnings); ok {
		if s.saveInvoice(ctx, order.ID, &ref, "", now, &warnings) {
			order.Invoice = &ref
		}
	}

	payment, payErr := s.settle(ctx, order, method, actor, now)
	confirmation := repositories.OrderConfirmation{
		Status:        domain.OrderStatusDelivered,
		PaymentStatus: domain.PaymentStatusCompleted,
		ConfirmedBy:   optionalString(actor),
		UpdatedAt:     now,
	}
	if payment != nil {
		confirmation.PaymentStatus = payment.Status
	}
	if payErr != nil {
		confirmation.PaymentStatus = domain.PaymentStatusFailed
		s.logger(ctx, "order.payment.failed", map[string]any{
			"orderId": order.ID,
			"method":  string(method),
			"error":   payErr.Error(),
		})
	}
	order, updateErr := s.confirm(ctx, order, payment, confirmation, &warnings)

	s.record(ctx, ActivityRecord{
		Action:      domain.ActivityActionCreate,
		EntityID:    order.ID,
		Description: fmt.Sprintf("Created order %s for %s", order.OrderNumber, order.Customer.Name),
		ActorID:     actor,
		Metadata: map[string]any{
			"orderNumber":   order.OrderNumber,
			"customerName":  order.Customer.Name,
			"customerPhone": order.Customer.Phone,
			"total":         order.Totals.Total.String(),
			"itemCount":     order.ItemCount(),
			"paymentMethod": string(method),
			"paymentStatus": string(order.PaymentStatus),
		},
		OccurredAt: now,
	})

	result = CreateOrderResult{Order: order, Payment: payment, Warnings: warnings}
	if updateErr != nil {
		return result, mapRepositoryError(updateErr)
	}
	if payErr != nil {
		return result, fmt.Errorf("%w: %v", ErrOrderPaymentFailed, payErr)
	}
	return result, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	repoFilter := repositories.OrderListFilter{
		Search:     strings.TrimSpace(filter.Search),
		Pagination: filter.Pagination,
	}
	for _, status := range filter.Status {
		status = OrderStatus(strings.ToUpper(strings.TrimSpace(string(status))))
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
		repoFilter.Status = append(repoFilter.Status, status)
	}
	for _, status := range filter.PaymentStatus {
		status = PaymentStatus(strings.ToUpper(strings.TrimSpace(string(status))))
		if !status.Valid() {
			return domain.CursorPage[Order]{}, fmt.Errorf("%w: unknown payment status %q", ErrOrderInvalidInput, status)
		}
		repoFilter.PaymentStatus = append(repoFilter.PaymentStatus, status)
	}
	if filter.CreatedAfter != nil && filter.CreatedBefore != nil && filter.CreatedAfter.After(*filter.CreatedBefore) {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: created_after must not be later than created_before", ErrOrderInvalidInput)
	}
	repoFilter.CreatedAt = domain.RangeQuery[time.Time]{From: filter.CreatedAfter, To: filter.CreatedBefore}

	page, err := s.orders.List(ctx, repoFilter)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) UpdateOrder(ctx context.Context, cmd UpdateOrderCommand) (result OrderResult, err error) {
	ctx, finish := s.startOp(ctx, "update")
	defer func() { finish(err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var lines []StockLine
	replacing := cmd.Items != nil
	if replacing {
		if lines, err = normaliseItems(*cmd.Items); err != nil {
			return OrderResult{}, err
		}
	}

	var status *OrderStatus
	if cmd.Status != nil {
		target := OrderStatus(strings.ToUpper(strings.TrimSpace(string(*cmd.Status))))
		if !target.Valid() {
			return OrderResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
		}
		if target.StockReturned() {
			return OrderResult{}, fmt.Errorf("%w: use cancel or refund to move an order to %s", ErrOrderInvalidInput, target)
		}
		status = &target
	}

	var lang *string
	if cmd.Language != nil {
		normalised, err := normaliseLanguage(*cmd.Language)
		if err != nil {
			return OrderResult{}, err
		}
		lang = &normalised
	}

	var delivery *Delivery
	if cmd.Delivery != nil {
		if delivery, err = normaliseDelivery(cmd.Delivery); err != nil {
			return OrderResult{}, err
		}
	}

	if err := validateCustomerPatch(cmd.Customer); err != nil {
		return OrderResult{}, err
	}

	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()

	var before, updated Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if (replacing || status != nil) && current.Status.StockReturned() {
			return fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, current.OrderNumber, current.Status)
		}
		before = current
		updated = cloneOrder(current)

		if replacing {
			previous := current.QuantitiesBySKU()
			skus, err := s.inventory.CheckAvailability(txCtx, lines, previous)
			if err != nil {
				return err
			}
			restore, consume := netDelta(previous, quantitiesOf(lines))
			if err := s.inventory.Restore(txCtx, restore); err != nil {
				return err
			}
			if err := s.inventory.Consume(txCtx, consume); err != nil {
				return err
			}
			items := s.buildItems(current.ID, lines, skus)
			if err := s.orders.ReplaceItems(txCtx, current.ID, items); err != nil {
				return err
			}
			updated.Items = items
			updated.Totals.Subtotal = sumItems(items)
			updated.Totals = updated.Totals.Recompute()
		}

		applyCustomerPatch(&updated.Customer, cmd.Customer)
		if cmd.Delivery != nil {
			updated.Delivery = delivery
		}
		if status != nil {
			updated.Status = *status
		}
		if cmd.Notes != nil {
			updated.Notes = textutil.PlainText(*cmd.Notes)
		}
		if lang != nil {
			updated.Language = *lang
		}
		updated.UpdatedAt = now
		return s.orders.Update(txCtx, updated)
	})
	if err != nil {
		return OrderResult{}, mapRepositoryError(err)
	}

	var warnings []string
	s.replaceInvoice(ctx, &updated, s.languages(updated.Language), now, &warnings)
	if s.invoices != nil {
		if current, err := s.orders.FindByID(ctx, orderID); err == nil {
			updated = current
		}
	}

	s.record(ctx, ActivityRecord{
		Action:      domain.ActivityActionUpdate,
		EntityID:    updated.ID,
		Description: fmt.Sprintf("Updated order %s", updated.OrderNumber),
		ActorID:     actor,
		Metadata: map[string]any{
			"orderNumber":    updated.OrderNumber,
			"itemsReplaced":  replacing,
			"previousTotal":  before.Totals.Total.String(),
			"total":          updated.Totals.Total.String(),
			"previousStatus": string(before.Status),
			"status":         string(updated.Status),
		},
		OccurredAt: now,
	})

	return OrderResult{Order: updated, Warnings: warnings}, nil
}

func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) (result OrderResult, err error) {
	ctx, finish := s.startOp(ctx, "delete")
	defer func() { finish(err) }()

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	snapshot, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderResult{}, mapRepositoryError(err)
	}

	actor := strings.TrimSpace(cmd.ActorID)
	s.record(ctx, ActivityRecord{
		Action:      domain.ActivityActionDelete,
		EntityID:    snapshot.ID,
		Description: fmt.Sprintf("Deleted order %s", snapshot.OrderNumber),
		ActorID:     actor,
		Metadata: map[string]any{
			"orderNumber":   snapshot.OrderNumber,
			"status":        string(snapshot.Status),
			"paymentStatus": string(snapshot.PaymentStatus),
			"total":         snapshot.Totals.Total.String(),
			"itemCount":     snapshot.ItemCount(),
			"customerName":  snapshot.Customer.Name,
		},
	})

	var deleted Order
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if !current.Status.StockReturned() {
			if err := s.inventory.Restore(txCtx, current.QuantitiesBySKU()); err != nil {
				return err
			}
		}
		deleted = current
		return s.orders.Delete(txCtx, orderID)
	})
	if err != nil {
		return OrderResult{}, mapRepositoryError(err)
	}

	var warnings []string
	if deleted.Invoice != nil && deleted.Invoice.FileID != "" && s.invoices != nil {
		if err := s.invoices.Delete(ctx, deleted.Invoice.FileID); err != nil {
			warnings = append(warnings, "invoice document could not be deleted")
			s.logger(ctx, "order.invoice.delete.failed", map[string]any{
				"orderId": deleted.ID,
				"fileId":  deleted.Invoice.FileID,
				"error":   err.Error(),
			})
		}
	}
	return OrderResult{Order: deleted, Warnings: warnings}, nil
}

func (s *orderService) CancelOrder(ctx context.Context, cmd OrderTransitionCommand) (order Order, err error) {
	ctx, finish := s.startOp(ctx, "cancel")
	defer func() { finish(err) }()

	return s.reverse(ctx, cmd, reversal{
		action:        domain.ActivityActionCancel,
		status:        domain.OrderStatusCancelled,
		paymentStatus: domain.PaymentStatusCancelled,
		blockedBy:     []OrderStatus{domain.OrderStatusCancelled},
		notePrefix:    "Cancellation reason",
		verb:          "Cancelled",
	})
}

func (s *orderService) RefundOrder(ctx context.Context, cmd OrderTransitionCommand) (order Order, err error) {
	ctx, finish := s.startOp(ctx, "refund")
	defer func() { finish(err) }()

	return s.reverse(ctx, cmd, reversal{
		action:        domain.ActivityActionRefund,
		status:        domain.OrderStatusRefunded,
		paymentStatus: domain.PaymentStatusRefunded,
		blockedBy:     []OrderStatus{domain.OrderStatusRefunded, domain.OrderStatusCancelled},
		notePrefix:    "Refund reason",
		verb:          "Refunded",
	})
}

type reversal struct {
	action        domain.ActivityAction
	status        OrderStatus
	paymentStatus PaymentStatus
	blockedBy     []OrderStatus
	notePrefix    string
	verb          string
}

// reverse gives an order's units back to the ledger and moves it and its payments to a terminal
// status. Stock is only restored when no earlier reversal already did so.
func (s *orderService) reverse(ctx context.Context, cmd OrderTransitionCommand, r reversal) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := textutil.PlainText(cmd.Reason)
	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()

	var previous OrderStatus
	var updated Order
	var restored int
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		for _, blocked := range r.blockedBy {
			if current.Status == blocked {
				return fmt.Errorf("%w: order %s is already %s", ErrOrderInvalidState, current.OrderNumber, current.Status)
			}
		}
		previous = current.Status
		updated = cloneOrder(current)

		if _, err := s.payments.UpdateStatusByOrder(txCtx, orderID, r.paymentStatus, now); err != nil {
			return err
		}
		restored = 0
		if !current.Status.StockReturned() {
			if err := s.inventory.Restore(txCtx, current.QuantitiesBySKU()); err != nil {
				return err
			}
			restored = current.ItemCount()
		}

		updated.Status = r.status
		updated.PaymentStatus = r.paymentStatus
		updated.Notes = appendNote(updated.Notes, r.notePrefix, reason)
		updated.UpdatedAt = now
		switch r.status {
		case domain.OrderStatusCancelled:
			updated.CancelledAt = &now
		case domain.OrderStatusRefunded:
			updated.RefundedAt = &now
		}
		for i := range updated.Payments {
			updated.Payments[i].Status = r.paymentStatus
			updated.Payments[i].UpdatedAt = now
		}
		return s.orders.Update(txCtx, updated)
	})
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	s.record(ctx, ActivityRecord{
		Action:      r.action,
		EntityID:    updated.ID,
		Description: fmt.Sprintf("%s order %s", r.verb, updated.OrderNumber),
		ActorID:     actor,
		Metadata: map[string]any{
			"orderNumber":    updated.OrderNumber,
			"previousStatus": string(previous),
			"reason":         reason,
			"unitsRestored":  restored,
		},
		OccurredAt: now,
	})
	return updated, nil
}

func (s *orderService) RegenerateInvoice(ctx context.Context, cmd RegenerateInvoiceCommand) (order Order, err error) {
	ctx, finish := s.startOp(ctx, "regenerate_invoice")
	defer func() { finish(err) }()

	if s.invoices == nil {
		return Order{}, fmt.Errorf("%w: invoice renderer not configured", ErrOrderUnavailable)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	lang, err := normaliseLanguage(cmd.Language)
	if err != nil {
		return Order{}, err
	}
	order, err = s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}

	previous := order.Invoice
	ref, err := s.invoices.Render(ctx, order, s.languages(lang, order.Language))
	if err != nil {
		s.logger(ctx, "order.invoice.render.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return Order{}, fmt.Errorf("%w: invoice: %v", ErrOrderUnavailable, err)
	}
	now := s.now()
	if err := s.orders.SetInvoice(ctx, order.ID, &ref, lang, now); err != nil {
		s.discardInvoice(ctx, order.ID, ref.FileID)
		return Order{}, mapRepositoryError(err)
	}
	if current, err := s.orders.FindByID(ctx, order.ID); err == nil {
		order = current
	} else {
		order.Invoice = &ref
		if lang != "" {
			order.Language = lang
		}
		order.UpdatedAt = now
	}
	if previous != nil && previous.FileID != ref.FileID {
		s.discardInvoice(ctx, order.ID, previous.FileID)
	}

	s.record(ctx, ActivityRecord{
		Action:      domain.ActivityActionInvoice,
		EntityID:    order.ID,
		Description: fmt.Sprintf("Regenerated invoice for order %s", order.OrderNumber),
		ActorID:     strings.TrimSpace(cmd.ActorID),
		Metadata: map[string]any{
			"orderNumber": order.OrderNumber,
			"fileId":      ref.FileID,
		},
	})
	return order, nil
}

func (s *orderService) InvoiceLink(ctx context.Context, orderID string) (InvoiceLink, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return InvoiceLink{}, err
	}
	if order.Invoice == nil || order.Invoice.FileID == "" {
		return InvoiceLink{}, fmt.Errorf("%w: order %s has no invoice", ErrOrderNotFound, order.OrderNumber)
	}
	if s.invoices == nil {
		return InvoiceLink{URL: order.Invoice.URL}, nil
	}
	url, expires, err := s.invoices.DownloadURL(ctx, *order.Invoice, order.OrderNumber+".html")
	if err != nil {
		return InvoiceLink{}, fmt.Errorf("%w: invoice link: %v", ErrOrderUnavailable, err)
	}
	return InvoiceLink{URL: url, ExpiresAt: expires}, nil
}

// confirm writes the settlement outcome of a freshly created order and returns its stored state.
// An order cancelled or refunded before confirmation keeps its status, and a payment recorded in
// that window follows the order's payment status.
func (s *orderService) confirm(ctx context.Context, order Order, payment *Payment, c repositories.OrderConfirmation, warnings *[]string) (Order, error) {
	confirmed, err := s.orders.Confirm(ctx, order.ID, c)
	if err != nil {
		s.logger(ctx, "order.confirm.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		return order, err
	}
	if !confirmed {
		*warnings = append(*warnings, "order was reversed before it was confirmed")
		if payment != nil {
			if current, err := s.orders.FindByID(ctx, order.ID); err == nil {
				if _, err := s.payments.UpdateStatusByOrder(ctx, order.ID, current.PaymentStatus, c.UpdatedAt); err != nil {
					s.logger(ctx, "order.confirm.payment_sync.failed", map[string]any{"orderId": order.ID, "error": err.Error()})
				}
			}
		}
	}

	stored, err := s.orders.FindByID(ctx, order.ID)
	if err != nil {
		// Confirmation is already written; report it on the local copy.
		if confirmed {
			order.Status = c.Status
			order.PaymentStatus = c.PaymentStatus
			order.ConfirmedBy = c.ConfirmedBy
			order.UpdatedAt = c.UpdatedAt
			if payment != nil {
				order.Payments = []Payment{*payment}
			}
		}
		return order, nil
	}
	return stored, nil
}

func (s *orderService) settle(ctx context.Context, order Order, method PaymentMethod, actor string, now time.Time) (*Payment, error) {
	settlement, err := s.settlement.Settle(ctx, method, payments.SettleRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Amount:      order.Totals.Total,
		Currency:    order.Currency,
		ActorID:     actor,
	})
	if err != nil {
		return nil, err
	}
	payment := Payment{
		ID:           s.nextID(paymentIDPrefix),
		OrderID:      order.ID,
		Method:       settlement.Method,
		Amount:       settlement.Amount,
		Currency:     settlement.Currency,
		Status:       settlement.Status,
		ProcessorRef: settlement.ProcessorRef,
		ProcessedBy:  optionalString(actor),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.payments.Insert(ctx, payment); err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return &payment, fmt.Errorf("%w: settlement returned %s", payments.ErrSettlementFailed, payment.Status)
	}
	return &payment, nil
}

func (s *orderService) renderInvoice(ctx context.Context, order Order, lang string, warnings *[]string) (InvoiceRef, bool) {
	if s.invoices == nil {
		return InvoiceRef{}, false
	}
	ref, err := s.invoices.Render(ctx, order, lang)
	if err != nil {
		*warnings = append(*warnings, "invoice could not be generated")
		s.logger(ctx, "order.invoice.render.failed", map[string]any{
			"orderId":  order.ID,
			"language": lang,
			"error":    err.Error(),
		})
		return InvoiceRef{}, false
	}
	return ref, true
}

// replaceInvoice drops the previous document and renders a fresh one. Failures become warnings;
// the stored reference always reflects what exists afterwards.
func (s *orderService) replaceInvoice(ctx context.Context, order *Order, lang string, now time.Time, warnings *[]string) {
	if s.invoices == nil {
		return
	}
	if order.Invoice != nil && order.Invoice.FileID != "" {
		if err := s.invoices.Delete(ctx, order.Invoice.FileID); err != nil {
			*warnings = append(*warnings, "previous invoice could not be deleted")
			s.logger(ctx, "order.invoice.delete.failed", map[string]any{
				"orderId": order.ID,
				"fileId":  order.Invoice.FileID,
				"error":   err.Error(),
			})
		}
	}
	order.Invoice = nil
	var ref *InvoiceRef
	if rendered, ok := s.renderInvoice(ctx, *order, lang, warnings); ok {
		ref = &rendered
	}
	if s.saveInvoice(ctx, order.ID, ref, "", now, warnings) {
		order.Invoice = ref
	}
}

// saveInvoice stores ref on the order without touching any other column. A document whose
// reference cannot be stored is removed again.
func (s *orderService) saveInvoice(ctx context.Context, orderID string, ref *InvoiceRef, lang string, now time.Time, warnings *[]string) bool {
	if err := s.orders.SetInvoice(ctx, orderID, ref, lang, now); err != nil {
		*warnings = append(*warnings, "invoice reference could not be saved")
		s.logger(ctx, "order.invoice.persist.failed", map[string]any{"orderId": orderID, "error": err.Error()})
		if ref != nil {
			s.discardInvoice(ctx, orderID, ref.FileID)
		}
		return false
	}
	return true
}

func (s *orderService) discardInvoice(ctx context.Context, orderID, fileID string) {
	if fileID == "" {
		return
	}
	if err := s.invoices.Delete(ctx, fileID); err != nil {
		s.logger(ctx, "order.invoice.delete.failed", map[string]any{
			"orderId": orderID,
			"fileId":  fileID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) record(ctx context.Context, record ActivityRecord) {
	if s.activity == nil {
		return
	}
	s.activity.Record(ctx, record)
}

func (s *orderService) buildItems(orderID string, lines []StockLine, skus map[string]SKU) []OrderItem {
	items := make([]OrderItem, 0, len(lines))
	for i, line := range lines {
		sku := skus[line.SKUID]
		items = append(items, OrderItem{
			ID:          s.nextID(orderItemIDPrefix),
			OrderID:     orderID,
			SKUID:       sku.ID,
			ProductName: sku.ProductName,
			SKUCode:     sku.Code,
			UnitPrice:   sku.Price,
			Quantity:    line.Quantity,
			TotalPrice:  sku.Price.Mul(line.Quantity),
			Position:    i,
		})
	}
	return items
}

func (s *orderService) resolveCurrency(raw string) (string, error) {
	currency := strings.ToUpper(strings.TrimSpace(raw))
	if currency == "" {
		return s.currency, nil
	}
	if len(currency) != 3 || strings.Trim(currency, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") != "" {
		return "", fmt.Errorf("%w: currency must be a three-letter ISO code", ErrOrderInvalidInput)
	}
	return currency, nil
}

func (s *orderService) startOp(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := orderTracer.Start(ctx, "orders."+op)
	started := time.Now()
	return ctx, func(err error) {
		outcome := errorKind(err)
		attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("outcome", outcome))
		if s.operations != nil {
			s.operations.Add(ctx, 1, attrs)
		}
		if s.latency != nil {
			s.latency.Record(ctx, float64(time.Since(started))/float64(time.Millisecond), attrs)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
		}
		span.End()
	}
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextID(prefix string) string {
	return prefix + strings.ToLower(s.newID())
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func errorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOrderInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, ErrOrderInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrOrderInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrOrderConflict):
		return "conflict"
	case errors.Is(err, ErrOrderUnavailable):
		return "unavailable"
	case errors.Is(err, ErrOrderPaymentFailed):
		return "payment_failed"
	default:
		return "error"
	}
}

func normaliseItems(items []ItemInput) ([]StockLine, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	lines := make([]StockLine, 0, len(items))
	for i, item := range items {
		id := strings.TrimSpace(item.SKUID)
		if id == "" {
			return nil, fmt.Errorf("%w: items[%d].skuId is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: items[%d].quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		lines = append(lines, StockLine{SKUID: id, Quantity: item.Quantity})
	}
	return lines, nil
}

func normaliseCustomer(c Customer) (Customer, error) {
	out := Customer{
		Name:    textutil.PlainText(c.Name),
		Phone:   strings.TrimSpace(c.Phone),
		Email:   textutil.OptionalPlainText(c.Email),
		Address: textutil.OptionalPlainText(c.Address),
	}
	if out.Name == "" {
		return Customer{}, fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	if out.Phone == "" {
		return Customer{}, fmt.Errorf("%w: customer phone is required", ErrOrderInvalidInput)
	}
	if out.Email != nil && !strings.Contains(*out.Email, "@") {
		return Customer{}, fmt.Errorf("%w: customer email is invalid", ErrOrderInvalidInput)
	}
	return out, nil
}

func validateCustomerPatch(p *CustomerPatch) error {
	if p == nil {
		return nil
	}
	if p.Name != nil && textutil.PlainText(*p.Name) == "" {
		return fmt.Errorf("%w: customer name must not be empty", ErrOrderInvalidInput)
	}
	if p.Phone != nil && strings.TrimSpace(*p.Phone) == "" {
		return fmt.Errorf("%w: customer phone must not be empty", ErrOrderInvalidInput)
	}
	if p.Email != nil {
		if email := textutil.PlainText(*p.Email); email != "" && !strings.Contains(email, "@") {
			return fmt.Errorf("%w: customer email is invalid", ErrOrderInvalidInput)
		}
	}
	return nil
}

func applyCustomerPatch(c *Customer, p *CustomerPatch) {
	if p == nil {
		return
	}
	if p.Name != nil {
		c.Name = textutil.PlainText(*p.Name)
	}
	if p.Phone != nil {
		c.Phone = strings.TrimSpace(*p.Phone)
	}
	if p.Email != nil {
		c.Email = textutil.OptionalPlainText(p.Email)
	}
	if p.Address != nil {
		c.Address = textutil.OptionalPlainText(p.Address)
	}
}

func normaliseDelivery(d *Delivery) (*Delivery, error) {
	if d == nil {
		return nil, nil
	}
	if d.Latitude != nil && (*d.Latitude < -90 || *d.Latitude > 90) {
		return nil, fmt.Errorf("%w: delivery latitude out of range", ErrOrderInvalidInput)
	}
	if d.Longitude != nil && (*d.Longitude < -180 || *d.Longitude > 180) {
		return nil, fmt.Errorf("%w: delivery longitude out of range", ErrOrderInvalidInput)
	}
	out := &Delivery{
		Latitude:  cloneFloatPtr(d.Latitude),
		Longitude: cloneFloatPtr(d.Longitude),
		Address:   textutil.OptionalPlainText(d.Address),
	}
	if out.Latitude == nil && out.Longitude == nil && out.Address == nil {
		return nil, nil
	}
	return out, nil
}

func normaliseLanguage(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	tag, err := language.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: language %q is not a valid tag", ErrOrderInvalidInput, raw)
	}
	return tag.String(), nil
}

func normalisePaymentMethod(method PaymentMethod) PaymentMethod {
	normalised := PaymentMethod(strings.ToUpper(strings.TrimSpace(string(method))))
	if normalised == "" {
		return domain.PaymentMethodCash
	}
	return normalised
}

func firstLanguage(candidates ...string) string {
	for _, candidate := range candidates {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return defaultOrderLanguage
}

func quantitiesOf(lines []StockLine) map[string]int {
	out := make(map[string]int, len(lines))
	for _, line := range lines {
		out[line.SKUID] += line.Quantity
	}
	return out
}

// netDelta splits the move from previous to next quantities into units to give back and units to take.
func netDelta(previous, next map[string]int) (restore, consume map[string]int) {
	restore = make(map[string]int)
	consume = make(map[string]int)
	for id, qty := range previous {
		if diff := qty - next[id]; diff > 0 {
			restore[id] = diff
		}
	}
	for id, qty := range next {
		if diff := qty - previous[id]; diff > 0 {
			consume[id] = diff
		}
	}
	return restore, consume
}

func sumItems(items []OrderItem) Money {
	var total Money
	for _, item := range items {
		total = total.Add(item.TotalPrice)
	}
	return total
}

func appendNote(notes, prefix, reason string) string {
	if reason == "" {
		return notes
	}
	line := prefix + ": " + reason
	if strings.TrimSpace(notes) == "" {
		return line
	}
	return notes + "\n" + line
}

func cloneOrder(order Order) Order {
	cloned := order
	cloned.Items = append([]OrderItem(nil), order.Items...)
	cloned.Payments = append([]Payment(nil), order.Payments...)
	if order.Invoice != nil {
		ref := *order.Invoice
		cloned.Invoice = &ref
	}
	if order.Delivery != nil {
		d := *order.Delivery
		cloned.Delivery = &d
	}
	return cloned
}

func cloneFloatPtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
