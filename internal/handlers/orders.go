package handlers

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/auth"
	"github.com/hanko-field/orderledger/internal/platform/httpx"
	"github.com/hanko-field/orderledger/internal/platform/idempotency"
	"github.com/hanko-field/orderledger/internal/platform/pagination"
	"github.com/hanko-field/orderledger/internal/services"
)

const (
	maxOrderBodySize      = 64 * 1024
	maxTransitionBodySize = 4 * 1024
)

// OrderHandlers exposes the staff-facing order endpoints. Authentication is applied by the
// router group.
type OrderHandlers struct {
	orders     services.OrderService
	activity   services.ActivityLogService
	idempotent func(http.Handler) http.Handler
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithActivityLog enables GET /orders/{orderID}/activity.
func WithActivityLog(svc services.ActivityLogService) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.activity = svc
	}
}

// WithCreateMiddleware wraps POST /orders, typically with the idempotency middleware.
func WithCreateMiddleware(mw func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.idempotent = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{orders: orders}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	create := http.Handler(http.HandlerFunc(h.createOrder))
	if h.idempotent != nil {
		create = h.idempotent(create)
	}
	r.Method(http.MethodPost, "/", create)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}", h.updateOrder)
	r.Delete("/{orderID}", h.deleteOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}:refund", h.refundOrder)
	r.Post("/{orderID}:regenerate-invoice", h.regenerateInvoice)
	r.Get("/{orderID}/invoice", h.invoiceLink)
	r.Get("/{orderID}/activity", h.listActivity)
}

type customerRequest struct {
	Name    string  `json:"name"`
	Phone   string  `json:"phone"`
	Email   *string `json:"email"`
	Address *string `json:"address"`
}

type deliveryRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   *string  `json:"address"`
}

type itemRequest struct {
	SKUID    string `json:"sku_id"`
	Quantity int    `json:"quantity"`
}

type createOrderRequest struct {
	Customer      customerRequest  `json:"customer"`
	Items         []itemRequest    `json:"items"`
	Delivery      *deliveryRequest `json:"delivery"`
	PaymentMethod string           `json:"payment_method"`
	Language      string           `json:"language"`
	Notes         string           `json:"notes"`
	Currency      string           `json:"currency"`
}

type customerPatchRequest struct {
	Name    *string `json:"name"`
	Phone   *string `json:"phone"`
	Email   *string `json:"email"`
	Address *string `json:"address"`
}

type updateOrderRequest struct {
	Items    *[]itemRequest        `json:"items"`
	Customer *customerPatchRequest `json:"customer"`
	Delivery *deliveryRequest      `json:"delivery"`
	Status   *string               `json:"status"`
	Notes    *string               `json:"notes"`
	Language *string               `json:"language"`
}

type transitionRequest struct {
	Reason string `json:"reason"`
}

type regenerateInvoiceRequest struct {
	Language string `json:"language"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}

	var req createOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, true, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	paymentMethod := strings.TrimSpace(req.PaymentMethod)
	if paymentMethod == "" {
		paymentMethod = string(domain.PaymentMethodCash)
	}
	cmd := services.CreateOrderCommand{
		Customer: services.Customer{
			Name:    req.Customer.Name,
			Phone:   req.Customer.Phone,
			Email:   req.Customer.Email,
			Address: req.Customer.Address,
		},
		Items:         toItemInputs(req.Items),
		Delivery:      toDelivery(req.Delivery),
		PaymentMethod: services.PaymentMethod(paymentMethod),
		Language:      req.Language,
		Notes:         req.Notes,
		Currency:      req.Currency,
		ActorID:       auth.ActorID(ctx),
	}

	result, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		if result.Order.ID != "" {
			// the order and its stock are committed; a retry must replay this response
			idempotency.MarkCommitted(ctx)
		}
		writeOrderError(ctx, w, err, result.Order.ID)
		return
	}

	w.Header().Set("Location", "/api/v1/orders/"+result.Order.ID)
	writeJSONResponse(w, http.StatusCreated, createOrderResponse{
		Order:    buildOrderPayload(result.Order),
		Payment:  buildPaymentPointer(result.Payment),
		Warnings: result.Warnings,
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}

	query := r.URL.Query()
	page, err := pagination.Parse(query)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		Search:     strings.TrimSpace(query.Get("q")),
		Pagination: services.Pagination{PageSize: page.PageSize, PageToken: page.PageToken},
	}
	for _, value := range parseFilterValues(query["status"]) {
		filter.Status = append(filter.Status, services.OrderStatus(value))
	}
	for _, value := range parseFilterValues(query["payment_status"]) {
		filter.PaymentStatus = append(filter.PaymentStatus, services.PaymentStatus(value))
	}
	for param, dst := range map[string]**time.Time{
		"created_after":  &filter.CreatedAfter,
		"created_before": &filter.CreatedBefore,
	} {
		raw := strings.TrimSpace(query.Get(param))
		if raw == "" {
			continue
		}
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", param+" must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		*dst = &ts
	}

	result, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err, "")
		return
	}

	items := make([]orderSummaryPayload, 0, len(result.Items))
	for _, order := range result.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(result.NextPageToken),
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err, orderID)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req updateOrderRequest
	if err := httpx.DecodeJSON(r, maxOrderBodySize, true, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	cmd := services.UpdateOrderCommand{
		OrderID:  orderID,
		Delivery: toDelivery(req.Delivery),
		Notes:    req.Notes,
		Language: req.Language,
		ActorID:  auth.ActorID(ctx),
	}
	if req.Items != nil {
		items := toItemInputs(*req.Items)
		cmd.Items = &items
	}
	if req.Customer != nil {
		cmd.Customer = &services.CustomerPatch{
			Name:    req.Customer.Name,
			Phone:   req.Customer.Phone,
			Email:   req.Customer.Email,
			Address: req.Customer.Address,
		}
	}
	if req.Status != nil {
		status := services.OrderStatus(strings.ToUpper(strings.TrimSpace(*req.Status)))
		if !status.Valid() {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.Status = &status
	}

	result, err := h.orders.UpdateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err, orderID)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(result.Order), Warnings: result.Warnings})
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	result, err := h.orders.DeleteOrder(ctx, services.DeleteOrderCommand{OrderID: orderID, ActorID: auth.ActorID(ctx)})
	if err != nil {
		writeOrderError(ctx, w, err, orderID)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(result.Order), Warnings: result.Warnings})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.CancelOrder)
}

func (h *OrderHandlers) refundOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orders.RefundOrder)
}

func (h *OrderHandlers) transition(w http.ResponseWriter, r *http.Request, apply func(context.Context, services.OrderTransitionCommand) (services.Order, error)) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := httpx.DecodeJSON(r, maxTransitionBodySize, false, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	order, err := apply(ctx, services.OrderTransitionCommand{
		OrderID: orderID,
		Reason:  req.Reason,
		ActorID: auth.ActorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err, orderID)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) regenerateInvoice(w http.ResponseWriter, r *http.Request) {
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	serveRegenerateInvoice(w, r, h.orders, orderID)
}

func (h *OrderHandlers) invoiceLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}

	link, err := h.orders.InvoiceLink(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err, orderID)
		return
	}
	writeJSONResponse(w, http.StatusOK, invoiceLinkResponse{
		URL:       link.URL,
		ExpiresAt: formatTime(link.ExpiresAt),
	})
}

func (h *OrderHandlers) listActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID, ok := h.orderID(w, r)
	if !ok {
		return
	}
	if h.activity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("activity_log_unavailable", "activity log unavailable", http.StatusServiceUnavailable))
		return
	}

	page, err := pagination.Parse(r.URL.Query())
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.activity.List(ctx, services.ActivityListFilter{
		OrderID:    orderID,
		Pagination: services.Pagination{PageSize: page.PageSize, PageToken: page.PageToken},
	})
	if err != nil {
		writeOrderError(ctx, w, err, orderID)
		return
	}

	items := make([]activityPayload, 0, len(result.Items))
	for _, entry := range result.Items {
		items = append(items, activityPayload{
			ID:          entry.ID,
			Action:      string(entry.Action),
			Entity:      entry.Entity,
			EntityID:    entry.EntityID,
			Description: entry.Description,
			ActorID:     entry.ActorID,
			Metadata:    cloneMap(entry.Metadata),
			OccurredAt:  formatTime(entry.OccurredAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, activityListResponse{Items: items, NextPageToken: result.NextPageToken})
}

func (h *OrderHandlers) ready(ctx context.Context, w http.ResponseWriter) bool {
	if h == nil || h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *OrderHandlers) orderID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if !h.ready(r.Context(), w) {
		return "", false
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

// serveRegenerateInvoice is shared by the staff route and the internal route.
func serveRegenerateInvoice(w http.ResponseWriter, r *http.Request, orders services.OrderService, orderID string) {
	ctx := r.Context()
	var req regenerateInvoiceRequest
	if err := httpx.DecodeJSON(r, maxTransitionBodySize, false, &req); err != nil {
		httpx.WriteDecodeError(w, r, err)
		return
	}

	order, err := orders.RegenerateInvoice(ctx, services.RegenerateInvoiceCommand{
		OrderID:  orderID,
		Language: req.Language,
		ActorID:  auth.ActorID(ctx),
	})
	if err != nil {
		writeOrderError(ctx, w, err, orderID)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	CustomerName  string `json:"customer_name"`
	Currency      string `json:"currency"`
	Total         string `json:"total"`
	ItemCount     int    `json:"item_count"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order    orderPayload `json:"order"`
	Warnings []string     `json:"warnings,omitempty"`
}

type createOrderResponse struct {
	Order    orderPayload    `json:"order"`
	Payment  *paymentPayload `json:"payment,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

type orderPayload struct {
	ID            string           `json:"id"`
	OrderNumber   string           `json:"order_number"`
	Status        string           `json:"status"`
	PaymentStatus string           `json:"payment_status"`
	Currency      string           `json:"currency"`
	Totals        totalsPayload    `json:"totals"`
	Customer      customerPayload  `json:"customer"`
	Delivery      *deliveryPayload `json:"delivery,omitempty"`
	Invoice       *invoicePayload  `json:"invoice,omitempty"`
	Language      string           `json:"language,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	CreatedBy     string           `json:"created_by,omitempty"`
	ConfirmedBy   string           `json:"confirmed_by,omitempty"`
	Items         []itemPayload    `json:"items"`
	Payments      []paymentPayload `json:"payments,omitempty"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at,omitempty"`
	CancelledAt   string           `json:"cancelled_at,omitempty"`
	RefundedAt    string           `json:"refunded_at,omitempty"`
}

type totalsPayload struct {
	Subtotal string `json:"subtotal"`
	Tax      string `json:"tax"`
	Shipping string `json:"shipping"`
	Discount string `json:"discount"`
	Total    string `json:"total"`
}

type customerPayload struct {
	Name    string  `json:"name"`
	Phone   string  `json:"phone"`
	Email   *string `json:"email,omitempty"`
	Address *string `json:"address,omitempty"`
}

type deliveryPayload struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   *string  `json:"address,omitempty"`
}

type invoicePayload struct {
	URL    string `json:"url"`
	FileID string `json:"file_id"`
}

type itemPayload struct {
	ID          string `json:"id"`
	SKUID       string `json:"sku_id"`
	SKUCode     string `json:"sku_code"`
	ProductName string `json:"product_name"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	TotalPrice  string `json:"total_price"`
}

type paymentPayload struct {
	ID           string `json:"id"`
	Method       string `json:"method"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	ProcessorRef string `json:"processor_ref,omitempty"`
	ProcessedBy  string `json:"processed_by,omitempty"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

type invoiceLinkResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type activityListResponse struct {
	Items         []activityPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type activityPayload struct {
	ID          string         `json:"id"`
	Action      string         `json:"action"`
	Entity      string         `json:"entity"`
	EntityID    string         `json:"entity_id"`
	Description string         `json:"description"`
	ActorID     string         `json:"actor_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OccurredAt  string         `json:"occurred_at"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		CustomerName:  order.Customer.Name,
		Currency:      order.Currency,
		Total:         order.Totals.Total.String(),
		ItemCount:     order.ItemCount(),
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      order.Currency,
		Totals: totalsPayload{
			Subtotal: order.Totals.Subtotal.String(),
			Tax:      order.Totals.Tax.String(),
			Shipping: order.Totals.Shipping.String(),
			Discount: order.Totals.Discount.String(),
			Total:    order.Totals.Total.String(),
		},
		Customer: customerPayload{
			Name:    order.Customer.Name,
			Phone:   order.Customer.Phone,
			Email:   order.Customer.Email,
			Address: order.Customer.Address,
		},
		Language:    order.Language,
		Notes:       order.Notes,
		CreatedBy:   derefString(order.CreatedBy),
		ConfirmedBy: derefString(order.ConfirmedBy),
		Items:       make([]itemPayload, 0, len(order.Items)),
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		CancelledAt: formatTime(pointerTime(order.CancelledAt)),
		RefundedAt:  formatTime(pointerTime(order.RefundedAt)),
	}
	if order.Delivery != nil {
		payload.Delivery = &deliveryPayload{
			Latitude:  order.Delivery.Latitude,
			Longitude: order.Delivery.Longitude,
			Address:   order.Delivery.Address,
		}
	}
	if order.Invoice != nil {
		payload.Invoice = &invoicePayload{URL: order.Invoice.URL, FileID: order.Invoice.FileID}
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, itemPayload{
			ID:          item.ID,
			SKUID:       item.SKUID,
			SKUCode:     item.SKUCode,
			ProductName: item.ProductName,
			UnitPrice:   item.UnitPrice.String(),
			Quantity:    item.Quantity,
			TotalPrice:  item.TotalPrice.String(),
		})
	}
	for _, payment := range order.Payments {
		payload.Payments = append(payload.Payments, buildPaymentPayload(payment))
	}
	return payload
}

func buildPaymentPayload(payment services.Payment) paymentPayload {
	return paymentPayload{
		ID:           payment.ID,
		Method:       string(payment.Method),
		Amount:       payment.Amount.String(),
		Currency:     payment.Currency,
		Status:       string(payment.Status),
		ProcessorRef: payment.ProcessorRef,
		ProcessedBy:  derefString(payment.ProcessedBy),
		CreatedAt:    formatTime(payment.CreatedAt),
		UpdatedAt:    formatTime(payment.UpdatedAt),
	}
}

func buildPaymentPointer(payment *services.Payment) *paymentPayload {
	if payment == nil {
		return nil
	}
	payload := buildPaymentPayload(*payment)
	return &payload
}

// writeOrderError maps engine errors onto the HTTP error envelope. orderID, when known, is echoed
// so callers can follow up on a created-but-unsettled order.
func writeOrderError(ctx context.Context, w http.ResponseWriter, err error, orderID string) {
	if err == nil {
		return
	}

	var stockErr *services.InsufficientStockError
	var missing *services.NotFoundError
	switch {
	case errors.As(err, &stockErr):
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", stockErr.Error(), http.StatusConflict).WithDetails(map[string]any{
			"sku_id":    stockErr.SKUID,
			"available": stockErr.Available,
			"requested": stockErr.Requested,
		}))
	case errors.As(err, &missing):
		httpx.WriteError(ctx, w, httpx.NewError(missing.Entity+"_not_found", missing.Error(), http.StatusNotFound).WithDetails(map[string]any{
			"ids": missing.IDs,
		}))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_unavailable", "order store unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, services.ErrOrderPaymentFailed):
		e := httpx.NewError("payment_failed", err.Error(), http.StatusBadGateway)
		if orderID != "" {
			e = e.WithDetails(map[string]any{"order_id": orderID})
		}
		httpx.WriteError(ctx, w, e)
	case errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func toItemInputs(items []itemRequest) []services.ItemInput {
	out := make([]services.ItemInput, 0, len(items))
	for _, item := range items {
		out = append(out, services.ItemInput{SKUID: item.SKUID, Quantity: item.Quantity})
	}
	return out
}

func toDelivery(req *deliveryRequest) *services.Delivery {
	if req == nil {
		return nil
	}
	return &services.Delivery{Latitude: req.Latitude, Longitude: req.Longitude, Address: req.Address}
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToUpper(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func cloneMap(src map[string]any) map[string]any {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}
