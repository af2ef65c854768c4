package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/platform/auth"
	"github.com/hanko-field/orderledger/internal/platform/idempotency"
	"github.com/hanko-field/orderledger/internal/services"
)

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error)
	getFn        func(context.Context, string) (services.Order, error)
	listFn       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	updateFn     func(context.Context, services.UpdateOrderCommand) (services.OrderResult, error)
	deleteFn     func(context.Context, services.DeleteOrderCommand) (services.OrderResult, error)
	cancelFn     func(context.Context, services.OrderTransitionCommand) (services.Order, error)
	refundFn     func(context.Context, services.OrderTransitionCommand) (services.Order, error)
	regenerateFn func(context.Context, services.RegenerateInvoiceCommand) (services.Order, error)
	linkFn       func(context.Context, string) (services.InvoiceLink, error)
}

var errNotStubbed = errors.New("not implemented")

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.CreateOrderResult{}, errNotStubbed
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) UpdateOrder(ctx context.Context, cmd services.UpdateOrderCommand) (services.OrderResult, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.OrderResult{}, errNotStubbed
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, cmd services.DeleteOrderCommand) (services.OrderResult, error) {
	if s.deleteFn != nil {
		return s.deleteFn(ctx, cmd)
	}
	return services.OrderResult{}, errNotStubbed
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) RefundOrder(ctx context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) RegenerateInvoice(ctx context.Context, cmd services.RegenerateInvoiceCommand) (services.Order, error) {
	if s.regenerateFn != nil {
		return s.regenerateFn(ctx, cmd)
	}
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) InvoiceLink(ctx context.Context, orderID string) (services.InvoiceLink, error) {
	if s.linkFn != nil {
		return s.linkFn(ctx, orderID)
	}
	return services.InvoiceLink{}, errNotStubbed
}

type stubActivityLog struct {
	listFn func(context.Context, services.ActivityListFilter) (domain.CursorPage[services.ActivityEntry], error)
}

func (s *stubActivityLog) Record(context.Context, services.ActivityRecord) {}

func (s *stubActivityLog) List(ctx context.Context, filter services.ActivityListFilter) (domain.CursorPage[services.ActivityEntry], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[services.ActivityEntry]{}, nil
}

func (s *stubActivityLog) Flush(context.Context) error { return nil }

var (
	_ services.OrderService       = (*stubOrderService)(nil)
	_ services.ActivityLogService = (*stubActivityLog)(nil)
)

func sampleOrder() services.Order {
	created := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	actor := "staff-1"
	return services.Order{
		ID:            "ord_01",
		OrderNumber:   "ORD-2024-000001",
		Status:        domain.OrderStatusDelivered,
		PaymentStatus: domain.PaymentStatusCompleted,
		Currency:      "USD",
		Totals:        services.OrderTotals{Subtotal: domain.NewMoney(60, 0), Total: domain.NewMoney(60, 0)},
		Customer:      services.Customer{Name: "Ada", Phone: "+1 555 0100"},
		Invoice:       &services.InvoiceRef{URL: "https://storage.example/inv.html", FileID: "invoices/ord_01.html"},
		Language:      "en",
		ConfirmedBy:   &actor,
		Items: []services.OrderItem{{
			ID:          "itm_01",
			OrderID:     "ord_01",
			SKUID:       "sku_a",
			SKUCode:     "SKU-A",
			ProductName: "Widget",
			UnitPrice:   domain.NewMoney(20, 0),
			Quantity:    3,
			TotalPrice:  domain.NewMoney(60, 0),
		}},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func newOrderRouter(svc services.OrderService, opts ...OrderHandlerOption) chi.Router {
	handler := NewOrderHandlers(svc, opts...)
	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := auth.WithIdentity(r.Context(), &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Route("/orders", handler.Routes)
	return router
}

func serveJSON(router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, _ := json.Marshal(v)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	var captured services.CreateOrderCommand
	svc := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.CreateOrderResult, error) {
			captured = cmd
			order := sampleOrder()
			payment := services.Payment{ID: "pay_01", Method: domain.PaymentMethodCash, Amount: order.Totals.Total, Currency: "USD", Status: domain.PaymentStatusCompleted}
			return services.CreateOrderResult{Order: order, Payment: &payment, Warnings: []string{"invoice render failed"}}, nil
		},
	}

	rr := serveJSON(newOrderRouter(svc), http.MethodPost, "/orders", map[string]any{
		"customer": map[string]any{"name": "Ada", "phone": "+1 555 0100"},
		"items":    []map[string]any{{"sku_id": "sku_a", "quantity": 3}},
		"language": "en",
	})

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/api/v1/orders/ord_01" {
		t.Fatalf("unexpected location %q", loc)
	}
	if captured.ActorID != "staff-1" || captured.PaymentMethod != domain.PaymentMethodCash {
		t.Fatalf("unexpected command %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].SKUID != "sku_a" || captured.Items[0].Quantity != 3 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}

	body := decodeBody(t, rr)
	order := body["order"].(map[string]any)
	totals := order["totals"].(map[string]any)
	if totals["subtotal"] != "60.00" || totals["total"] != "60.00" || totals["tax"] != "0.00" {
		t.Fatalf("expected decimal string totals, got %v", totals)
	}
	item := order["items"].([]any)[0].(map[string]any)
	if item["unit_price"] != "20.00" || item["total_price"] != "60.00" {
		t.Fatalf("unexpected item payload %v", item)
	}
	if body["payment"].(map[string]any)["status"] != "COMPLETED" {
		t.Fatalf("unexpected payment %v", body["payment"])
	}
	if warnings := body["warnings"].([]any); len(warnings) != 1 {
		t.Fatalf("expected one warning, got %v", warnings)
	}
}

func TestOrderHandlersCreateOrderRejectsBadBody(t *testing.T) {
	called := false
	svc := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
		called = true
		return services.CreateOrderResult{}, nil
	}}
	router := newOrderRouter(svc)

	for name, body := range map[string]string{
		"empty":         "",
		"malformed":     "{",
		"unknown field": `{"customer":{"name":"a","phone":"1"},"items":[],"coupon":"X"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rr := serveJSON(router, http.MethodPost, "/orders", body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
		})
	}
	if called {
		t.Fatalf("service must not be called for invalid bodies")
	}
}

func TestOrderHandlersErrorMapping(t *testing.T) {
	cases := map[string]struct {
		err    error
		status int
		code   string
	}{
		"invalid input":  {err: fmt.Errorf("%w: items required", services.ErrOrderInvalidInput), status: http.StatusBadRequest, code: "invalid_request"},
		"missing skus":   {err: &services.NotFoundError{Entity: "sku", IDs: []string{"sku_x", "sku_y"}}, status: http.StatusNotFound, code: "sku_not_found"},
		"insufficient":   {err: &services.InsufficientStockError{SKUID: "sku_a", SKUCode: "SKU-A", ProductName: "Widget", Available: 5, Requested: 6}, status: http.StatusConflict, code: "insufficient_stock"},
		"invalid state":  {err: fmt.Errorf("%w: already cancelled", services.ErrOrderInvalidState), status: http.StatusConflict, code: "invalid_state"},
		"conflict":       {err: services.ErrOrderConflict, status: http.StatusConflict, code: "order_conflict"},
		"unavailable":    {err: services.ErrOrderUnavailable, status: http.StatusServiceUnavailable, code: "order_unavailable"},
		"payment failed": {err: fmt.Errorf("%w: drawer closed", services.ErrOrderPaymentFailed), status: http.StatusBadGateway, code: "payment_failed"},
		"unexpected":     {err: errors.New("boom"), status: http.StatusInternalServerError, code: "order_error"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
				return services.CreateOrderResult{Order: services.Order{ID: "ord_01"}}, tc.err
			}}
			rr := serveJSON(newOrderRouter(svc), http.MethodPost, "/orders", map[string]any{
				"customer": map[string]any{"name": "Ada", "phone": "1"},
				"items":    []map[string]any{{"sku_id": "sku_a", "quantity": 6}},
			})
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
		})
	}
}

func TestOrderHandlersInsufficientStockDetails(t *testing.T) {
	svc := &stubOrderService{getFn: func(context.Context, string) (services.Order, error) {
		return services.Order{}, &services.InsufficientStockError{SKUID: "sku_a", SKUCode: "SKU-1", ProductName: "Widget", Available: 2, Requested: 5}
	}}
	rr := serveJSON(newOrderRouter(svc), http.MethodGet, "/orders/ord_01", nil)
	body := decodeBody(t, rr)
	if body["message"] != "Insufficient stock for Widget (SKU-1). Available: 2, Requested: 5" {
		t.Fatalf("unexpected message %v", body["message"])
	}
	if body["available"] != float64(2) || body["requested"] != float64(5) {
		t.Fatalf("unexpected details %v", body)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	var captured services.OrderListFilter
	svc := &stubOrderService{listFn: func(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
		captured = filter
		return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}, NextPageToken: "next"}, nil
	}}

	rr := serveJSON(newOrderRouter(svc), http.MethodGet, "/orders?status=delivered,cancelled&payment_status=completed&q=ada&created_after=2024-03-01T00:00:00Z&page_size=500", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(captured.Status) != 2 || captured.Status[0] != domain.OrderStatusDelivered || captured.Status[1] != domain.OrderStatusCancelled {
		t.Fatalf("unexpected status filter %v", captured.Status)
	}
	if len(captured.PaymentStatus) != 1 || captured.PaymentStatus[0] != domain.PaymentStatusCompleted {
		t.Fatalf("unexpected payment filter %v", captured.PaymentStatus)
	}
	if captured.Search != "ada" || captured.CreatedAfter == nil || captured.CreatedBefore != nil {
		t.Fatalf("unexpected filter %+v", captured)
	}
	if captured.Pagination.PageSize != 100 {
		t.Fatalf("expected clamped page size, got %d", captured.Pagination.PageSize)
	}

	body := decodeBody(t, rr)
	if body["next_page_token"] != "next" {
		t.Fatalf("unexpected token %v", body["next_page_token"])
	}
	summary := body["items"].([]any)[0].(map[string]any)
	if summary["total"] != "60.00" || summary["item_count"] != float64(3) {
		t.Fatalf("unexpected summary %v", summary)
	}
}

func TestOrderHandlersListOrdersRejectsBadParams(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})
	for _, target := range []string{"/orders?page_size=abc", "/orders?created_before=yesterday", "/orders?page_token=%21%21"} {
		rr := serveJSON(router, http.MethodGet, target, nil)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", target, rr.Code)
		}
	}
}

func TestOrderHandlersUpdateOrder(t *testing.T) {
	var captured services.UpdateOrderCommand
	svc := &stubOrderService{updateFn: func(_ context.Context, cmd services.UpdateOrderCommand) (services.OrderResult, error) {
		captured = cmd
		return services.OrderResult{Order: sampleOrder()}, nil
	}}

	rr := serveJSON(newOrderRouter(svc), http.MethodPatch, "/orders/ord_01", map[string]any{
		"items":    []map[string]any{{"sku_id": "sku_a", "quantity": 5}},
		"customer": map[string]any{"phone": "+1 555 0199"},
		"status":   "processing",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_01" || captured.ActorID != "staff-1" {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Items == nil || (*captured.Items)[0].Quantity != 5 {
		t.Fatalf("expected replacement items, got %+v", captured.Items)
	}
	if captured.Customer == nil || captured.Customer.Name != nil || *captured.Customer.Phone != "+1 555 0199" {
		t.Fatalf("unexpected customer patch %+v", captured.Customer)
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusProcessing {
		t.Fatalf("unexpected status %v", captured.Status)
	}
	if captured.Notes != nil || captured.Language != nil || captured.Delivery != nil {
		t.Fatalf("absent fields must stay nil")
	}

	rr = serveJSON(newOrderRouter(svc), http.MethodPatch, "/orders/ord_01", map[string]any{"status": "lost"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}

func TestOrderHandlersTransitions(t *testing.T) {
	var cancelled, refunded services.OrderTransitionCommand
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
			cancelled = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusCancelled
			return order, nil
		},
		refundFn: func(_ context.Context, cmd services.OrderTransitionCommand) (services.Order, error) {
			refunded = cmd
			return services.Order{}, fmt.Errorf("%w: order already cancelled", services.ErrOrderInvalidState)
		},
	}
	router := newOrderRouter(svc)

	rr := serveJSON(router, http.MethodPost, "/orders/ord_01:cancel", map[string]any{"reason": "customer changed mind"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if cancelled.OrderID != "ord_01" || cancelled.Reason != "customer changed mind" || cancelled.ActorID != "staff-1" {
		t.Fatalf("unexpected cancel command %+v", cancelled)
	}
	if decodeBody(t, rr)["order"].(map[string]any)["status"] != "CANCELLED" {
		t.Fatalf("expected cancelled order in response")
	}

	rr = serveJSON(router, http.MethodPost, "/orders/ord_01:refund", nil)
	if rr.Code != http.StatusConflict || decodeBody(t, rr)["error"] != "invalid_state" {
		t.Fatalf("expected 409 invalid_state, got %d", rr.Code)
	}
	if refunded.OrderID != "ord_01" || refunded.Reason != "" {
		t.Fatalf("unexpected refund command %+v", refunded)
	}
}

func TestOrderHandlersDeleteOrder(t *testing.T) {
	svc := &stubOrderService{deleteFn: func(_ context.Context, cmd services.DeleteOrderCommand) (services.OrderResult, error) {
		if cmd.OrderID != "ord_01" {
			return services.OrderResult{}, services.ErrOrderNotFound
		}
		return services.OrderResult{Order: sampleOrder(), Warnings: []string{"invoice delete failed"}}, nil
	}}
	router := newOrderRouter(svc)

	rr := serveJSON(router, http.MethodDelete, "/orders/ord_01", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(decodeBody(t, rr)["warnings"].([]any)) != 1 {
		t.Fatalf("expected warnings to be surfaced")
	}

	rr = serveJSON(router, http.MethodDelete, "/orders/ord_missing", nil)
	if rr.Code != http.StatusNotFound || decodeBody(t, rr)["error"] != "order_not_found" {
		t.Fatalf("expected 404 order_not_found, got %d", rr.Code)
	}
}

func TestOrderHandlersInvoiceEndpoints(t *testing.T) {
	expires := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	var regenerated services.RegenerateInvoiceCommand
	svc := &stubOrderService{
		linkFn: func(context.Context, string) (services.InvoiceLink, error) {
			return services.InvoiceLink{URL: "https://signed.example/inv", ExpiresAt: expires}, nil
		},
		regenerateFn: func(_ context.Context, cmd services.RegenerateInvoiceCommand) (services.Order, error) {
			regenerated = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(svc)

	rr := serveJSON(router, http.MethodGet, "/orders/ord_01/invoice", nil)
	body := decodeBody(t, rr)
	if rr.Code != http.StatusOK || body["url"] != "https://signed.example/inv" || body["expires_at"] != "2024-03-05T10:00:00Z" {
		t.Fatalf("unexpected invoice link response %d %v", rr.Code, body)
	}

	rr = serveJSON(router, http.MethodPost, "/orders/ord_01:regenerate-invoice", map[string]any{"language": "ja"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if regenerated.OrderID != "ord_01" || regenerated.Language != "ja" || regenerated.ActorID != "staff-1" {
		t.Fatalf("unexpected regenerate command %+v", regenerated)
	}
}

func TestOrderHandlersListActivity(t *testing.T) {
	occurred := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	var captured services.ActivityListFilter
	activity := &stubActivityLog{listFn: func(_ context.Context, filter services.ActivityListFilter) (domain.CursorPage[services.ActivityEntry], error) {
		captured = filter
		return domain.CursorPage[services.ActivityEntry]{Items: []services.ActivityEntry{{
			ID:          "act_01",
			Action:      domain.ActivityActionCreate,
			Entity:      "Order",
			EntityID:    "ord_01",
			Description: "Created order ORD-2024-000001 for Ada",
			ActorID:     "staff-1",
			OccurredAt:  occurred,
		}}}, nil
	}}

	rr := serveJSON(newOrderRouter(&stubOrderService{}, WithActivityLog(activity)), http.MethodGet, "/orders/ord_01/activity?page_size=5", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if captured.OrderID != "ord_01" || captured.Pagination.PageSize != 5 {
		t.Fatalf("unexpected filter %+v", captured)
	}
	entry := decodeBody(t, rr)["items"].([]any)[0].(map[string]any)
	if entry["action"] != "CREATE" || entry["entity_id"] != "ord_01" {
		t.Fatalf("unexpected entry %v", entry)
	}

	rr = serveJSON(newOrderRouter(&stubOrderService{}), http.MethodGet, "/orders/ord_01/activity", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without activity log, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateMiddleware(t *testing.T) {
	wrapped := false
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped = true
			next.ServeHTTP(w, r)
		})
	}
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
			return services.CreateOrderResult{Order: sampleOrder()}, nil
		},
		getFn: func(context.Context, string) (services.Order, error) { return sampleOrder(), nil },
	}
	router := newOrderRouter(svc, WithCreateMiddleware(mw))

	serveJSON(router, http.MethodGet, "/orders/ord_01", nil)
	if wrapped {
		t.Fatalf("create middleware must only wrap POST /orders")
	}
	serveJSON(router, http.MethodPost, "/orders", map[string]any{
		"customer": map[string]any{"name": "Ada", "phone": "1"},
		"items":    []map[string]any{{"sku_id": "sku_a", "quantity": 1}},
	})
	if !wrapped {
		t.Fatalf("expected create middleware to run")
	}
}

func TestOrderHandlersCreateRetryAfterPaymentFailure(t *testing.T) {
	calls := 0
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
			calls++
			return services.CreateOrderResult{Order: sampleOrder()}, fmt.Errorf("%w: drawer closed", services.ErrOrderPaymentFailed)
		},
	}
	router := newOrderRouter(svc, WithCreateMiddleware(idempotency.Middleware(idempotency.NewMemoryStore())))
	body, _ := json.Marshal(map[string]any{
		"customer": map[string]any{"name": "Ada", "phone": "1"},
		"items":    []map[string]any{{"sku_id": "sku_a", "quantity": 1}},
	})
	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "create-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	first := post()
	if first.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", first.Code)
	}
	second := post()
	if second.Code != http.StatusBadGateway {
		t.Fatalf("expected replayed 502, got %d", second.Code)
	}
	if second.Header().Get(idempotency.ReplayHeader) != "true" {
		t.Fatalf("expected retry to be a replay")
	}
	if calls != 1 {
		t.Fatalf("expected a single create, got %d", calls)
	}
	var payload map[string]any
	if err := json.Unmarshal(second.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "payment_failed" || payload["order_id"] != sampleOrder().ID {
		t.Fatalf("expected committed order id in replay, got %v", payload)
	}
}

func TestOrderHandlersCreateRetryAfterUncommittedFailure(t *testing.T) {
	calls := 0
	svc := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (services.CreateOrderResult, error) {
			calls++
			return services.CreateOrderResult{}, services.ErrOrderUnavailable
		},
	}
	router := newOrderRouter(svc, WithCreateMiddleware(idempotency.Middleware(idempotency.NewMemoryStore())))
	body, _ := json.Marshal(map[string]any{
		"customer": map[string]any{"name": "Ada", "phone": "1"},
		"items":    []map[string]any{{"sku_id": "sku_a", "quantity": 1}},
	})
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "create-2")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected the key to be released after an uncommitted failure, got %d calls", calls)
	}
}

func TestOrderHandlersWithoutService(t *testing.T) {
	rr := serveJSON(newOrderRouter(nil), http.MethodGet, "/orders/ord_01", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
