package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hanko-field/orderledger/internal/services"
)

// InternalHandlers serves service-to-service endpoints mounted under /internal. The router group
// carries the OIDC middleware.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs the internal endpoint handlers.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}/invoice:regenerate", h.regenerateInvoice)
}

func (h *InternalHandlers) regenerateInvoice(w http.ResponseWriter, r *http.Request) {
	orders := &OrderHandlers{orders: h.orders}
	orderID, ok := orders.orderID(w, r)
	if !ok {
		return
	}
	serveRegenerateInvoice(w, r, h.orders, orderID)
}
