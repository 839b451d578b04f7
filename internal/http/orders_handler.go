package http

import (
	"context"
	"net/http"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type OrderHistory interface {
	ListOrders(ctx context.Context, userID string) ([]*d.Order, error)
	GetOrder(ctx context.Context, userID, number string) (*d.Order, error)
	CancelOrder(ctx context.Context, userID, number string) (*d.Order, error)
}

type OrdersHandler struct {
	orders  OrderHistory
	timeout time.Duration
	log     *zap.Logger
}

func NewOrdersHandler(orders OrderHistory, timeout time.Duration, log *zap.Logger) *OrdersHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &OrdersHandler{orders: orders, timeout: timeout, log: log}
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	orders, err := h.orders.ListOrders(ctx, getUserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if orders == nil {
		orders = []*d.Order{}
	}
	respondJSON(w, http.StatusOK, orders)
}

// GET /api/v1/orders/{order_number}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	o, err := h.orders.GetOrder(ctx, getUserIDFromContext(r.Context()), chi.URLParam(r, "order_number"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

// POST /api/v1/orders/{order_number}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	o, err := h.orders.CancelOrder(ctx, getUserIDFromContext(r.Context()), chi.URLParam(r, "order_number"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}
