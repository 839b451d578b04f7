// Package http exposes the checkout flow, address book, payment tokens and
// order history as a JSON API.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type RouterConfig struct {
	Service        string
	Checkout       *CheckoutHandler
	Addresses      *AddressesHandler
	Orders         *OrdersHandler
	Payments       *PaymentHandler
	Observer       RequestObserver
	MetricsHandler http.Handler
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if cfg.Observer != nil {
		r.Use(MetricsMiddleware(cfg.Observer))
	}
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestSize(cfg.MaxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(MockAuthMiddleware)

		if h := cfg.Checkout; h != nil {
			r.Route("/checkout", func(r chi.Router) {
				r.Post("/", h.Enter)
				r.Get("/", h.View)
				r.Delete("/", h.Leave)

				r.Post("/items", h.AddItem)
				r.Delete("/items", h.ClearCart)
				r.Patch("/items/{item_id}", h.UpdateQuantity)
				r.Put("/items/{item_id}/instructions", h.UpdateInstructions)
				r.Delete("/items/{item_id}", h.RemoveItem)

				r.Post("/promo", h.ApplyPromo)
				r.Delete("/promo", h.RemovePromo)

				r.Get("/dates", h.Dates)
				r.Get("/slots", h.Slots)
				r.Put("/delivery", h.SelectDelivery)
				r.Put("/payment", h.SelectPayment)

				r.Post("/step/advance", h.Advance)
				r.Post("/step/back", h.Back)
				r.Post("/step/{step}", h.JumpTo)

				r.Post("/orders", h.PlaceOrder)
			})
		}

		if h := cfg.Addresses; h != nil {
			r.Get("/addresses", h.List)
			r.Post("/addresses", h.Create)
			r.Put("/addresses/{address_id}/default", h.SetDefault)
		}

		if h := cfg.Payments; h != nil {
			r.Post("/payment/tokens", h.Tokenize)
		}

		if h := cfg.Orders; h != nil {
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{order_number}", h.GetOrder)
			r.Post("/orders/{order_number}/cancel", h.CancelOrder)
		}
	})

	service := cfg.Service
	if service == "" {
		service = "checkout-service"
	}
	return otelhttp.NewHandler(r, service)
}
