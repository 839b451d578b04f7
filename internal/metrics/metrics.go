package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Requests      *prometheus.CounterVec
	LatencyMS     *prometheus.HistogramVec
	Orders        *prometheus.CounterVec
	Promos        *prometheus.CounterVec
	CartMutations *prometheus.CounterVec
}

func New(service string) *Metrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkout",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: service,
		Name:      "orders_placed_total",
		Help:      "Order placement attempts by result.",
	}, []string{"result"})
	promos := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: service,
		Name:      "promo_applications_total",
		Help:      "Promo code applications by result.",
	}, []string{"result"})
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout",
		Subsystem: service,
		Name:      "cart_mutations_total",
		Help:      "Cart mutations by operation and result.",
	}, []string{"op", "result"})

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		requests, latency, orders, promos, mutations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Metrics{
		registry:      reg,
		Requests:      requests,
		LatencyMS:     latency,
		Orders:        orders,
		Promos:        promos,
		CartMutations: mutations,
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(route string, status int, elapsed time.Duration) {
	m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.LatencyMS.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) OrderPlacement(result string) {
	m.Orders.WithLabelValues(result).Inc()
}

func (m *Metrics) PromoApplication(result string) {
	m.Promos.WithLabelValues(result).Inc()
}

func (m *Metrics) CartMutation(op string, err error) {
	m.CartMutations.WithLabelValues(op, mutationResult(err)).Inc()
}

func mutationResult(err error) string {
	var syncErr *d.CartSyncError
	switch {
	case err == nil:
		return "ok"
	case d.IsValidation(err):
		return "invalid"
	case errors.As(err, &syncErr):
		return "sync_error"
	default:
		return "error"
	}
}
