package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fjod/meal-checkout/internal/cart/cache"
	cartrepo "github.com/fjod/meal-checkout/internal/cart/repository"
	"github.com/fjod/meal-checkout/internal/cart/service"
	"github.com/fjod/meal-checkout/internal/checkout"
	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/fjod/meal-checkout/internal/order/repository"
	"github.com/fjod/meal-checkout/internal/payment"
	"github.com/fjod/meal-checkout/internal/pricing"
	"github.com/fjod/meal-checkout/internal/promo"
	"github.com/fjod/meal-checkout/internal/slots"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)

const dinnerSlot = "2026-10-16/dinner"

type noCache struct{}

func (noCache) Get(context.Context, string) (*d.Cart, error) { return nil, cache.ErrCacheMiss }
func (noCache) Set(context.Context, string, *d.Cart) error   { return nil }
func (noCache) Delete(context.Context, string) error         { return nil }

type stubAddresses map[string]d.Address

func (s stubAddresses) Get(_ context.Context, userID, id string) (d.Address, error) {
	a, ok := s[id]
	if !ok || a.UserID != userID {
		return d.Address{}, d.ErrAddressNotFound
	}
	return a, nil
}

func (s stubAddresses) List(_ context.Context, userID string) ([]d.Address, error) {
	var out []d.Address
	for _, a := range s {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s stubAddresses) Create(_ context.Context, a d.Address) (d.Address, error) {
	if err := a.Validate(); err != nil {
		return d.Address{}, err
	}
	a.ID = "addr-new"
	s[a.ID] = a
	return a, nil
}

func (s stubAddresses) SetDefault(_ context.Context, userID, id string) error {
	a, ok := s[id]
	if !ok || a.UserID != userID {
		return d.ErrAddressNotFound
	}
	return nil
}

// fakePlacer records the session it was asked to place.
type fakePlacer struct {
	mu   sync.Mutex
	keys []string
	conf d.OrderConfirmation
	err  error
}

func (f *fakePlacer) PlaceOrder(_ context.Context, s *checkout.Session) (d.OrderConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, s.IdempotencyKey())
	if f.err != nil {
		return d.OrderConfirmation{}, f.err
	}
	return f.conf, nil
}

type fakeHistory struct {
	orders map[string]*d.Order
	err    error
}

func (f *fakeHistory) ListOrders(_ context.Context, userID string) ([]*d.Order, error) {
	var out []*d.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeHistory) GetOrder(_ context.Context, userID, number string) (*d.Order, error) {
	o, ok := f.orders[number]
	if !ok || o.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeHistory) CancelOrder(ctx context.Context, userID, number string) (*d.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	o, err := f.GetOrder(ctx, userID, number)
	if err != nil {
		return nil, err
	}
	o.Status = d.OrderCancelled
	return o, nil
}

type observed struct {
	route  string
	status int
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []observed
}

func (o *recordingObserver) ObserveRequest(route string, status int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, observed{route: route, status: status})
}

func (o *recordingObserver) routes() []observed {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]observed(nil), o.seen...)
}

type testServer struct {
	handler  http.Handler
	placer   *fakePlacer
	history  *fakeHistory
	observer *recordingObserver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := func() time.Time { return testNow }

	engine, err := pricing.NewEngine(pricing.Config{
		TaxRate:               d.MustMoney("0.0875"),
		FreeDeliveryThreshold: d.MustMoney("25.00"),
	})
	require.NoError(t, err)

	catalog, err := slots.NewCatalog(slots.Config{
		HorizonDays:     7,
		ExpressFee:      d.MustMoney("4.99"),
		ExpressMinutes:  45,
		CapacityTimeout: time.Second,
	}, slots.NewHashCapacity(100), nil, slots.WithClock(clock))
	require.NoError(t, err)

	addresses := stubAddresses{
		"addr-1": {
			ID: "addr-1", UserID: "user-1", Type: d.AddressHome,
			Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701",
		},
	}
	manager := checkout.NewManager(checkout.Config{
		Backend: service.NewCartService(cartrepo.NewMemoryRepository(), noCache{}, nil),
		Promos: promo.NewResolver(promo.NewStaticCatalog(
			d.PromoOffer{Code: "SAVE15", DiscountPercent: 15, MinOrderAmount: d.MustMoney("15")},
		), nil),
		Pricing:     engine,
		Slots:       catalog,
		Addresses:   addresses,
		CartTimeout: time.Second,
		Now:         clock,
	}, nil)

	placer := &fakePlacer{conf: d.OrderConfirmation{OrderID: "order-1", OrderNumber: "MC-20261016-ABC123"}}
	history := &fakeHistory{orders: map[string]*d.Order{
		"MC-20261016-ABC123": {ID: "order-1", Number: "MC-20261016-ABC123", UserID: "user-1", Status: d.OrderPlaced},
	}}
	observer := &recordingObserver{}
	tokenizer := payment.NewTokenizer(nil)

	handler := NewRouter(RouterConfig{
		Checkout:       NewCheckoutHandler(manager, catalog, placer, tokenizer, time.Second, nil),
		Addresses:      NewAddressesHandler(addresses, time.Second, nil),
		Orders:         NewOrdersHandler(history, time.Second, nil),
		Payments:       NewPaymentHandler(tokenizer, time.Second, nil),
		Observer:       observer,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) }),
	})
	return &testServer{handler: handler, placer: placer, history: history, observer: observer}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "user-1")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

// viewDTO is the subset of the checkout view the tests read.
type viewDTO struct {
	Session struct {
		CartItems []struct {
			ID       string `json:"id"`
			Quantity int    `json:"quantity"`
		} `json:"cart_items"`
		Promo *struct {
			Code string `json:"code"`
		} `json:"promo"`
		CurrentStep    string `json:"current_step"`
		IdempotencyKey string `json:"idempotency_key"`
	} `json:"session"`
	Totals struct {
		Subtotal string `json:"subtotal"`
		Total    string `json:"total"`
	} `json:"totals"`
	CanAdvance bool `json:"can_advance"`
}

type stepDTO struct {
	Step  string `json:"step"`
	Moved bool   `json:"moved"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func curryBody(qty int) AddItemRequestDTO {
	return AddItemRequestDTO{
		MealID: "meal-curry", ChefID: "chef-1", ChefName: "Ana",
		Name: "Green curry", UnitPrice: d.MustMoney("12.50"), Quantity: qty,
	}
}
