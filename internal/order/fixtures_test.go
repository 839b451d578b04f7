package order

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/meal-checkout/internal/cart/cache"
	cartrepo "github.com/fjod/meal-checkout/internal/cart/repository"
	"github.com/fjod/meal-checkout/internal/cart/service"
	"github.com/fjod/meal-checkout/internal/checkout"
	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/fjod/meal-checkout/internal/notify"
	"github.com/fjod/meal-checkout/internal/order/repository"
	"github.com/fjod/meal-checkout/internal/payment"
	"github.com/fjod/meal-checkout/internal/pricing"
	"github.com/fjod/meal-checkout/internal/promo"
	"github.com/fjod/meal-checkout/internal/slots"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)

const (
	testDate   = "2026-10-16"
	dinnerSlot = "2026-10-16/dinner"
)

type noCache struct{}

func (noCache) Get(context.Context, string) (*d.Cart, error) { return nil, cache.ErrCacheMiss }
func (noCache) Set(context.Context, string, *d.Cart) error   { return nil }
func (noCache) Delete(context.Context, string) error         { return nil }

// memoryStore is an in-memory order store with the same uniqueness rules as
// the Postgres repository.
type memoryStore struct {
	mu        sync.Mutex
	orders    map[string]*d.Order // by user and idempotency key
	events    []*repository.OutboxEvent
	createErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{orders: make(map[string]*d.Order)}
}

func (m *memoryStore) CreateOrder(_ context.Context, o *d.Order, ev *repository.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.orders[o.UserID+"/"+o.IdempotencyKey]; ok {
		return repository.ErrDuplicateOrder
	}
	cp := *o
	m.orders[o.UserID+"/"+o.IdempotencyKey] = &cp
	if ev != nil {
		m.events = append(m.events, ev)
	}
	return nil
}

func (m *memoryStore) GetByIdempotencyKey(_ context.Context, userID, key string) (*d.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[userID+"/"+key]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memoryStore) GetByNumber(_ context.Context, userID, number string) (*d.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Number == number && o.UserID == userID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *memoryStore) ListByUser(_ context.Context, userID string) ([]*d.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*d.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memoryStore) UpdateStatus(_ context.Context, id string, to d.OrderStatus, ev *repository.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ID != id {
			continue
		}
		if !d.CanTransition(o.Status, to) {
			return repository.ErrInvalidTransition
		}
		o.Status = to
		if ev != nil {
			m.events = append(m.events, ev)
		}
		return nil
	}
	return repository.ErrOrderNotFound
}

func (m *memoryStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memoryStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.EventType
	}
	return out
}

// switchStatus approves charges until told otherwise.
type switchStatus struct {
	decline atomic.Bool
}

func (s *switchStatus) Status() (bool, payment.DeclineReason) {
	if s.decline.Load() {
		return false, payment.DeclineInsufficientFunds
	}
	return true, ""
}

type anyToken struct{}

func (anyToken) Lookup(userID, reference string) (payment.Token, bool) {
	return payment.Token{Reference: reference, UserID: userID}, true
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recordingNotifier) kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Kind, len(r.notes))
	for i, n := range r.notes {
		out[i] = n.Kind
	}
	return out
}

type stubAddresses map[string]d.Address

func (s stubAddresses) Get(_ context.Context, userID, id string) (d.Address, error) {
	a, ok := s[id]
	if !ok || a.UserID != userID {
		return d.Address{}, d.ErrAddressNotFound
	}
	return a, nil
}

type recorder struct {
	mu      sync.Mutex
	results []string
}

func (r *recorder) OrderPlacement(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.results) == 0 {
		return ""
	}
	return r.results[len(r.results)-1]
}

type testEnv struct {
	manager   *checkout.Manager
	carts     *service.CartService
	service   *Service
	placer    *Placer
	store     *memoryStore
	capacity  *slots.MemoryCapacity
	catalog   *slots.Catalog
	engine    *pricing.Engine
	status    *switchStatus
	results   *IdempotencyStore
	redis     *miniredis.Miniredis
	notifier  *recordingNotifier
	recorder  *recorder
	addresses map[string]string // user id to address id
}

var (
	welcome = d.PromoOffer{Code: "WELCOME10", DiscountPercent: 10, MinOrderAmount: d.MustMoney("0")}
	// retired is still offered at apply time but gone when the order is verified.
	retired = d.PromoOffer{Code: "RETIRED5", DiscountPercent: 5, MinOrderAmount: d.MustMoney("0")}
)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := func() time.Time { return testNow }

	engine, err := pricing.NewEngine(pricing.Config{
		TaxRate:               d.MustMoney("0.0875"),
		FreeDeliveryThreshold: d.MustMoney("25.00"),
	})
	require.NoError(t, err)

	capacity := slots.NewMemoryCapacity(slots.NewHashCapacity(100))
	catalog, err := slots.NewCatalog(slots.Config{
		HorizonDays:     7,
		ExpressFee:      d.MustMoney("4.99"),
		ExpressMinutes:  45,
		CapacityTimeout: time.Second,
	}, capacity, nil, slots.WithClock(clock))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemoryStore()
	status := &switchStatus{}
	svc := NewService(ServiceConfig{
		Store:    store,
		Pricing:  engine,
		Offers:   promo.NewStaticCatalog(welcome),
		Slots:    catalog,
		Capacity: capacity,
		Payments: payment.NewProcessor(anyToken{}, status, nil),
		Now:      clock,
	}, nil)

	addr := d.Address{
		ID: "addr-1", UserID: "user-1", Type: d.AddressHome,
		Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62701",
	}
	other := d.Address{
		ID: "addr-2", UserID: "user-2", Type: d.AddressWork,
		Street: "9 Elm St", City: "Springfield", State: "IL", ZipCode: "62702",
	}
	carts := service.NewCartService(cartrepo.NewMemoryRepository(), noCache{}, nil)
	manager := checkout.NewManager(checkout.Config{
		Backend:     carts,
		Promos:      promo.NewResolver(promo.NewStaticCatalog(welcome, retired), nil),
		Pricing:     engine,
		Slots:       catalog,
		Addresses:   stubAddresses{addr.ID: addr, other.ID: other},
		CartTimeout: time.Second,
		Now:         clock,
	}, nil)

	results := NewIdempotencyStore(client, 0)
	notifier := &recordingNotifier{}
	rec := &recorder{}
	placer := NewPlacer(PlacerConfig{
		Submitter: svc,
		Results:   results,
		Pricing:   engine,
		Notifier:  notifier,
		Recorder:  rec,
		Timeout:   time.Second,
		Currency:  "USD",
	}, nil)

	return &testEnv{
		manager: manager, carts: carts, service: svc, placer: placer, store: store,
		capacity: capacity, catalog: catalog, engine: engine, status: status,
		results: results, redis: mr, notifier: notifier, recorder: rec,
		addresses: map[string]string{addr.UserID: addr.ID, other.UserID: other.ID},
	}
}

func salad(qty int) d.CartLineItem {
	return d.CartLineItem{
		MealID: "meal-salad", ChefID: "chef-1", ChefName: "Ana",
		Name: "Garden salad", UnitPrice: d.MustMoney("8.00"), Quantity: qty,
	}
}

func curry(qty int) d.CartLineItem {
	return d.CartLineItem{
		MealID: "meal-curry", ChefID: "chef-1", ChefName: "Ana",
		Name: "Green curry", UnitPrice: d.MustMoney("12.50"), Quantity: qty,
	}
}

// readySession walks user-1 to the payment step with one curry, the dinner
// slot and a wallet payment.
func (e *testEnv) readySession(t *testing.T) *checkout.Session {
	t.Helper()
	return e.readySessionFor(t, "user-1", curry(1))
}

func (e *testEnv) readySessionFor(t *testing.T, userID string, items ...d.CartLineItem) *checkout.Session {
	t.Helper()
	ctx := context.Background()
	s, err := e.manager.Enter(ctx, userID)
	require.NoError(t, err)
	for _, item := range items {
		require.NoError(t, s.Cart().Add(ctx, item))
	}
	_, ok := s.Advance()
	require.True(t, ok)
	require.NoError(t, e.manager.SelectDelivery(ctx, s, e.addresses[userID], dinnerSlot, "555-123-4567"))
	_, ok = s.Advance()
	require.True(t, ok)
	require.NoError(t, s.SetPayment(d.PaymentSelection{MethodKind: d.PaymentWallet}))
	require.True(t, s.ReadyToPlace())
	return s
}
