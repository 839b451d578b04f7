package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/meal-checkout/internal/cart/cache"
	"github.com/fjod/meal-checkout/internal/cart/repository"
	"github.com/fjod/meal-checkout/internal/cart/service"
	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/fjod/meal-checkout/internal/pricing"
	"github.com/fjod/meal-checkout/internal/promo"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 16, 15, 0, 0, 0, time.UTC)

type noCache struct{}

func (noCache) Get(context.Context, string) (*d.Cart, error) { return nil, cache.ErrCacheMiss }
func (noCache) Set(context.Context, string, *d.Cart) error   { return nil }
func (noCache) Delete(context.Context, string) error         { return nil }

// hookedBackend wraps the real cart service so tests can delay or fail calls.
type hookedBackend struct {
	*service.CartService

	mu          sync.Mutex
	gate        chan struct{} // when set, mutations wait on it
	failNext    error
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	mutations   atomic.Int32
	staleCart   *d.Cart
}

func newHookedBackend() *hookedBackend {
	return &hookedBackend{CartService: service.NewCartService(repository.NewMemoryRepository(), noCache{}, nil)}
}

func (b *hookedBackend) enter() error {
	n := b.inFlight.Add(1)
	for {
		peak := b.maxInFlight.Load()
		if n <= peak || b.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	b.mutations.Add(1)

	b.mu.Lock()
	gate := b.gate
	err := b.failNext
	b.failNext = nil
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (b *hookedBackend) leave() { b.inFlight.Add(-1) }

func (b *hookedBackend) AddItem(ctx context.Context, userID string, item d.CartLineItem) error {
	defer b.leave()
	if err := b.enter(); err != nil {
		return err
	}
	return b.CartService.AddItem(ctx, userID, item)
}

func (b *hookedBackend) UpdateQuantity(ctx context.Context, userID, itemID string, qty int) error {
	defer b.leave()
	if err := b.enter(); err != nil {
		return err
	}
	return b.CartService.UpdateQuantity(ctx, userID, itemID, qty)
}

func (b *hookedBackend) GetCart(ctx context.Context, userID string) (*d.Cart, error) {
	b.mu.Lock()
	stale := b.staleCart
	b.staleCart = nil
	b.mu.Unlock()
	if stale != nil {
		return stale, nil
	}
	return b.CartService.GetCart(ctx, userID)
}

func (b *hookedBackend) setGate(ch chan struct{}) {
	b.mu.Lock()
	b.gate = ch
	b.mu.Unlock()
}

func (b *hookedBackend) failNextMutation(err error) {
	b.mu.Lock()
	b.failNext = err
	b.mu.Unlock()
}

func (b *hookedBackend) serveStaleOnce(c *d.Cart) {
	b.mu.Lock()
	b.staleCart = c
	b.mu.Unlock()
}

var errBackendDown = errors.New("cart service unavailable")

func testOffers() *promo.Resolver {
	return promo.NewResolver(promo.NewStaticCatalog(
		d.PromoOffer{Code: "WELCOME10", DiscountPercent: 10, MinOrderAmount: d.MustMoney("15")},
		d.PromoOffer{Code: "SAVE15", DiscountPercent: 15, MinOrderAmount: d.MustMoney("15")},
		d.PromoOffer{Code: "FEAST20", DiscountPercent: 20, MinOrderAmount: d.MustMoney("40"), FreeDelivery: true},
	), nil)
}

func testEngine(t *testing.T) *pricing.Engine {
	t.Helper()
	e, err := pricing.NewEngine(pricing.Config{
		TaxRate:               d.MustMoney("0.0875"),
		FreeDeliveryThreshold: d.MustMoney("25.00"),
	})
	require.NoError(t, err)
	return e
}

func newTestStore(backend CartBackend) *CartStore {
	return NewCartStore("user-1", backend, testOffers(), time.Second, nil, nil)
}

func lineItem(mealID, chefID, price string, qty int) d.CartLineItem {
	return d.CartLineItem{
		MealID:    mealID,
		ChefID:    chefID,
		ChefName:  "Chef " + chefID,
		Name:      "Meal " + mealID,
		UnitPrice: d.MustMoney(price),
		Quantity:  qty,
	}
}

type stubAddresses map[string]d.Address

func (s stubAddresses) Get(_ context.Context, _ string, id string) (d.Address, error) {
	a, ok := s[id]
	if !ok {
		return d.Address{}, d.ErrAddressNotFound
	}
	return a, nil
}

type stubSlots map[string]d.DeliverySlot

func (s stubSlots) Resolve(_ context.Context, id string, _ []string) (d.DeliverySlot, error) {
	slot, ok := s[id]
	if !ok {
		return d.DeliverySlot{}, errors.New("delivery slot not found or already passed")
	}
	return slot, nil
}

var homeAddress = d.Address{
	ID: "addr-1", UserID: "user-1", Type: d.AddressHome,
	Street: "1 Main St", City: "Springfield", State: "IL", ZipCode: "62704", IsDefault: true,
}

var dinnerSlot = d.DeliverySlot{
	ID: "2026-10-16/dinner", Kind: d.SlotKindWindow, Date: "2026-10-16", TimeLabel: "Dinner",
	StartsAt: testNow.Add(150 * time.Minute), EndsAt: testNow.Add(270 * time.Minute),
	EstimatedDeliveryTime: testNow.Add(270 * time.Minute),
	IsAvailable:           true, ExtraFee: d.MustMoney("2.99"),
}

func newTestManager(t *testing.T, backend CartBackend) *Manager {
	t.Helper()
	full := dinnerSlot
	full.ID = "2026-10-16/late"
	full.IsAvailable = false
	return NewManager(Config{
		Backend:     backend,
		Promos:      testOffers(),
		Pricing:     testEngine(t),
		Slots:       stubSlots{dinnerSlot.ID: dinnerSlot, full.ID: full},
		Addresses:   stubAddresses{homeAddress.ID: homeAddress},
		CartTimeout: time.Second,
		Now:         func() time.Time { return testNow },
	}, nil)
}
