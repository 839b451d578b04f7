package checkout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fjod/meal-checkout/internal/cart/repository"
	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCartStore_AddRefetchesAuthoritativeState(t *testing.T) {
	store := newTestStore(newHookedBackend())
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, lineItem("m1", "c1", "10.00", 2)))
	require.NoError(t, store.Add(ctx, lineItem("m1", "c1", "10.00", 1)))

	cart, stale := store.Snapshot()
	assert.False(t, stale)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.NotEmpty(t, cart.Items[0].ID)
	assert.Equal(t, int64(2), cart.Version)
}

func TestCartStore_UpdateQuantityZeroEqualsRemove(t *testing.T) {
	ctx := context.Background()
	viaZero := newTestStore(newHookedBackend())
	viaRemove := newTestStore(newHookedBackend())

	for _, s := range []*CartStore{viaZero, viaRemove} {
		require.NoError(t, s.Add(ctx, lineItem("m1", "c1", "10.00", 2)))
		require.NoError(t, s.Add(ctx, lineItem("m2", "c2", "7.50", 1)))
	}
	first := func(s *CartStore) string {
		c, _ := s.Snapshot()
		return c.Items[0].ID
	}

	require.NoError(t, viaZero.UpdateQuantity(ctx, first(viaZero), 0))
	require.NoError(t, viaRemove.Remove(ctx, first(viaRemove)))

	a, _ := viaZero.Snapshot()
	b, _ := viaRemove.Snapshot()
	require.Len(t, a.Items, 1)
	require.Len(t, b.Items, 1)
	assert.Equal(t, b.Items[0].MealID, a.Items[0].MealID)
	assert.Equal(t, "m2", a.Items[0].MealID)
}

func TestCartStore_InvalidInputNeverReachesBackend(t *testing.T) {
	backend := newHookedBackend()
	store := newTestStore(backend)
	ctx := context.Background()

	err := store.Add(ctx, lineItem("m1", "c1", "10.00", 0))
	assert.True(t, d.IsValidation(err))

	err = store.UpdateInstructions(ctx, "li-1", strings.Repeat("x", d.MaxInstructionsLength+1))
	assert.True(t, d.IsValidation(err))

	assert.Equal(t, int32(0), backend.mutations.Load())
}

func TestCartStore_UpdateInstructionsAtLimit(t *testing.T) {
	store := newTestStore(newHookedBackend())
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, lineItem("m1", "c1", "10.00", 1)))
	cart, _ := store.Snapshot()

	text := strings.Repeat("é", d.MaxInstructionsLength)
	require.NoError(t, store.UpdateInstructions(ctx, cart.Items[0].ID, text))

	cart, _ = store.Snapshot()
	assert.Equal(t, text, cart.Items[0].SpecialInstructions)
}

func TestCartStore_PromoReplacesNeverStacks(t *testing.T) {
	store := newTestStore(newHookedBackend())
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, lineItem("m1", "c1", "10.00", 2)))

	_, err := store.ApplyPromo(ctx, "welcome10")
	require.NoError(t, err)
	offer, err := store.ApplyPromo(ctx, "SAVE15")
	require.NoError(t, err)
	assert.Equal(t, "SAVE15", offer.Code)

	cart, _ := store.Snapshot()
	require.NotNil(t, cart.Promo)
	assert.Equal(t, "SAVE15", cart.Promo.Code)
}

func TestCartStore_RejectedPromoKeepsCurrentOne(t *testing.T) {
	store := newTestStore(newHookedBackend())
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, lineItem("m1", "c1", "10.00", 2)))
	_, err := store.ApplyPromo(ctx, "SAVE15")
	require.NoError(t, err)

	_, err = store.ApplyPromo(ctx, "NOPE")
	var rejected *d.PromoRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, d.PromoNotFound, rejected.Reason)

	_, err = store.ApplyPromo(ctx, "FEAST20")
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, d.PromoBelowMinimum, rejected.Reason)
	assert.True(t, rejected.Minimum.Equal(d.MustMoney("40")))

	cart, _ := store.Snapshot()
	require.NotNil(t, cart.Promo)
	assert.Equal(t, "SAVE15", cart.Promo.Code)
}

func TestCartStore_RemovePromoAndClear(t *testing.T) {
	store := newTestStore(newHookedBackend())
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, lineItem("m1", "c1", "10.00", 2)))
	_, err := store.ApplyPromo(ctx, "SAVE15")
	require.NoError(t, err)

	require.NoError(t, store.RemovePromo(ctx))
	cart, _ := store.Snapshot()
	assert.Nil(t, cart.Promo)
	assert.Len(t, cart.Items, 1)

	_, err = store.ApplyPromo(ctx, "SAVE15")
	require.NoError(t, err)
	require.NoError(t, store.Clear(ctx))
	cart, _ = store.Snapshot()
	assert.Empty(t, cart.Items)
	assert.Nil(t, cart.Promo)
}

func TestCartStore_FailedMutationReflectsRefetchedState(t *testing.T) {
	backend := newHookedBackend()
	store := newTestStore(backend)
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, lineItem("m1", "c1", "10.00", 2)))

	backend.failNextMutation(errBackendDown)
	err := store.Add(ctx, lineItem("m2", "c2", "5.00", 1))

	var syncErr *d.CartSyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, "add", syncErr.Op)
	assert.ErrorIs(t, err, errBackendDown)

	cart, stale := store.Snapshot()
	assert.False(t, stale)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "m1", cart.Items[0].MealID)
}

func TestCartStore_UnknownItemIsSyncError(t *testing.T) {
	store := newTestStore(newHookedBackend())
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, lineItem("m1", "c1", "10.00", 2)))

	err := store.UpdateQuantity(ctx, "missing", 3)

	var syncErr *d.CartSyncError
	require.ErrorAs(t, err, &syncErr)
	assert.ErrorIs(t, err, repository.ErrItemNotFound)
}

func TestCartStore_CancelledCallerDiscardsLocalUpdate(t *testing.T) {
	backend := newHookedBackend()
	store := newTestStore(backend)
	require.NoError(t, store.Refresh(context.Background()))

	gate := make(chan struct{})
	backend.setGate(gate)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Add(ctx, lineItem("m1", "c1", "10.00", 1)) }()

	require.Eventually(t, func() bool { return backend.inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	close(gate)

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)

	cart, stale := store.Snapshot()
	assert.True(t, stale)
	assert.Empty(t, cart.Items)

	// the remote call completed; the next read reconciles
	require.NoError(t, store.EnsureFresh(context.Background()))
	cart, stale = store.Snapshot()
	assert.False(t, stale)
	assert.Len(t, cart.Items, 1)
}

func TestCartStore_MutationsAreSerialized(t *testing.T) {
	backend := newHookedBackend()
	store := newTestStore(backend)
	ctx := context.Background()

	gate := make(chan struct{})
	backend.setGate(gate)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Add(ctx, lineItem("m1", "c1", "10.00", 1)))
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), backend.maxInFlight.Load())
	cart, _ := store.Snapshot()
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
}

func TestCartStore_WaitingMutationHonoursCallerContext(t *testing.T) {
	backend := newHookedBackend()
	store := newTestStore(backend)
	require.NoError(t, store.Refresh(context.Background()))

	gate := make(chan struct{})
	backend.setGate(gate)
	go func() { _ = store.Add(context.Background(), lineItem("m1", "c1", "10.00", 1)) }()
	require.Eventually(t, func() bool { return backend.inFlight.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := store.Add(ctx, lineItem("m2", "c1", "10.00", 1))

	var syncErr *d.CartSyncError
	require.ErrorAs(t, err, &syncErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), backend.mutations.Load())
	close(gate)
}

func TestCartStore_IgnoresOlderVersionOfSameCart(t *testing.T) {
	backend := newHookedBackend()
	store := newTestStore(backend)
	ctx := context.Background()
	require.NoError(t, store.Add(ctx, lineItem("m1", "c1", "10.00", 1)))
	require.NoError(t, store.Add(ctx, lineItem("m1", "c1", "10.00", 1)))
	current, _ := store.Snapshot()

	old := current
	old.Version = current.Version - 1
	old.Items = []d.CartLineItem{current.Items[0]}
	old.Items[0].Quantity = 1
	backend.serveStaleOnce(&old)

	require.NoError(t, store.Refresh(ctx))

	cart, _ := store.Snapshot()
	assert.Equal(t, current.Version, cart.Version)
	assert.Equal(t, 2, cart.Items[0].Quantity)
}

func TestCartStore_RefreshFailureMarksStale(t *testing.T) {
	store := newTestStore(failingGets{newHookedBackend()})

	err := store.Refresh(context.Background())

	var syncErr *d.CartSyncError
	require.ErrorAs(t, err, &syncErr)
	_, stale := store.Snapshot()
	assert.True(t, stale)
}

type failingGets struct{ *hookedBackend }

func (failingGets) GetCart(context.Context, string) (*d.Cart, error) {
	return nil, errors.New("timeout talking to cart service")
}
