package checkout

import (
	"context"
	"testing"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readySession(t *testing.T) (*Manager, *Session) {
	t.Helper()
	m := newTestManager(t, newHookedBackend())
	ctx := context.Background()

	s, err := m.Enter(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, s.Cart().Add(ctx, lineItem("m1", "c1", "10.00", 2)))
	_, ok := s.Advance()
	require.True(t, ok)
	require.NoError(t, m.SelectDelivery(ctx, s, homeAddress.ID, dinnerSlot.ID, "(555) 123-4567"))
	_, ok = s.Advance()
	require.True(t, ok)
	require.NoError(t, s.SetPayment(d.PaymentSelection{MethodKind: d.PaymentCard, CardReference: "tok_abc"}))
	return m, s
}

func TestSession_ViewRecomputesTotalsAfterEveryMutation(t *testing.T) {
	m := newTestManager(t, newHookedBackend())
	ctx := context.Background()
	s, err := m.Enter(ctx, "user-1")
	require.NoError(t, err)

	require.NoError(t, s.Cart().Add(ctx, lineItem("m1", "c1", "10.00", 2)))
	_, err = s.Cart().ApplyPromo(ctx, "SAVE15")
	require.NoError(t, err)
	require.NoError(t, s.SelectSlot(dinnerSlot))

	v, err := s.View(ctx)
	require.NoError(t, err)
	assert.True(t, d.MustMoney("21.74").Equal(v.Totals.Total), v.Totals.Total.String())
	assert.True(t, v.CanAdvance)

	cart, _ := s.Cart().Snapshot()
	require.NoError(t, s.Cart().UpdateQuantity(ctx, cart.Items[0].ID, 1))

	v, err = s.View(ctx)
	require.NoError(t, err)
	assert.False(t, v.Totals.PromoActive, "subtotal fell below the promo minimum")
	assert.NotNil(t, v.Session.Promo, "promo is still held")
	assert.True(t, d.MustMoney("13.87").Equal(v.Totals.Total), v.Totals.Total.String())
}

func TestSession_SelectionValidation(t *testing.T) {
	m := newTestManager(t, newHookedBackend())
	ctx := context.Background()
	s, err := m.Enter(ctx, "user-1")
	require.NoError(t, err)

	bad := homeAddress
	bad.ZipCode = "ABCDE"
	assert.True(t, d.IsValidation(s.SelectAddress(bad)))
	assert.True(t, d.IsValidation(s.SetContactPhone("")))
	assert.True(t, d.IsValidation(s.SetPayment(d.PaymentSelection{MethodKind: d.PaymentCard})))

	full := dinnerSlot
	full.IsAvailable = false
	assert.True(t, d.IsValidation(s.SelectSlot(full)))

	assert.True(t, d.IsValidation(m.SelectDelivery(ctx, s, "missing", dinnerSlot.ID, "5551234567")))
	assert.True(t, d.IsValidation(m.SelectDelivery(ctx, s, homeAddress.ID, "2026-10-16/late", "5551234567")))
	assert.True(t, d.IsValidation(m.SelectDelivery(ctx, s, homeAddress.ID, "2026-10-16/nope", "5551234567")))

	snap := s.Snapshot()
	assert.Nil(t, snap.Address)
	assert.Nil(t, snap.Slot)
	assert.Empty(t, snap.ContactPhone)
}

func TestSession_ReadyToPlace(t *testing.T) {
	_, s := readySession(t)

	assert.Equal(t, d.StepPayment, s.Step())
	assert.True(t, s.ReadyToPlace())
	assert.Equal(t, "5551234567", s.Snapshot().ContactPhone)
}

func TestSession_BackKeepsLaterStepData(t *testing.T) {
	_, s := readySession(t)

	_, err := s.JumpTo(d.StepCart)
	require.NoError(t, err)

	snap := s.Snapshot()
	assert.NotNil(t, snap.Address)
	assert.NotNil(t, snap.Slot)
	assert.NotNil(t, snap.Payment)

	_, err = s.JumpTo(d.StepPayment)
	require.NoError(t, err)
	assert.True(t, s.ReadyToPlace())
}

func TestSession_IdempotencyKeyStableUntilSomethingChanges(t *testing.T) {
	_, s := readySession(t)
	ctx := context.Background()

	first := s.IdempotencyKey()
	assert.NotEmpty(t, first)
	assert.Equal(t, first, s.IdempotencyKey())

	require.NoError(t, s.SetPayment(d.PaymentSelection{MethodKind: d.PaymentWallet}))
	second := s.IdempotencyKey()
	assert.NotEqual(t, first, second)

	require.NoError(t, s.Cart().Add(ctx, lineItem("m2", "c2", "4.00", 1)))
	assert.NotEqual(t, second, s.IdempotencyKey())
}

func TestSession_PinnedKey(t *testing.T) {
	_, s := readySession(t)

	s.PinIdempotencyKey("client-key-1")
	assert.Equal(t, "client-key-1", s.IdempotencyKey())

	require.NoError(t, s.SetContactPhone("5559876543"))
	assert.NotEqual(t, "client-key-1", s.IdempotencyKey())
}

func TestSession_PlacedKeepsKeyAndConfirmation(t *testing.T) {
	_, s := readySession(t)
	key := s.IdempotencyKey()

	require.True(t, s.MarkPlaced(d.OrderConfirmation{OrderNumber: "MC-1"}))
	s.Cart().Forget()

	assert.Equal(t, key, s.IdempotencyKey())
	s.PinIdempotencyKey("other")
	assert.Equal(t, key, s.IdempotencyKey())
	conf, ok := s.Confirmation()
	require.True(t, ok)
	assert.Equal(t, "MC-1", conf.OrderNumber)
}
