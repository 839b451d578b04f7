package checkout

import (
	"testing"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullSession() d.CheckoutSession {
	addr := homeAddress
	slot := dinnerSlot
	return d.CheckoutSession{
		CartItems:    []d.CartLineItem{lineItem("m1", "c1", "10.00", 2)},
		Address:      &addr,
		Slot:         &slot,
		ContactPhone: "5551234567",
		Payment:      &d.PaymentSelection{MethodKind: d.PaymentCard, CardReference: "tok_1"},
	}
}

func TestCanLeave(t *testing.T) {
	s := fullSession()
	assert.True(t, CanLeave(d.StepCart, s, testNow))
	assert.True(t, CanLeave(d.StepDelivery, s, testNow))
	assert.True(t, CanLeave(d.StepPayment, s, testNow))
	assert.False(t, CanLeave(d.StepPlaced, s, testNow))

	empty := s
	empty.CartItems = nil
	assert.False(t, CanLeave(d.StepCart, empty, testNow))

	noPhone := s
	noPhone.ContactPhone = ""
	assert.False(t, CanLeave(d.StepDelivery, noPhone, testNow))

	noAddress := s
	noAddress.Address = nil
	assert.False(t, CanLeave(d.StepDelivery, noAddress, testNow))

	assert.False(t, CanLeave(d.StepDelivery, s, testNow.Add(3*time.Hour)), "slot started")

	cardNoRef := s
	cardNoRef.Payment = &d.PaymentSelection{MethodKind: d.PaymentCard}
	assert.False(t, CanLeave(d.StepPayment, cardNoRef, testNow))

	cash := s
	cash.Payment = &d.PaymentSelection{MethodKind: d.PaymentCashOnDelivery}
	assert.True(t, CanLeave(d.StepPayment, cash, testNow))
}

func TestAdvance_EmptyCartIsNoop(t *testing.T) {
	m := NewStateMachine()
	s := d.CheckoutSession{}

	step, ok := m.Advance(s, testNow)
	assert.False(t, ok)
	assert.Equal(t, d.StepCart, step)

	s.CartItems = []d.CartLineItem{lineItem("m1", "c1", "10.00", 1)}
	step, ok = m.Advance(s, testNow)
	assert.True(t, ok)
	assert.Equal(t, d.StepDelivery, step)
}

func TestAdvance_StopsAtPayment(t *testing.T) {
	m := NewStateMachine()
	s := fullSession()

	m.Advance(s, testNow)
	m.Advance(s, testNow)
	step, ok := m.Advance(s, testNow)

	assert.False(t, ok)
	assert.Equal(t, d.StepPayment, step)
}

func TestBack(t *testing.T) {
	m := NewStateMachine()
	_, ok := m.Back()
	assert.False(t, ok)

	s := fullSession()
	m.Advance(s, testNow)
	m.Advance(s, testNow)

	step, ok := m.Back()
	assert.True(t, ok)
	assert.Equal(t, d.StepDelivery, step)
	step, _ = m.Back()
	assert.Equal(t, d.StepCart, step)
}

func TestJumpTo(t *testing.T) {
	m := NewStateMachine()
	s := fullSession()

	_, err := m.JumpTo(d.StepDelivery, s, testNow)
	assert.ErrorIs(t, err, ErrStepLocked, "never reached")

	m.Advance(s, testNow)
	m.Advance(s, testNow)

	step, err := m.JumpTo(d.StepCart, s, testNow)
	require.NoError(t, err)
	assert.Equal(t, d.StepCart, step)

	step, err = m.JumpTo(d.StepPayment, s, testNow)
	require.NoError(t, err)
	assert.Equal(t, d.StepPayment, step)

	m.JumpTo(d.StepCart, s, testNow)
	broken := s
	broken.ContactPhone = ""
	step, err = m.JumpTo(d.StepPayment, broken, testNow)
	assert.ErrorIs(t, err, ErrStepLocked)
	assert.Equal(t, d.StepCart, step)

	step, err = m.JumpTo(d.StepDelivery, broken, testNow)
	require.NoError(t, err)
	assert.Equal(t, d.StepDelivery, step)

	_, err = m.JumpTo(d.StepPlaced, s, testNow)
	assert.ErrorIs(t, err, ErrStepLocked)
}

func TestMarkPlacedAndReset(t *testing.T) {
	m := NewStateMachine()
	assert.False(t, m.MarkPlaced())

	s := fullSession()
	m.Advance(s, testNow)
	m.Advance(s, testNow)
	require.True(t, m.MarkPlaced())
	assert.Equal(t, d.StepPlaced, m.Current())

	_, ok := m.Back()
	assert.False(t, ok)
	_, err := m.JumpTo(d.StepCart, s, testNow)
	assert.ErrorIs(t, err, ErrStepLocked)

	m.Reset()
	assert.Equal(t, d.StepCart, m.Current())
	_, err = m.JumpTo(d.StepPayment, s, testNow)
	assert.ErrorIs(t, err, ErrStepLocked)
}
