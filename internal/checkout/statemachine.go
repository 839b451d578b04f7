package checkout

import (
	"errors"
	"sync"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
)

var ErrStepLocked = errors.New("step cannot be entered until earlier steps are complete")

// CanLeave reports whether the guard of step holds for the session. Guards never
// block and never return errors.
func CanLeave(step d.Step, s d.CheckoutSession, now time.Time) bool {
	switch step {
	case d.StepCart:
		return len(s.CartItems) > 0
	case d.StepDelivery:
		return s.Address != nil &&
			s.Slot != nil && s.Slot.IsAvailable && !s.Slot.Expired(now) &&
			s.ContactPhone != ""
	case d.StepPayment:
		return s.Payment != nil &&
			(s.Payment.MethodKind != d.PaymentCard || s.Payment.CardReference != "")
	}
	return false
}

// StateMachine sequences Cart, Delivery and Payment. Placed is terminal until Reset.
type StateMachine struct {
	mu       sync.RWMutex
	current  d.Step
	furthest d.Step
}

func NewStateMachine() *StateMachine {
	return &StateMachine{current: d.StepCart, furthest: d.StepCart}
}

func (m *StateMachine) Current() d.Step {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Advance moves one step forward when the current step's guard holds. It is a
// no-op otherwise and never moves into Placed.
func (m *StateMachine) Advance(s d.CheckoutSession, now time.Time) (d.Step, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current >= d.StepPayment || !CanLeave(m.current, s, now) {
		return m.current, false
	}
	m.current++
	if m.current > m.furthest {
		m.furthest = m.current
	}
	return m.current, true
}

// Back moves one step backwards from Delivery or Payment. Later-step data is kept.
func (m *StateMachine) Back() (d.Step, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == d.StepCart || m.current == d.StepPlaced {
		return m.current, false
	}
	m.current--
	return m.current, true
}

// JumpTo enters target directly. Earlier steps are always reachable; a later step
// is reachable only if it was reached before and every guard on the way holds.
func (m *StateMachine) JumpTo(target d.Step, s d.CheckoutSession, now time.Time) (d.Step, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == d.StepPlaced || target < d.StepCart || target > d.StepPayment {
		return m.current, ErrStepLocked
	}
	if target <= m.current {
		m.current = target
		return m.current, nil
	}
	if target > m.furthest {
		return m.current, ErrStepLocked
	}
	for step := m.current; step < target; step++ {
		if !CanLeave(step, s, now) {
			return m.current, ErrStepLocked
		}
	}
	m.current = target
	return m.current, nil
}

// MarkPlaced is only valid from Payment.
func (m *StateMachine) MarkPlaced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != d.StepPayment {
		return false
	}
	m.current = d.StepPlaced
	m.furthest = d.StepPlaced
	return true
}

func (m *StateMachine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = d.StepCart
	m.furthest = d.StepCart
}
