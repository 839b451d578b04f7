// Package checkout owns the per-user checkout session: the cart view, the step
// state machine and the delivery and payment selections.
package checkout

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/fjod/meal-checkout/internal/pricing"
	"github.com/google/uuid"
)

// Session is the aggregate for one user's order attempt. It is created by
// Manager and passed explicitly to whatever needs it.
type Session struct {
	userID  string
	cart    *CartStore
	machine *StateMachine
	pricing *pricing.Engine
	now     func() time.Time

	mu           sync.Mutex
	address      *d.Address
	slot         *d.DeliverySlot
	phone        string
	payment      *d.PaymentSelection
	key          string
	keyPrint     uint64
	confirmation *d.OrderConfirmation
}

// View is what a client renders: the session, freshly computed totals and
// whether the current step can be left.
type View struct {
	Session      d.CheckoutSession    `json:"session"`
	Totals       d.Totals             `json:"totals"`
	CanAdvance   bool                 `json:"can_advance"`
	Stale        bool                 `json:"stale"`
	Confirmation *d.OrderConfirmation `json:"confirmation,omitempty"`
}

func newSession(userID string, cart *CartStore, engine *pricing.Engine, now func() time.Time) *Session {
	return &Session{
		userID:  userID,
		cart:    cart,
		machine: NewStateMachine(),
		pricing: engine,
		now:     now,
	}
}

func (s *Session) UserID() string   { return s.userID }
func (s *Session) Cart() *CartStore { return s.cart }
func (s *Session) Step() d.Step     { return s.machine.Current() }

func (s *Session) SelectAddress(addr d.Address) error {
	if err := addr.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = &addr
	return nil
}

func (s *Session) SelectSlot(slot d.DeliverySlot) error {
	if err := validateSlot(slot, s.now()); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slot = &slot
	return nil
}

func (s *Session) SetContactPhone(phone string) error {
	normalized, err := d.NormalizeContactPhone(phone)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phone = normalized
	return nil
}

func (s *Session) SetPayment(sel d.PaymentSelection) error {
	if err := sel.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payment = &sel
	return nil
}

// setDelivery installs all three delivery selections together once each has been validated.
func (s *Session) setDelivery(addr d.Address, slot d.DeliverySlot, phone string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = &addr
	s.slot = &slot
	s.phone = phone
}

func validateSlot(slot d.DeliverySlot, now time.Time) error {
	if !slot.IsAvailable {
		return &d.ValidationError{Field: "slot_id", Message: "delivery slot is not available"}
	}
	if slot.Expired(now) {
		return &d.ValidationError{Field: "slot_id", Message: "delivery slot has already passed"}
	}
	return nil
}

// Snapshot copies the session state. The idempotency key is rotated first if
// anything that ends up in the order changed since it was issued.
func (s *Session) Snapshot() d.CheckoutSession {
	cart, _ := s.cart.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshotLocked(cart)
	snap.IdempotencyKey = s.keyLocked(snap)
	return snap
}

// IdempotencyKey returns the key for the current contents of the session. A
// retry of an unchanged session gets the same key.
func (s *Session) IdempotencyKey() string {
	return s.Snapshot().IdempotencyKey
}

// PinIdempotencyKey adopts a client-supplied key for the current contents.
// A placed session keeps the key it was placed with.
func (s *Session) PinIdempotencyKey(key string) {
	if key == "" {
		return
	}
	cart, _ := s.cart.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.machine.Current() == d.StepPlaced {
		return
	}
	s.key = key
	s.keyPrint = fingerprint(s.snapshotLocked(cart))
}

func (s *Session) snapshotLocked(cart d.Cart) d.CheckoutSession {
	snap := d.CheckoutSession{
		UserID:       s.userID,
		CartItems:    cart.Items,
		Promo:        cart.Promo,
		ContactPhone: s.phone,
		CurrentStep:  s.machine.Current(),
	}
	if s.address != nil {
		addr := *s.address
		snap.Address = &addr
	}
	if s.slot != nil {
		slot := *s.slot
		snap.Slot = &slot
	}
	if s.payment != nil {
		pay := *s.payment
		snap.Payment = &pay
	}
	return snap
}

func (s *Session) keyLocked(snap d.CheckoutSession) string {
	if snap.CurrentStep == d.StepPlaced && s.key != "" {
		return s.key
	}
	fp := fingerprint(snap)
	if s.key == "" || fp != s.keyPrint {
		s.key = uuid.NewString()
		s.keyPrint = fp
	}
	return s.key
}

func fingerprint(snap d.CheckoutSession) uint64 {
	h := xxhash.New()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.WriteString(p)
			_, _ = h.WriteString("\x1f")
		}
	}
	for _, it := range snap.CartItems {
		write(it.ID, it.MealID, it.UnitPrice.String(), strconv.Itoa(it.Quantity), it.SpecialInstructions)
	}
	if snap.Promo != nil {
		write("promo", snap.Promo.Code)
	}
	if snap.Address != nil {
		write("address", snap.Address.ID)
	}
	if snap.Slot != nil {
		write("slot", snap.Slot.ID)
	}
	write("phone", snap.ContactPhone)
	if snap.Payment != nil {
		write("payment", string(snap.Payment.MethodKind), snap.Payment.CardReference)
	}
	return h.Sum64()
}

// Totals prices the current state. It is recomputed on every call.
func (s *Session) Totals() d.Totals {
	snap := s.Snapshot()
	return s.pricing.ComputeTotals(snap.CartItems, snap.Promo, snap.Slot)
}

// View refreshes a stale cart view and prices the session. On a refresh error
// the view reflects the last authoritative cart and the error is returned with it.
func (s *Session) View(ctx context.Context) (View, error) {
	err := s.cart.EnsureFresh(ctx)
	snap := s.Snapshot()
	_, stale := s.cart.Snapshot()

	s.mu.Lock()
	conf := s.confirmation
	s.mu.Unlock()

	return View{
		Session:      snap,
		Totals:       s.pricing.ComputeTotals(snap.CartItems, snap.Promo, snap.Slot),
		CanAdvance:   CanLeave(snap.CurrentStep, snap, s.now()),
		Stale:        stale,
		Confirmation: conf,
	}, err
}

func (s *Session) Advance() (d.Step, bool) {
	return s.machine.Advance(s.Snapshot(), s.now())
}

func (s *Session) Back() (d.Step, bool) {
	return s.machine.Back()
}

func (s *Session) JumpTo(step d.Step) (d.Step, error) {
	return s.machine.JumpTo(step, s.Snapshot(), s.now())
}

// ReadyToPlace reports whether the session is at Payment with its guard holding.
func (s *Session) ReadyToPlace() bool {
	snap := s.Snapshot()
	return snap.CurrentStep == d.StepPayment && CanLeave(d.StepPayment, snap, s.now())
}

// MarkPlaced records the confirmation and moves the session to Placed.
func (s *Session) MarkPlaced(conf d.OrderConfirmation) bool {
	if !s.machine.MarkPlaced() {
		return false
	}
	s.mu.Lock()
	s.confirmation = &conf
	s.mu.Unlock()
	return true
}

func (s *Session) Confirmation() (d.OrderConfirmation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.confirmation == nil {
		return d.OrderConfirmation{}, false
	}
	return *s.confirmation, true
}

// reset starts a new order attempt with empty selections.
func (s *Session) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.Reset()
	s.address = nil
	s.slot = nil
	s.phone = ""
	s.payment = nil
	s.key = ""
	s.keyPrint = 0
	s.confirmation = nil
}

func (s *Session) Now() time.Time {
	return s.now()
}
