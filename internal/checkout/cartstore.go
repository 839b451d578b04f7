package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"go.uber.org/zap"
)

// CartBackend is the cart persistence service. Mutations return no state; the
// store re-reads the authoritative cart after each one.
type CartBackend interface {
	GetCart(ctx context.Context, userID string) (*d.Cart, error)
	AddItem(ctx context.Context, userID string, item d.CartLineItem) error
	UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) error
	UpdateInstructions(ctx context.Context, userID, itemID, instructions string) error
	RemoveItem(ctx context.Context, userID, itemID string) error
	ClearCart(ctx context.Context, userID string) error
	RemoveOrderedItems(ctx context.Context, userID string, lines []d.OrderedLine) error
	SetPromo(ctx context.Context, userID string, offer d.PromoOffer) error
	ClearPromo(ctx context.Context, userID string) error
}

type PromoResolver interface {
	Resolve(ctx context.Context, code string, subtotal d.Money) (d.PromoOffer, error)
}

// Recorder receives mutation outcomes for metrics.
type Recorder interface {
	CartMutation(op string, err error)
	PromoApplication(result string)
}

type nopRecorder struct{}

func (nopRecorder) CartMutation(string, error) {}
func (nopRecorder) PromoApplication(string)    {}

// CartStore is one session's view of the remote cart. Mutations are serialized:
// a second mutation waits until the first has been reconciled by a re-fetch.
type CartStore struct {
	userID   string
	backend  CartBackend
	promos   PromoResolver
	timeout  time.Duration
	recorder Recorder
	log      *zap.Logger

	sem chan struct{}

	mu     sync.RWMutex
	cart   d.Cart
	loaded bool
	stale  bool
}

func NewCartStore(userID string, backend CartBackend, promos PromoResolver, timeout time.Duration, recorder Recorder, log *zap.Logger) *CartStore {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CartStore{
		userID:   userID,
		backend:  backend,
		promos:   promos,
		timeout:  timeout,
		recorder: recorder,
		log:      log.With(zap.String("user_id", userID)),
		sem:      make(chan struct{}, 1),
		cart:     d.Cart{UserID: userID},
	}
}

func (s *CartStore) Add(ctx context.Context, item d.CartLineItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, "add", func(rctx context.Context) error {
		return s.backend.AddItem(rctx, s.userID, item)
	})
}

// UpdateQuantity sets the quantity of a line. Quantities below one remove it.
func (s *CartStore) UpdateQuantity(ctx context.Context, itemID string, quantity int) error {
	if quantity < 1 {
		return s.Remove(ctx, itemID)
	}
	return s.mutate(ctx, "update_quantity", func(rctx context.Context) error {
		return s.backend.UpdateQuantity(rctx, s.userID, itemID, quantity)
	})
}

func (s *CartStore) Remove(ctx context.Context, itemID string) error {
	return s.mutate(ctx, "remove", func(rctx context.Context) error {
		return s.backend.RemoveItem(rctx, s.userID, itemID)
	})
}

func (s *CartStore) UpdateInstructions(ctx context.Context, itemID, text string) error {
	if err := d.ValidateInstructions(text); err != nil {
		return err
	}
	return s.mutate(ctx, "update_instructions", func(rctx context.Context) error {
		return s.backend.UpdateInstructions(rctx, s.userID, itemID, text)
	})
}

// Clear empties the cart and drops the promo.
func (s *CartStore) Clear(ctx context.Context) error {
	return s.mutate(ctx, "clear", func(rctx context.Context) error {
		return s.backend.ClearCart(rctx, s.userID)
	})
}

// RemoveOrdered takes a placed order's lines out of the cart, leaving anything
// added since.
func (s *CartStore) RemoveOrdered(ctx context.Context, lines []d.OrderedLine) error {
	return s.mutate(ctx, "remove_ordered", func(rctx context.Context) error {
		return s.backend.RemoveOrderedItems(rctx, s.userID, lines)
	})
}

// MarkStale makes the next read re-fetch the cart. Called when the cart was
// changed outside this session.
func (s *CartStore) MarkStale() {
	s.markStale()
}

// ApplyPromo resolves code against the current subtotal and replaces any held
// promo. A rejected code leaves the held promo untouched.
func (s *CartStore) ApplyPromo(ctx context.Context, code string) (d.PromoOffer, error) {
	var offer d.PromoOffer
	err := s.mutate(ctx, "apply_promo", func(rctx context.Context) error {
		s.mu.RLock()
		subtotal := d.Subtotal(s.cart.Items)
		s.mu.RUnlock()

		var err error
		offer, err = s.promos.Resolve(rctx, code, subtotal)
		if err != nil {
			return err
		}
		return s.backend.SetPromo(rctx, s.userID, offer)
	})

	var rejected *d.PromoRejectedError
	switch {
	case err == nil:
		s.recorder.PromoApplication("applied")
	case errors.As(err, &rejected):
		s.recorder.PromoApplication(string(rejected.Reason))
		return d.PromoOffer{}, rejected
	default:
		s.recorder.PromoApplication("error")
	}
	return offer, err
}

func (s *CartStore) RemovePromo(ctx context.Context) error {
	return s.mutate(ctx, "remove_promo", func(rctx context.Context) error {
		return s.backend.ClearPromo(rctx, s.userID)
	})
}

// Refresh re-reads the authoritative cart.
func (s *CartStore) Refresh(ctx context.Context) error {
	if err := s.lock(ctx); err != nil {
		return &d.CartSyncError{Op: "refresh", Err: err}
	}
	defer s.unlock()
	return s.refreshLocked(ctx)
}

// EnsureFresh refreshes only when the local view was never loaded or is stale.
func (s *CartStore) EnsureFresh(ctx context.Context) error {
	s.mu.RLock()
	fresh := s.loaded && !s.stale
	s.mu.RUnlock()
	if fresh {
		return nil
	}
	return s.Refresh(ctx)
}

func (s *CartStore) refreshLocked(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	cart, err := s.backend.GetCart(rctx, s.userID)
	if ctx.Err() != nil {
		s.markStale()
		return &d.CartSyncError{Op: "refresh", Err: ctx.Err()}
	}
	if err != nil {
		s.markStale()
		return &d.CartSyncError{Op: "refresh", Err: err}
	}
	s.apply(cart)
	return nil
}

// Snapshot returns a copy of the local view and whether it is known to be behind
// the remote cart.
func (s *CartStore) Snapshot() (d.Cart, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.cart
	out.Items = d.CloneItems(s.cart.Items)
	if s.cart.Promo != nil {
		promo := *s.cart.Promo
		out.Promo = &promo
	}
	return out, s.stale
}

// Forget empties the local view without a remote call. Used after an order has
// been placed when the remote clear could not be confirmed.
func (s *CartStore) Forget() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Items = []d.CartLineItem{}
	s.cart.Promo = nil
	s.stale = false
}

// mutate runs one remote mutation followed by a re-fetch while holding the
// session lock. Remote calls are detached from ctx so the server side completes;
// if ctx ends first the local view is marked stale instead of updated.
func (s *CartStore) mutate(ctx context.Context, op string, fn func(context.Context) error) (err error) {
	defer func() { s.recorder.CartMutation(op, err) }()

	if err := s.lock(ctx); err != nil {
		return &d.CartSyncError{Op: op, Err: err}
	}
	defer s.unlock()

	if s.needsLoad() {
		if err := s.refreshLocked(ctx); err != nil {
			return err
		}
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	mutErr := fn(rctx)
	cart, fetchErr := s.backend.GetCart(rctx, s.userID)

	if ctx.Err() != nil {
		s.markStale()
		s.log.Info("cart mutation outlived its caller, local view marked stale", zap.String("op", op))
		return &d.CartSyncError{Op: op, Err: ctx.Err()}
	}
	if fetchErr != nil {
		s.markStale()
	} else {
		s.apply(cart)
	}

	if mutErr != nil {
		var rejected *d.PromoRejectedError
		if errors.As(mutErr, &rejected) || d.IsValidation(mutErr) {
			return mutErr
		}
		s.log.Warn("cart mutation failed", zap.String("op", op), zap.Error(mutErr))
		return &d.CartSyncError{Op: op, Err: mutErr}
	}
	if fetchErr != nil {
		s.log.Warn("cart re-fetch failed", zap.String("op", op), zap.Error(fetchErr))
		return &d.CartSyncError{Op: "refresh", Err: fetchErr}
	}
	return nil
}

func (s *CartStore) lock(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *CartStore) unlock() {
	<-s.sem
}

func (s *CartStore) needsLoad() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.loaded || s.stale
}

func (s *CartStore) markStale() {
	s.mu.Lock()
	s.stale = true
	s.mu.Unlock()
}

// apply installs a fetched cart unless it is an older version of the same cart
// than the one already held.
func (s *CartStore) apply(cart *d.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded && cart.CreatedAt.Equal(s.cart.CreatedAt) && cart.Version < s.cart.Version {
		s.log.Debug("ignoring out-of-date cart",
			zap.Int64("held_version", s.cart.Version), zap.Int64("fetched_version", cart.Version))
		s.stale = false
		return
	}
	s.cart = *cart
	s.cart.Items = d.CloneItems(cart.Items)
	if s.cart.Items == nil {
		s.cart.Items = []d.CartLineItem{}
	}
	s.loaded = true
	s.stale = false
}
