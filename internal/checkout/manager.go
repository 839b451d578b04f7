package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/fjod/meal-checkout/internal/pricing"
	"go.uber.org/zap"
)

var ErrNoSession = errors.New("no checkout session, enter checkout first")

type SlotResolver interface {
	Resolve(ctx context.Context, slotID string, chefIDs []string) (d.DeliverySlot, error)
}

type AddressBook interface {
	Get(ctx context.Context, userID, addressID string) (d.Address, error)
}

type Config struct {
	Backend     CartBackend
	Promos      PromoResolver
	Pricing     *pricing.Engine
	Slots       SlotResolver
	Addresses   AddressBook
	CartTimeout time.Duration
	Recorder    Recorder
	Now         func() time.Time
}

// Manager owns one Session per user.
type Manager struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(cfg Config, log *zap.Logger) *Manager {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{cfg: cfg, log: log, sessions: make(map[string]*Session)}
}

// Enter creates or resumes the user's session and re-reads the cart. A session
// whose order was placed starts over at the cart step with empty selections.
func (m *Manager) Enter(ctx context.Context, userID string) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	if !ok {
		store := NewCartStore(userID, m.cfg.Backend, m.cfg.Promos, m.cfg.CartTimeout, m.cfg.Recorder, m.log)
		s = newSession(userID, store, m.cfg.Pricing, m.cfg.Now)
		m.sessions[userID] = s
	}
	m.mu.Unlock()

	if s.Step() == d.StepPlaced {
		s.reset()
		m.log.Info("checkout session reset after placed order", zap.String("user_id", userID))
	}
	return s, s.cart.Refresh(ctx)
}

// Get returns an existing session without touching the cart.
func (m *Manager) Get(userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrNoSession
	}
	return s, nil
}

// CartChanged marks the user's session cart stale after the cart was changed
// outside the session, so the next read re-fetches it.
func (m *Manager) CartChanged(userID string) {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	m.mu.Unlock()
	if ok {
		s.cart.MarkStale()
	}
}

// Leave forgets the user's session.
func (m *Manager) Leave(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// SelectDelivery resolves the address and slot by id and sets them with the
// contact phone. Nothing is changed unless all three are valid.
func (m *Manager) SelectDelivery(ctx context.Context, s *Session, addressID, slotID, phone string) error {
	if addressID == "" {
		return &d.ValidationError{Field: "address_id", Message: "address is required"}
	}
	if slotID == "" {
		return &d.ValidationError{Field: "slot_id", Message: "delivery slot is required"}
	}
	normalized, err := d.NormalizeContactPhone(phone)
	if err != nil {
		return err
	}

	addr, err := m.cfg.Addresses.Get(ctx, s.userID, addressID)
	if errors.Is(err, d.ErrAddressNotFound) {
		return &d.ValidationError{Field: "address_id", Message: "address not found"}
	}
	if err != nil {
		m.log.Warn("address lookup failed", zap.String("user_id", s.userID), zap.String("address_id", addressID), zap.Error(err))
		return fmt.Errorf("lookup address %s: %w", addressID, err)
	}
	if err := addr.Validate(); err != nil {
		return err
	}

	if err := s.cart.EnsureFresh(ctx); err != nil {
		return err
	}
	cart, _ := s.cart.Snapshot()
	slot, err := m.cfg.Slots.Resolve(ctx, slotID, cart.ChefIDs())
	if err != nil {
		return &d.ValidationError{Field: "slot_id", Message: err.Error()}
	}
	if err := validateSlot(slot, s.now()); err != nil {
		return err
	}

	s.setDelivery(addr, slot, normalized)
	return nil
}
