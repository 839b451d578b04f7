package repository

import (
	"context"
	"sync"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/google/uuid"
)

// MemoryRepository keeps carts in process. It backs local runs without MongoDB
// and tests in other packages.
type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[string]*d.Cart
	now   func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[string]*d.Cart), now: time.Now}
}

func (m *MemoryRepository) GetCart(_ context.Context, userID string) (*d.Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cart, ok := m.carts[userID]
	if !ok {
		return nil, ErrCartNotFound
	}
	out := *cart
	out.Items = d.CloneItems(cart.Items)
	if cart.Promo != nil {
		promo := *cart.Promo
		out.Promo = &promo
	}
	return &out, nil
}

func (m *MemoryRepository) AddItem(ctx context.Context, userID string, item d.CartLineItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	cart := m.upsert(userID, now)
	for i := range cart.Items {
		existing := &cart.Items[i]
		if existing.MealID == item.MealID && existing.SpecialInstructions == item.SpecialInstructions {
			existing.Quantity += item.Quantity
			m.touch(cart, now)
			return nil
		}
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.AddedAt = now
	cart.Items = append(cart.Items, item)
	m.touch(cart, now)
	return nil
}

func (m *MemoryRepository) UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	return m.updateItem(ctx, userID, itemID, func(it *d.CartLineItem) { it.Quantity = quantity })
}

func (m *MemoryRepository) UpdateItemInstructions(ctx context.Context, userID, itemID, instructions string) error {
	return m.updateItem(ctx, userID, itemID, func(it *d.CartLineItem) { it.SpecialInstructions = instructions })
}

func (m *MemoryRepository) updateItem(ctx context.Context, userID, itemID string, fn func(*d.CartLineItem)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[userID]
	if !ok {
		return ErrItemNotFound
	}
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			fn(&cart.Items[i])
			m.touch(cart, m.now())
			return nil
		}
	}
	return ErrItemNotFound
}

func (m *MemoryRepository) RemoveItem(ctx context.Context, userID, itemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[userID]
	if !ok {
		return ErrItemNotFound
	}
	for i := range cart.Items {
		if cart.Items[i].ID == itemID {
			cart.Items = append(cart.Items[:i], cart.Items[i+1:]...)
			m.touch(cart, m.now())
			return nil
		}
	}
	return ErrItemNotFound
}

func (m *MemoryRepository) SetPromo(ctx context.Context, userID string, offer d.PromoOffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	cart := m.upsert(userID, now)
	cart.Promo = &offer
	m.touch(cart, now)
	return nil
}

func (m *MemoryRepository) ClearPromo(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[userID]
	if !ok {
		return ErrCartNotFound
	}
	cart.Promo = nil
	m.touch(cart, m.now())
	return nil
}

func (m *MemoryRepository) DeleteCart(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.carts[userID]; !ok {
		return ErrCartNotFound
	}
	delete(m.carts, userID)
	return nil
}

func (m *MemoryRepository) RemoveOrderedItems(ctx context.Context, userID string, lines []d.OrderedLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[userID]
	if !ok {
		return ErrCartNotFound
	}
	remaining, changed := d.SubtractOrdered(cart.Items, lines)
	if !changed {
		return nil
	}
	if len(remaining) == 0 {
		delete(m.carts, userID)
		return nil
	}
	cart.Items = remaining
	cart.Promo = nil
	m.touch(cart, m.now())
	return nil
}

func (m *MemoryRepository) upsert(userID string, now time.Time) *d.Cart {
	cart, ok := m.carts[userID]
	if !ok {
		cart = &d.Cart{UserID: userID, Items: []d.CartLineItem{}, CreatedAt: now}
		m.carts[userID] = cart
	}
	return cart
}

func (m *MemoryRepository) touch(cart *d.Cart, now time.Time) {
	cart.Version++
	cart.UpdatedAt = now
}
