// Package service is the cart persistence service: a read-through cache in
// front of the Mongo cart repository.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/meal-checkout/internal/cart/cache"
	"github.com/fjod/meal-checkout/internal/cart/repository"
	d "github.com/fjod/meal-checkout/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type CartService struct {
	repo  repository.CartRepository
	cache cache.CartCache
	sfg   singleflight.Group
	log   *zap.Logger
	now   func() time.Time
}

func NewCartService(repo repository.CartRepository, cache cache.CartCache, log *zap.Logger) *CartService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CartService{
		repo:  repo,
		cache: cache,
		log:   log,
		now:   time.Now,
	}
}

// GetCart returns the authoritative cart. A user without a cart gets an empty one.
func (s *CartService) GetCart(ctx context.Context, userID string) (*d.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (any, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cart cache get failed", zap.String("user_id", userID), zap.Error(err))
		}

		cart, err = s.repo.GetCart(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			now := s.now()
			return &d.Cart{UserID: userID, Items: []d.CartLineItem{}, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		go func(cart *d.Cart) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			if err := s.cache.Set(ctx, userID, cart); err != nil {
				s.log.Warn("cart cache set failed", zap.String("user_id", userID), zap.Error(err))
			}
		}(cart)

		return cart, nil
	})
	if err != nil {
		return nil, err
	}

	// singleflight shares one value between callers
	shared := *v.(*d.Cart)
	shared.Items = d.CloneItems(shared.Items)
	return &shared, nil
}

func (s *CartService) AddItem(ctx context.Context, userID string, item d.CartLineItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, userID, "add item", func() error {
		return s.repo.AddItem(ctx, userID, item)
	})
}

// UpdateQuantity sets a line quantity. A quantity below one removes the line.
func (s *CartService) UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) error {
	if quantity < 1 {
		return s.RemoveItem(ctx, userID, itemID)
	}
	return s.mutate(ctx, userID, "update quantity", func() error {
		return s.repo.UpdateItemQuantity(ctx, userID, itemID, quantity)
	})
}

func (s *CartService) UpdateInstructions(ctx context.Context, userID, itemID, instructions string) error {
	if err := d.ValidateInstructions(instructions); err != nil {
		return err
	}
	return s.mutate(ctx, userID, "update instructions", func() error {
		return s.repo.UpdateItemInstructions(ctx, userID, itemID, instructions)
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID, itemID string) error {
	return s.mutate(ctx, userID, "remove item", func() error {
		return s.repo.RemoveItem(ctx, userID, itemID)
	})
}

// ClearCart drops the items and the promo. Clearing a missing cart is not an error.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	return s.mutate(ctx, userID, "clear cart", func() error {
		err := s.repo.DeleteCart(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return nil
		}
		return err
	})
}

// RemoveOrderedItems takes a placed order's lines out of the cart. Lines added
// since the order stay; a missing cart is not an error.
func (s *CartService) RemoveOrderedItems(ctx context.Context, userID string, lines []d.OrderedLine) error {
	return s.mutate(ctx, userID, "remove ordered items", func() error {
		err := s.repo.RemoveOrderedItems(ctx, userID, lines)
		if errors.Is(err, repository.ErrCartNotFound) {
			return nil
		}
		return err
	})
}

func (s *CartService) SetPromo(ctx context.Context, userID string, offer d.PromoOffer) error {
	return s.mutate(ctx, userID, "set promo", func() error {
		return s.repo.SetPromo(ctx, userID, offer)
	})
}

func (s *CartService) ClearPromo(ctx context.Context, userID string) error {
	return s.mutate(ctx, userID, "clear promo", func() error {
		err := s.repo.ClearPromo(ctx, userID)
		if errors.Is(err, repository.ErrCartNotFound) {
			return nil
		}
		return err
	})
}

func (s *CartService) mutate(ctx context.Context, userID, op string, fn func() error) error {
	if err := fn(); err != nil {
		s.log.Warn("cart mutation failed", zap.String("op", op), zap.String("user_id", userID), zap.Error(err))
		return err
	}
	s.invalidateCache(ctx, userID)
	return nil
}

func (s *CartService) invalidateCache(ctx context.Context, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cart cache invalidate failed", zap.String("user_id", userID), zap.Error(err))
	}
}
