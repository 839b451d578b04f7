package cache

import (
	"context"
	"errors"

	d "github.com/fjod/meal-checkout/internal/domain"
)

type CartCache interface {
	Get(ctx context.Context, userID string) (*d.Cart, error)
	Set(ctx context.Context, userID string, cart *d.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")
