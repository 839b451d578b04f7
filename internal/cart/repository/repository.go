package repository

import (
	"context"

	d "github.com/fjod/meal-checkout/internal/domain"
)

// CartRepository is the authoritative cart store. Every mutation bumps the
// cart version.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*d.Cart, error)
	AddItem(ctx context.Context, userID string, item d.CartLineItem) error
	UpdateItemQuantity(ctx context.Context, userID, itemID string, quantity int) error
	UpdateItemInstructions(ctx context.Context, userID, itemID, instructions string) error
	RemoveItem(ctx context.Context, userID, itemID string) error
	SetPromo(ctx context.Context, userID string, offer d.PromoOffer) error
	ClearPromo(ctx context.Context, userID string) error
	DeleteCart(ctx context.Context, userID string) error
	// RemoveOrderedItems takes an order's lines out of the cart and drops the
	// promo. Lines added or grown after the order stay. An emptied cart is deleted.
	RemoveOrderedItems(ctx context.Context, userID string, lines []d.OrderedLine) error
}
