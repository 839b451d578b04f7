package repository

import (
	"fmt"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/shopspring/decimal"
)

// Amounts are stored as decimal strings so no precision is lost in BSON.

type cartDocument struct {
	UserID    string         `bson:"user_id"`
	Items     []itemDocument `bson:"items"`
	Promo     *promoDocument `bson:"promo,omitempty"`
	Version   int64          `bson:"version"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

type itemDocument struct {
	ID                  string    `bson:"id"`
	MealID              string    `bson:"meal_id"`
	ChefID              string    `bson:"chef_id"`
	ChefName            string    `bson:"chef_name"`
	Name                string    `bson:"name"`
	UnitPrice           string    `bson:"unit_price"`
	Quantity            int       `bson:"quantity"`
	SpecialInstructions string    `bson:"special_instructions"`
	AddedAt             time.Time `bson:"added_at"`
}

type promoDocument struct {
	Code            string `bson:"code"`
	DiscountPercent int    `bson:"discount_percent"`
	MinOrderAmount  string `bson:"min_order_amount"`
	FreeDelivery    bool   `bson:"free_delivery"`
	Description     string `bson:"description,omitempty"`
}

func newItemDocument(it d.CartLineItem) itemDocument {
	return itemDocument{
		ID:                  it.ID,
		MealID:              it.MealID,
		ChefID:              it.ChefID,
		ChefName:            it.ChefName,
		Name:                it.Name,
		UnitPrice:           it.UnitPrice.String(),
		Quantity:            it.Quantity,
		SpecialInstructions: it.SpecialInstructions,
		AddedAt:             it.AddedAt,
	}
}

func newPromoDocument(p d.PromoOffer) *promoDocument {
	return &promoDocument{
		Code:            p.Code,
		DiscountPercent: p.DiscountPercent,
		MinOrderAmount:  p.MinOrderAmount.String(),
		FreeDelivery:    p.FreeDelivery,
		Description:     p.Description,
	}
}

func (doc *cartDocument) toDomain() (*d.Cart, error) {
	cart := &d.Cart{
		UserID:    doc.UserID,
		Items:     make([]d.CartLineItem, 0, len(doc.Items)),
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
	for _, it := range doc.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("item %s has malformed price %q: %w", it.ID, it.UnitPrice, err)
		}
		cart.Items = append(cart.Items, d.CartLineItem{
			ID:                  it.ID,
			MealID:              it.MealID,
			ChefID:              it.ChefID,
			ChefName:            it.ChefName,
			Name:                it.Name,
			UnitPrice:           price,
			Quantity:            it.Quantity,
			SpecialInstructions: it.SpecialInstructions,
			AddedAt:             it.AddedAt,
		})
	}
	if doc.Promo != nil {
		minimum, err := decimal.NewFromString(doc.Promo.MinOrderAmount)
		if err != nil {
			return nil, fmt.Errorf("promo %s has malformed minimum: %w", doc.Promo.Code, err)
		}
		cart.Promo = &d.PromoOffer{
			Code:            doc.Promo.Code,
			DiscountPercent: doc.Promo.DiscountPercent,
			MinOrderAmount:  minimum,
			FreeDelivery:    doc.Promo.FreeDelivery,
			Description:     doc.Promo.Description,
		}
	}
	return cart, nil
}
