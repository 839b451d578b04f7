package promo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	d "github.com/fjod/meal-checkout/internal/domain"
	"go.uber.org/zap"
)

var ErrOfferNotFound = errors.New("promo offer not found")

// Catalog supplies promo offers by code. Lookups are case-insensitive.
type Catalog interface {
	FindByCode(ctx context.Context, code string) (*d.PromoOffer, error)
}

// Resolver validates promo codes against the catalog.
//
// A code whose minimum is not met at apply time is rejected with BelowMinimum
// rather than stored as inactive. Resolving never removes a previously applied
// offer; callers replace it only when resolution succeeds.
type Resolver struct {
	catalog Catalog
	log     *zap.Logger
}

func NewResolver(catalog Catalog, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{catalog: catalog, log: log}
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Resolve returns the matching offer, a *d.PromoRejectedError, or a lookup error.
func (r *Resolver) Resolve(ctx context.Context, code string, subtotal d.Money) (d.PromoOffer, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return d.PromoOffer{}, &d.PromoRejectedError{Code: code, Reason: d.PromoNotFound}
	}

	offer, err := r.catalog.FindByCode(ctx, normalized)
	if errors.Is(err, ErrOfferNotFound) {
		r.log.Info("promo code rejected", zap.String("code", normalized), zap.String("reason", string(d.PromoNotFound)))
		return d.PromoOffer{}, &d.PromoRejectedError{Code: normalized, Reason: d.PromoNotFound}
	}
	if err != nil {
		return d.PromoOffer{}, fmt.Errorf("failed to look up promo code: %w", err)
	}

	if !offer.MinimumMet(subtotal) {
		r.log.Info("promo code rejected",
			zap.String("code", normalized),
			zap.String("reason", string(d.PromoBelowMinimum)),
			zap.String("subtotal", subtotal.StringFixed(2)))
		return d.PromoOffer{}, &d.PromoRejectedError{Code: offer.Code, Reason: d.PromoBelowMinimum, Minimum: offer.MinOrderAmount}
	}
	return *offer, nil
}

// StaticCatalog is an in-memory catalog.
type StaticCatalog struct {
	offers map[string]d.PromoOffer
}

func NewStaticCatalog(offers ...d.PromoOffer) *StaticCatalog {
	c := &StaticCatalog{offers: make(map[string]d.PromoOffer, len(offers))}
	for _, o := range offers {
		o.Code = NormalizeCode(o.Code)
		c.offers[o.Code] = o
	}
	return c
}

func (c *StaticCatalog) FindByCode(_ context.Context, code string) (*d.PromoOffer, error) {
	o, ok := c.offers[NormalizeCode(code)]
	if !ok {
		return nil, ErrOfferNotFound
	}
	return &o, nil
}
