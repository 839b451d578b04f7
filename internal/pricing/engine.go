// Package pricing computes checkout totals. It performs no I/O and holds no
// state beyond its configuration, so identical inputs always price identically.
package pricing

import (
	"errors"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/shopspring/decimal"
)

// Config carries the fixed pricing constants.
type Config struct {
	// TaxRate applies to the pre-discount subtotal, e.g. 0.0875.
	TaxRate decimal.Decimal
	// FreeDeliveryThreshold waives the slot fee when the subtotal reaches it.
	FreeDeliveryThreshold decimal.Decimal
}

type Engine struct {
	taxRate   decimal.Decimal
	threshold decimal.Decimal
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.TaxRate.IsNegative() || cfg.TaxRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, &d.FatalConfigError{Key: "TAX_RATE", Err: errors.New("tax rate must be in [0, 1)")}
	}
	if cfg.FreeDeliveryThreshold.IsNegative() {
		return nil, &d.FatalConfigError{Key: "FREE_DELIVERY_THRESHOLD", Err: errors.New("threshold must not be negative")}
	}
	return &Engine{taxRate: cfg.TaxRate, threshold: cfg.FreeDeliveryThreshold}, nil
}

func (e *Engine) TaxRate() decimal.Decimal { return e.taxRate }

func (e *Engine) FreeDeliveryThreshold() decimal.Decimal { return e.threshold }

// ComputeTotals prices the cart. A promo whose minimum is not met contributes
// nothing, even though the cart still holds it.
func (e *Engine) ComputeTotals(items []d.CartLineItem, promo *d.PromoOffer, slot *d.DeliverySlot) d.Totals {
	subtotal := d.Subtotal(items)

	t := d.Totals{
		Subtotal:    subtotal,
		Discount:    decimal.Zero,
		DeliveryFee: decimal.Zero,
		Tax:         decimal.Zero,
		Total:       decimal.Zero,
	}
	if len(items) == 0 {
		return t
	}

	if promo != nil && promo.MinimumMet(subtotal) {
		t.PromoActive = true
		t.Discount = d.RoundMoney(d.Percent(subtotal, promo.DiscountPercent))
	}

	switch {
	case t.PromoActive && promo.FreeDelivery:
		t.FreeDelivery = true
	case subtotal.GreaterThanOrEqual(e.threshold):
		t.FreeDelivery = true
	case slot != nil:
		t.DeliveryFee = d.RoundMoney(slot.ExtraFee)
	}

	t.Tax = d.RoundMoney(subtotal.Mul(e.taxRate))

	total := subtotal.Sub(t.Discount).Add(t.DeliveryFee).Add(t.Tax)
	if total.IsNegative() {
		total = decimal.Zero
	}
	t.Total = total
	return t
}
