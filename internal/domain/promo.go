package domain

// PromoOffer is an immutable catalog entry. A cart holds at most one.
type PromoOffer struct {
	Code            string `json:"code"`
	DiscountPercent int    `json:"discount_percent"`
	MinOrderAmount  Money  `json:"min_order_amount"`
	FreeDelivery    bool   `json:"free_delivery"`
	Description     string `json:"description,omitempty"`
}

// MinimumMet reports whether subtotal qualifies for the offer.
func (p PromoOffer) MinimumMet(subtotal Money) bool {
	return !subtotal.LessThan(p.MinOrderAmount)
}
