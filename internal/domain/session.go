package domain

// CheckoutSession is a point-in-time copy of everything one order attempt has
// collected. Guards and pricing read it; they never mutate it.
type CheckoutSession struct {
	UserID         string            `json:"user_id"`
	CartItems      []CartLineItem    `json:"cart_items"`
	Promo          *PromoOffer       `json:"promo,omitempty"`
	Address        *Address          `json:"address,omitempty"`
	Slot           *DeliverySlot     `json:"slot,omitempty"`
	ContactPhone   string            `json:"contact_phone,omitempty"`
	Payment        *PaymentSelection `json:"payment,omitempty"`
	CurrentStep    Step              `json:"current_step"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
}
