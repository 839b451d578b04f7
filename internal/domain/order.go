package domain

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Totals is the priced breakdown of a cart.
type Totals struct {
	Subtotal     Money `json:"subtotal"`
	Discount     Money `json:"discount"`
	DeliveryFee  Money `json:"delivery_fee"`
	Tax          Money `json:"tax"`
	Total        Money `json:"total"`
	PromoActive  bool  `json:"promo_active"`
	FreeDelivery bool  `json:"free_delivery"`
}

// Equal compares every monetary component.
func (t Totals) Equal(o Totals) bool {
	return t.Subtotal.Equal(o.Subtotal) &&
		t.Discount.Equal(o.Discount) &&
		t.DeliveryFee.Equal(o.DeliveryFee) &&
		t.Tax.Equal(o.Tax) &&
		t.Total.Equal(o.Total)
}

// OrderRequest is the payload submitted to the order service.
type OrderRequest struct {
	UserID       string           `json:"user_id"`
	AddressID    string           `json:"address_id"`
	SlotID       string           `json:"slot_id"`
	ContactPhone string           `json:"contact_phone"`
	Payment      PaymentSelection `json:"payment"`
	PromoCode    string           `json:"promo_code,omitempty"`
	Items        []CartLineItem   `json:"items"`
	Totals       Totals           `json:"totals"`
	Currency     string           `json:"currency"`
	SubmittedAt  time.Time        `json:"submitted_at"`
}

// Fingerprint identifies what is being ordered, so a reused idempotency key can
// be told apart from a retry. SubmittedAt is not part of it.
func (r OrderRequest) Fingerprint() string {
	h := xxhash.New()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.WriteString(p)
			_, _ = h.WriteString("\x1f")
		}
	}
	write(r.UserID, r.AddressID, r.SlotID, r.ContactPhone, string(r.Payment.MethodKind), r.Payment.CardReference, r.PromoCode, r.Currency)
	for _, it := range r.Items {
		write(it.ID, it.MealID, it.ChefID, it.UnitPrice.String(), strconv.Itoa(it.Quantity), it.SpecialInstructions)
	}
	write(r.Totals.Total.String())
	return strconv.FormatUint(h.Sum64(), 16)
}

// OrderConfirmation is returned once an order exists.
type OrderConfirmation struct {
	OrderID           string    `json:"order_id"`
	OrderNumber       string    `json:"order_number"`
	EstimatedDelivery time.Time `json:"estimated_delivery"`
	Chefs             []string  `json:"chefs"`
	Totals            Totals    `json:"totals"`
	PlacedAt          time.Time `json:"placed_at"`
}

type OrderStatus string

const (
	OrderPlaced         OrderStatus = "PLACED"
	OrderConfirmed      OrderStatus = "CONFIRMED"
	OrderPreparing      OrderStatus = "PREPARING"
	OrderOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	OrderDelivered      OrderStatus = "DELIVERED"
	OrderCancelled      OrderStatus = "CANCELLED"
)

var validNext = map[OrderStatus]map[OrderStatus]bool{
	OrderPlaced:         {OrderConfirmed: true, OrderCancelled: true},
	OrderConfirmed:      {OrderPreparing: true, OrderCancelled: true},
	OrderPreparing:      {OrderOutForDelivery: true},
	OrderOutForDelivery: {OrderDelivered: true},
	OrderDelivered:      {},
	OrderCancelled:      {},
}

func CanTransition(from, to OrderStatus) bool {
	return validNext[from][to]
}

// Order is a persisted order as held by the order submission service.
type Order struct {
	ID                string            `json:"id"`
	Number            string            `json:"order_number"`
	IdempotencyKey    string            `json:"-"`
	RequestHash       string            `json:"-"`
	UserID            string            `json:"user_id"`
	AddressID         string            `json:"address_id"`
	SlotID            string            `json:"slot_id"`
	ContactPhone      string            `json:"contact_phone"`
	PaymentMethod     PaymentMethodKind `json:"payment_method"`
	TransactionID     string            `json:"transaction_id,omitempty"`
	PromoCode         string            `json:"promo_code,omitempty"`
	Items             []CartLineItem    `json:"items"`
	Chefs             []string          `json:"chefs"`
	Totals            Totals            `json:"totals"`
	Currency          string            `json:"currency"`
	Status            OrderStatus       `json:"status"`
	EstimatedDelivery time.Time         `json:"estimated_delivery"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (o *Order) Confirmation() OrderConfirmation {
	return OrderConfirmation{
		OrderID:           o.ID,
		OrderNumber:       o.Number,
		EstimatedDelivery: o.EstimatedDelivery,
		Chefs:             o.Chefs,
		Totals:            o.Totals,
		PlacedAt:          o.CreatedAt,
	}
}
