package domain

import (
	"time"
	"unicode/utf8"
)

const MaxInstructionsLength = 200

// CartLineItem is one meal in the cart. Quantity is always >= 1; a zero quantity
// is expressed by removing the item.
type CartLineItem struct {
	ID                  string    `json:"id"`
	MealID              string    `json:"meal_id"`
	ChefID              string    `json:"chef_id"`
	ChefName            string    `json:"chef_name"`
	Name                string    `json:"name"`
	UnitPrice           Money     `json:"unit_price"`
	Quantity            int       `json:"quantity"`
	SpecialInstructions string    `json:"special_instructions,omitempty"`
	AddedAt             time.Time `json:"added_at"`
}

// LineTotal is unit price times quantity.
func (i CartLineItem) LineTotal() Money {
	return i.UnitPrice.Mul(NewQuantity(i.Quantity))
}

// Validate checks the invariants of a line item about to be added.
func (i CartLineItem) Validate() error {
	if i.MealID == "" {
		return &ValidationError{Field: "meal_id", Message: "meal is required"}
	}
	if i.ChefID == "" {
		return &ValidationError{Field: "chef_id", Message: "chef is required"}
	}
	if i.Quantity < 1 {
		return &ValidationError{Field: "quantity", Message: "quantity must be at least 1"}
	}
	if !i.UnitPrice.IsPositive() {
		return &ValidationError{Field: "unit_price", Message: "unit price must be positive"}
	}
	return ValidateInstructions(i.SpecialInstructions)
}

func ValidateInstructions(text string) error {
	if utf8.RuneCountInString(text) > MaxInstructionsLength {
		return &ValidationError{Field: "special_instructions", Message: "special instructions must be at most 200 characters"}
	}
	return nil
}

// Cart is the authoritative cart state held by the cart persistence service.
type Cart struct {
	UserID    string         `json:"user_id"`
	Items     []CartLineItem `json:"items"`
	Promo     *PromoOffer    `json:"promo,omitempty"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ChefIDs returns the distinct chefs in item order.
func (c *Cart) ChefIDs() []string {
	return ChefIDs(c.Items)
}

func ChefIDs(items []CartLineItem) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ChefID]; ok {
			continue
		}
		seen[it.ChefID] = struct{}{}
		out = append(out, it.ChefID)
	}
	return out
}

// ChefNames returns the distinct chef names in item order.
func ChefNames(items []CartLineItem) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ChefName]; ok {
			continue
		}
		seen[it.ChefName] = struct{}{}
		out = append(out, it.ChefName)
	}
	return out
}

// CloneItems returns a copy callers may keep without aliasing store state.
func CloneItems(items []CartLineItem) []CartLineItem {
	if items == nil {
		return nil
	}
	out := make([]CartLineItem, len(items))
	copy(out, items)
	return out
}

// Subtotal sums the line totals, rounded to cents.
func Subtotal(items []CartLineItem) Money {
	sum := Money{}
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return RoundMoney(sum)
}

// OrderedLine is the part of a cart line that went into an order.
type OrderedLine struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

func OrderedLines(items []CartLineItem) []OrderedLine {
	out := make([]OrderedLine, len(items))
	for i, it := range items {
		out[i] = OrderedLine{ItemID: it.ID, Quantity: it.Quantity}
	}
	return out
}

// SubtractOrdered takes ordered quantities out of a cart. A line whose quantity
// grew after the order keeps the difference; lines added later are untouched.
// It reports whether anything changed.
func SubtractOrdered(items []CartLineItem, lines []OrderedLine) ([]CartLineItem, bool) {
	ordered := make(map[string]int, len(lines))
	for _, l := range lines {
		ordered[l.ItemID] += l.Quantity
	}
	out := make([]CartLineItem, 0, len(items))
	changed := false
	for _, it := range items {
		qty, ok := ordered[it.ID]
		if !ok || qty <= 0 {
			out = append(out, it)
			continue
		}
		changed = true
		if it.Quantity > qty {
			it.Quantity -= qty
			out = append(out, it)
		}
	}
	return out, changed
}
