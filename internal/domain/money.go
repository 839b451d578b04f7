package domain

import "github.com/shopspring/decimal"

// Money is an amount in the checkout currency.
type Money = decimal.Decimal

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds to whole cents, half away from zero.
func RoundMoney(m Money) Money {
	return m.Round(2)
}

// MustMoney parses a literal amount. It panics on malformed input and is meant for
// constants and tests.
func MustMoney(s string) Money {
	return decimal.RequireFromString(s)
}

// Percent returns pct% of m, unrounded.
func Percent(m Money, pct int) Money {
	return m.Mul(decimal.NewFromInt(int64(pct))).Div(hundred)
}

// NewQuantity lifts an item count into decimal arithmetic.
func NewQuantity(q int) decimal.Decimal {
	return decimal.NewFromInt(int64(q))
}
