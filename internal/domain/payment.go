package domain

import "fmt"

type PaymentMethodKind string

const (
	PaymentCard           PaymentMethodKind = "Card"
	PaymentWallet         PaymentMethodKind = "Wallet"
	PaymentCashOnDelivery PaymentMethodKind = "CashOnDelivery"
)

func ParsePaymentMethodKind(s string) (PaymentMethodKind, error) {
	switch k := PaymentMethodKind(s); k {
	case PaymentCard, PaymentWallet, PaymentCashOnDelivery:
		return k, nil
	}
	return "", &ValidationError{Field: "method", Message: fmt.Sprintf("unknown payment method %q", s)}
}

// PaymentSelection references a tokenized payment method. CardReference is an
// opaque token, never card data.
type PaymentSelection struct {
	MethodKind    PaymentMethodKind `json:"method"`
	CardReference string            `json:"card_reference,omitempty"`
}

func (p PaymentSelection) Validate() error {
	if _, err := ParsePaymentMethodKind(string(p.MethodKind)); err != nil {
		return err
	}
	if p.MethodKind == PaymentCard && p.CardReference == "" {
		return &ValidationError{Field: "card_reference", Message: "card payment requires a card reference"}
	}
	return nil
}

// RequiresCharge reports whether the method is charged at placement time.
func (p PaymentSelection) RequiresCharge() bool {
	return p.MethodKind != PaymentCashOnDelivery
}
