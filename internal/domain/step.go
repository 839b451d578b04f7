package domain

import (
	"fmt"
	"strings"
)

// Step is a stage of the checkout flow. Placed is terminal.
type Step int

const (
	StepCart Step = iota
	StepDelivery
	StepPayment
	StepPlaced
)

func (s Step) String() string {
	switch s {
	case StepCart:
		return "cart"
	case StepDelivery:
		return "delivery"
	case StepPayment:
		return "payment"
	case StepPlaced:
		return "placed"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func ParseStep(s string) (Step, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cart":
		return StepCart, nil
	case "delivery":
		return StepDelivery, nil
	case "payment":
		return StepPayment, nil
	case "placed":
		return StepPlaced, nil
	}
	return 0, &ValidationError{Field: "step", Message: fmt.Sprintf("unknown step %q", s)}
}
