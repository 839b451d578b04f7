package domain

import (
	"errors"
	"fmt"
)

var ErrAddressNotFound = errors.New("address not found")

// ValidationError is a field-level input problem. The form stays open and the
// flow does not advance.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type PromoRejection string

const (
	PromoNotFound     PromoRejection = "NotFound"
	PromoBelowMinimum PromoRejection = "BelowMinimum"
)

type PromoRejectedError struct {
	Code    string
	Reason  PromoRejection
	Minimum Money // set for BelowMinimum
}

func (e *PromoRejectedError) Error() string {
	if e.Reason == PromoBelowMinimum {
		return fmt.Sprintf("promo %s requires a minimum order of %s", e.Code, e.Minimum.StringFixed(2))
	}
	return fmt.Sprintf("promo %s not found", e.Code)
}

// CartSyncError means a remote cart call failed. The local view reflects the
// last authoritative state that could be fetched.
type CartSyncError struct {
	Op  string
	Err error
}

func (e *CartSyncError) Error() string {
	return fmt.Sprintf("cart %s failed: %v", e.Op, e.Err)
}

func (e *CartSyncError) Unwrap() error { return e.Err }

type PaymentTokenizationError struct {
	Reason string
	Err    error
}

func (e *PaymentTokenizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment tokenization failed: %s: %v", e.Reason, e.Err)
	}
	return "payment tokenization failed: " + e.Reason
}

func (e *PaymentTokenizationError) Unwrap() error { return e.Err }

// OrderPlacementError leaves the session at the payment step with the cart intact.
type OrderPlacementError struct {
	Reason string
	Err    error
}

func (e *OrderPlacementError) Error() string {
	return fmt.Sprintf("order placement failed: %s: %v", e.Reason, e.Err)
}

func (e *OrderPlacementError) Unwrap() error { return e.Err }

// FatalConfigError aborts startup.
type FatalConfigError struct {
	Key string
	Err error
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %v", e.Key, e.Err)
}

func (e *FatalConfigError) Unwrap() error { return e.Err }

var ErrMissingValue = errors.New("value is required")

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
