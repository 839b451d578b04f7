package order

import "errors"

var (
	// ErrNotReady means placement was requested before the payment step's guard held.
	ErrNotReady          = errors.New("checkout is not ready to place an order")
	ErrPlacementInFlight = errors.New("an order for this checkout is already being placed")
	ErrEmptyOrder        = errors.New("order has no items")
	ErrTotalMismatch     = errors.New("order totals changed, review the order")
	ErrSlotUnavailable   = errors.New("delivery slot is no longer available")
	ErrPaymentDeclined   = errors.New("payment was declined")
	ErrCannotCancel      = errors.New("order can no longer be cancelled")

	// ErrIdempotencyKeyReused means the key already belongs to a different request.
	ErrIdempotencyKeyReused = errors.New("idempotency key was already used for a different order")
)

// businessError reports rejections that say nothing about downstream health.
func businessError(err error) bool {
	return errors.Is(err, ErrEmptyOrder) ||
		errors.Is(err, ErrTotalMismatch) ||
		errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrPaymentDeclined) ||
		errors.Is(err, ErrIdempotencyKeyReused)
}
