package domain

import "time"

type SlotKind string

const (
	SlotKindWindow SlotKind = "window"
	SlotKindASAP   SlotKind = "asap"
)

// DeliverySlot is a selectable delivery window generated for one date.
type DeliverySlot struct {
	ID                    string    `json:"id"`
	Kind                  SlotKind  `json:"kind"`
	Date                  string    `json:"date"` // YYYY-MM-DD in the catalog time zone
	TimeLabel             string    `json:"time_label"`
	StartsAt              time.Time `json:"starts_at"`
	EndsAt                time.Time `json:"ends_at"`
	EstimatedDeliveryTime time.Time `json:"estimated_delivery_time"`
	IsAvailable           bool      `json:"is_available"`
	ExtraFee              Money     `json:"extra_fee"`
}

const DateLayout = "2006-01-02"

// Expired reports whether the slot has rolled into the past and must be
// re-resolved. A window expires once it starts, the same cutoff the catalog
// uses to stop offering it; an ASAP slot expires after its estimated time.
func (s DeliverySlot) Expired(now time.Time) bool {
	if s.Kind == SlotKindASAP {
		return s.EstimatedDeliveryTime.Before(now)
	}
	if s.StartsAt.IsZero() {
		return true
	}
	return !s.StartsAt.After(now)
}
