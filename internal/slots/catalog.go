// Package slots enumerates delivery windows for a date and checks them
// against chef capacity.
package slots

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const asapID = "asap"

var (
	ErrSlotNotFound    = errors.New("delivery slot not found or already passed")
	ErrSlotUnavailable = errors.New("delivery slot is not available")
	ErrOutsideHorizon  = errors.New("delivery date is outside the booking horizon")
)

type Config struct {
	Bands           []Band
	Location        *time.Location
	HorizonDays     int
	ExpressFee      d.Money
	ExpressMinutes  int
	CapacityTimeout time.Duration
	// FallbackAvailable is used when a capacity lookup fails or times out.
	FallbackAvailable bool
	// MaxLookups bounds concurrent capacity lookups.
	MaxLookups int
}

type Catalog struct {
	cfg      Config
	capacity CapacityProvider
	now      func() time.Time
	log      *zap.Logger
}

type Option func(*Catalog)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

func NewCatalog(cfg Config, capacity CapacityProvider, log *zap.Logger, opts ...Option) (*Catalog, error) {
	if len(cfg.Bands) == 0 {
		cfg.Bands = DefaultBands()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HorizonDays <= 0 {
		return nil, &d.FatalConfigError{Key: "SLOT_HORIZON_DAYS", Err: errors.New("horizon must be at least one day")}
	}
	if cfg.ExpressMinutes <= 0 {
		return nil, &d.FatalConfigError{Key: "EXPRESS_MINUTES", Err: errors.New("express minutes must be positive")}
	}
	if cfg.ExpressFee.IsNegative() {
		return nil, &d.FatalConfigError{Key: "EXPRESS_FEE", Err: errors.New("express fee must not be negative")}
	}
	if cfg.CapacityTimeout <= 0 {
		cfg.CapacityTimeout = 2 * time.Second
	}
	if cfg.MaxLookups <= 0 {
		cfg.MaxLookups = 8
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &Catalog{cfg: cfg, capacity: capacity, now: time.Now, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Catalog) today() time.Time {
	return startOfDay(c.now().In(c.cfg.Location))
}

func startOfDay(t time.Time) time.Time {
	y, m, day := t.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, t.Location())
}

// Dates lists the bookable dates, today first.
func (c *Catalog) Dates() []time.Time {
	today := c.today()
	out := make([]time.Time, c.cfg.HorizonDays)
	for i := range out {
		out[i] = today.AddDate(0, 0, i)
	}
	return out
}

// WithinHorizon reports whether date falls on one of Dates.
func (c *Catalog) WithinHorizon(date time.Time) bool {
	day := startOfDay(date.In(c.cfg.Location))
	today := c.today()
	return !day.Before(today) && day.Before(today.AddDate(0, 0, c.cfg.HorizonDays))
}

// ParseDate reads YYYY-MM-DD in the catalog time zone.
func (c *Catalog) ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(d.DateLayout, s, c.cfg.Location)
	if err != nil {
		return time.Time{}, &d.ValidationError{Field: "date", Message: "date must be YYYY-MM-DD"}
	}
	return t, nil
}

// GenerateSlots lists the windows for date. Windows that already started today
// are left out; windows without chef capacity are listed as unavailable. The
// ASAP slot is offered alongside today's windows.
func (c *Catalog) GenerateSlots(ctx context.Context, date time.Time, chefIDs []string) []d.DeliverySlot {
	now := c.now().In(c.cfg.Location)
	day := startOfDay(date.In(c.cfg.Location))
	today := startOfDay(now)
	if day.Before(today) {
		return nil
	}
	dateKey := day.Format(d.DateLayout)

	slots := make([]d.DeliverySlot, 0, len(c.cfg.Bands)+1)
	if day.Equal(today) {
		eta := now.Add(time.Duration(c.cfg.ExpressMinutes) * time.Minute)
		slots = append(slots, d.DeliverySlot{
			ID:                    slotID(dateKey, asapID),
			Kind:                  d.SlotKindASAP,
			Date:                  dateKey,
			TimeLabel:             fmt.Sprintf("As soon as possible (~%d min)", c.cfg.ExpressMinutes),
			StartsAt:              now,
			EndsAt:                eta,
			EstimatedDeliveryTime: eta,
			ExtraFee:              c.cfg.ExpressFee,
		})
	}
	for _, b := range c.cfg.Bands {
		start := day.Add(b.start)
		if !start.After(now) {
			continue
		}
		end := day.Add(b.end)
		slots = append(slots, d.DeliverySlot{
			ID:                    slotID(dateKey, b.ID),
			Kind:                  d.SlotKindWindow,
			Date:                  dateKey,
			TimeLabel:             b.Label,
			StartsAt:              start,
			EndsAt:                end,
			EstimatedDeliveryTime: end,
			ExtraFee:              b.fee,
		})
	}

	c.markAvailability(ctx, dateKey, slots, chefIDs)
	return slots
}

func (c *Catalog) markAvailability(ctx context.Context, dateKey string, slots []d.DeliverySlot, chefIDs []string) {
	if len(chefIDs) == 0 {
		for i := range slots {
			slots[i].IsAvailable = true
		}
		return
	}

	results := make([][]bool, len(slots))
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.MaxLookups)
	for i := range slots {
		results[i] = make([]bool, len(chefIDs))
		bandID := bandOf(slots[i].ID)
		for j, chefID := range chefIDs {
			g.Go(func() error {
				results[i][j] = c.lookup(ctx, chefID, dateKey, bandID)
				return nil
			})
		}
	}
	_ = g.Wait()

	for i := range slots {
		available := true
		for _, ok := range results[i] {
			available = available && ok
		}
		slots[i].IsAvailable = available
	}
}

// lookup bounds a single capacity query by CapacityTimeout, answering with the
// configured fallback when the provider fails or does not respond in time.
func (c *Catalog) lookup(ctx context.Context, chefID, date, bandID string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CapacityTimeout)
	defer cancel()

	type result struct {
		ok  bool
		err error
	}
	ch := make(chan result, 1)
	go func() {
		ok, err := c.capacity.HasCapacity(ctx, chefID, date, bandID)
		ch <- result{ok, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			c.log.Warn("capacity lookup failed, using fallback",
				zap.String("chef_id", chefID), zap.String("date", date), zap.String("band", bandID),
				zap.Bool("fallback", c.cfg.FallbackAvailable), zap.Error(r.err))
			return c.cfg.FallbackAvailable
		}
		return r.ok
	case <-ctx.Done():
		c.log.Warn("capacity lookup timed out, using fallback",
			zap.String("chef_id", chefID), zap.String("date", date), zap.String("band", bandID),
			zap.Bool("fallback", c.cfg.FallbackAvailable))
		return c.cfg.FallbackAvailable
	}
}

// Resolve re-generates the slot behind slotID so stale or past selections are caught.
func (c *Catalog) Resolve(ctx context.Context, id string, chefIDs []string) (d.DeliverySlot, error) {
	dateKey, _, ok := strings.Cut(id, "/")
	if !ok {
		return d.DeliverySlot{}, ErrSlotNotFound
	}
	date, err := c.ParseDate(dateKey)
	if err != nil {
		return d.DeliverySlot{}, ErrSlotNotFound
	}
	if !c.WithinHorizon(date) {
		return d.DeliverySlot{}, ErrOutsideHorizon
	}
	for _, s := range c.GenerateSlots(ctx, date, chefIDs) {
		if s.ID != id {
			continue
		}
		if !s.IsAvailable {
			return s, ErrSlotUnavailable
		}
		return s, nil
	}
	return d.DeliverySlot{}, ErrSlotNotFound
}

// BandID extracts the band from a slot id.
func BandID(slotID string) string {
	return bandOf(slotID)
}

func slotID(date, band string) string {
	return date + "/" + band
}

func bandOf(id string) string {
	_, band, _ := strings.Cut(id, "/")
	return band
}
