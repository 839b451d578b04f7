// Package order places orders from checkout sessions and runs the order
// submission service behind them.
package order

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/meal-checkout/internal/breaker"
	"github.com/fjod/meal-checkout/internal/checkout"
	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/fjod/meal-checkout/internal/notify"
	"github.com/fjod/meal-checkout/internal/pricing"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type Submitter interface {
	CreateOrder(ctx context.Context, req d.OrderRequest, key string) (d.OrderConfirmation, error)
}

type ResultStore interface {
	Claim(ctx context.Context, a Attempt) (bool, error)
	Result(ctx context.Context, a Attempt) (d.OrderConfirmation, bool, error)
	Save(ctx context.Context, a Attempt, conf d.OrderConfirmation) error
	Release(ctx context.Context, a Attempt) error
}

type Recorder interface {
	OrderPlacement(result string)
}

type nopRecorder struct{}

func (nopRecorder) OrderPlacement(string) {}

type PlacerConfig struct {
	Submitter Submitter
	Results   ResultStore
	Pricing   *pricing.Engine
	Notifier  notify.Notifier
	Recorder  Recorder
	Timeout   time.Duration
	Currency  string
}

// Placer turns a checkout session at the payment step into an order. Retries
// of an unchanged session reuse its idempotency key and never create a second
// order.
type Placer struct {
	cfg    PlacerConfig
	orders *gobreaker.CircuitBreaker[d.OrderConfirmation]
	log    *zap.Logger
}

func NewPlacer(cfg PlacerConfig, log *zap.Logger) *Placer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.NewLogNotifier(log)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Placer{
		cfg: cfg,
		orders: breaker.New[d.OrderConfirmation](breaker.Config{
			Name: "order-submission",
			IsSuccessful: func(err error) bool {
				return err == nil || businessError(err) || d.IsValidation(err)
			},
		}, log),
		log: log,
	}
}

// PlaceOrder submits the session once per idempotency key. The key is scoped
// to the user and bound to the request it was first used for; reusing it for
// different contents fails instead of returning the earlier order.
func (p *Placer) PlaceOrder(ctx context.Context, s *checkout.Session) (d.OrderConfirmation, error) {
	snap := s.Snapshot()
	key := snap.IdempotencyKey
	log := p.log.With(zap.String("user_id", snap.UserID), zap.String("idempotency_key", key))

	if snap.CurrentStep == d.StepPlaced {
		if conf, ok := s.Confirmation(); ok {
			return conf, nil
		}
	}
	if snap.CurrentStep != d.StepPayment || !checkout.CanLeave(d.StepPayment, snap, s.Now()) {
		return d.OrderConfirmation{}, ErrNotReady
	}

	req := p.request(snap, s.Now())
	attempt := Attempt{UserID: snap.UserID, Key: key, Fingerprint: req.Fingerprint()}

	conf, found, err := p.cfg.Results.Result(ctx, attempt)
	switch {
	case errors.Is(err, ErrIdempotencyKeyReused):
		return d.OrderConfirmation{}, p.fail(ctx, attempt, err, log)
	case err != nil:
		log.Warn("idempotency store unavailable, relying on order service", zap.Error(err))
	case found:
		log.Info("returning stored order for idempotency key", zap.String("order_number", conf.OrderNumber))
		p.complete(ctx, s, conf, req.Items, log)
		return conf, nil
	}

	claimed, err := p.cfg.Results.Claim(ctx, attempt)
	switch {
	case err != nil:
		log.Warn("could not claim idempotency key, submitting anyway", zap.Error(err))
	case !claimed:
		return d.OrderConfirmation{}, ErrPlacementInFlight
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	conf, err = p.orders.Execute(func() (d.OrderConfirmation, error) {
		return p.cfg.Submitter.CreateOrder(callCtx, req, key)
	})
	if err != nil {
		return d.OrderConfirmation{}, p.fail(ctx, attempt, err, log)
	}

	if err := p.cfg.Results.Save(context.WithoutCancel(ctx), attempt, conf); err != nil {
		log.Warn("failed to store order result", zap.Error(err))
	}
	p.complete(ctx, s, conf, req.Items, log)
	return conf, nil
}

// request assembles the order payload from a session that passed the payment guard.
func (p *Placer) request(snap d.CheckoutSession, now time.Time) d.OrderRequest {
	req := d.OrderRequest{
		UserID:       snap.UserID,
		AddressID:    snap.Address.ID,
		SlotID:       snap.Slot.ID,
		ContactPhone: snap.ContactPhone,
		Payment:      *snap.Payment,
		Items:        snap.CartItems,
		Totals:       p.cfg.Pricing.ComputeTotals(snap.CartItems, snap.Promo, snap.Slot),
		Currency:     p.cfg.Currency,
		SubmittedAt:  now,
	}
	if snap.Promo != nil {
		req.PromoCode = snap.Promo.Code
	}
	return req
}

// complete moves the session to Placed and takes the ordered lines out of the
// cart. The key is frozen by MarkPlaced before the cart changes.
func (p *Placer) complete(ctx context.Context, s *checkout.Session, conf d.OrderConfirmation, items []d.CartLineItem, log *zap.Logger) {
	if !s.MarkPlaced(conf) {
		return
	}
	if err := s.Cart().RemoveOrdered(ctx, d.OrderedLines(items)); err != nil {
		log.Warn("cart clear after placement failed, cart poller will clear it", zap.Error(err))
		s.Cart().Forget()
	}
	p.cfg.Recorder.OrderPlacement("success")
	log.Info("order placed", zap.String("order_number", conf.OrderNumber))
	p.cfg.Notifier.Notify(ctx, notify.Notification{
		UserID:  s.UserID(),
		Kind:    notify.KindSuccess,
		Title:   "Order placed",
		Message: "Order " + conf.OrderNumber + " is confirmed.",
	})
}

func (p *Placer) fail(ctx context.Context, a Attempt, err error, log *zap.Logger) error {
	if relErr := p.cfg.Results.Release(context.WithoutCancel(ctx), a); relErr != nil {
		log.Warn("failed to release idempotency key", zap.Error(relErr))
	}
	reason := failureReason(err)
	p.cfg.Recorder.OrderPlacement(reason)
	log.Warn("order placement failed", zap.String("reason", reason), zap.Error(err))
	p.cfg.Notifier.Notify(ctx, notify.Notification{
		UserID:  a.UserID,
		Kind:    notify.KindError,
		Title:   "Order not placed",
		Message: FailureMessage(reason),
	})
	return &d.OrderPlacementError{Reason: reason, Err: err}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrPaymentDeclined):
		return "payment_declined"
	case errors.Is(err, ErrTotalMismatch):
		return "totals_changed"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrEmptyOrder):
		return "empty_order"
	case errors.Is(err, ErrIdempotencyKeyReused):
		return "idempotency_key_reused"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "service_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "submission_failed"
	}
}

// FailureMessage is the user-facing text for a placement failure reason.
func FailureMessage(reason string) string {
	switch reason {
	case "payment_declined":
		return "Your payment was declined. Try another payment method."
	case "totals_changed":
		return "Prices or offers changed. Review your order and try again."
	case "slot_unavailable":
		return "The delivery slot is no longer available. Pick another slot."
	case "idempotency_key_reused":
		return "This request key was already used for a different order. Retry without it."
	default:
		return "We could not place your order. Please try again."
	}
}
