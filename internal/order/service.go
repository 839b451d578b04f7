package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/meal-checkout/internal/breaker"
	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/fjod/meal-checkout/internal/order/repository"
	"github.com/fjod/meal-checkout/internal/payment"
	"github.com/fjod/meal-checkout/internal/pricing"
	"github.com/fjod/meal-checkout/internal/promo"
	"github.com/fjod/meal-checkout/internal/slots"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type Store interface {
	CreateOrder(ctx context.Context, order *d.Order, event *repository.OutboxEvent) error
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*d.Order, error)
	GetByNumber(ctx context.Context, userID, number string) (*d.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*d.Order, error)
	UpdateStatus(ctx context.Context, id string, to d.OrderStatus, event *repository.OutboxEvent) error
}

type OfferCatalog interface {
	FindByCode(ctx context.Context, code string) (*d.PromoOffer, error)
}

type SlotResolver interface {
	Resolve(ctx context.Context, slotID string, chefIDs []string) (d.DeliverySlot, error)
}

type Capacity interface {
	Hold(chefIDs []string, date, bandID string) error
	Release(chefIDs []string, date, bandID string)
}

type Charger interface {
	Charge(ctx context.Context, req payment.ChargeRequest) (payment.Charge, error)
	Refund(ctx context.Context, transactionID string) error
}

// MealPrices reports a meal's current unit price. Without it the service
// takes unit prices from the request, which the cart service wrote when the
// item was added.
type MealPrices interface {
	UnitPrice(ctx context.Context, mealID string) (d.Money, error)
}

type ServiceConfig struct {
	Store    Store
	Pricing  *pricing.Engine
	Offers   OfferCatalog
	Slots    SlotResolver
	Capacity Capacity
	Payments Charger
	Prices   MealPrices
	Now      func() time.Time
}

// Service is the order submission service. CreateOrder is idempotent per key.
type Service struct {
	cfg     ServiceConfig
	charges *gobreaker.CircuitBreaker[payment.Charge]
	log     *zap.Logger
}

func NewService(cfg ServiceConfig, log *zap.Logger) *Service {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		cfg: cfg,
		charges: breaker.New[payment.Charge](breaker.Config{
			Name:        "payment-charge",
			OpenTimeout: 15 * time.Second,
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, payment.ErrDeclined) || errors.Is(err, payment.ErrUnknownToken)
			},
		}, log),
		log: log,
	}
}

// CreateOrder verifies the request against current prices and slot
// availability, charges the payment method and persists the order together
// with its order.placed event. Keys are scoped to the user. A key that already
// produced an order for the same request returns that order unchanged; for a
// different request it fails with ErrIdempotencyKeyReused.
func (s *Service) CreateOrder(ctx context.Context, req d.OrderRequest, key string) (d.OrderConfirmation, error) {
	if key == "" {
		return d.OrderConfirmation{}, &d.ValidationError{Field: "idempotency_key", Message: "idempotency key is required"}
	}
	hash := req.Fingerprint()
	existing, err := s.cfg.Store.GetByIdempotencyKey(ctx, req.UserID, key)
	if err == nil {
		return s.replay(existing, hash, key)
	}
	if !errors.Is(err, repository.ErrOrderNotFound) {
		return d.OrderConfirmation{}, fmt.Errorf("lookup idempotency key: %w", err)
	}

	if len(req.Items) == 0 {
		return d.OrderConfirmation{}, ErrEmptyOrder
	}
	if err := req.Payment.Validate(); err != nil {
		return d.OrderConfirmation{}, err
	}
	if err := s.verifyPrices(ctx, req.Items); err != nil {
		return d.OrderConfirmation{}, err
	}

	chefIDs := d.ChefIDs(req.Items)
	slot, err := s.cfg.Slots.Resolve(ctx, req.SlotID, chefIDs)
	if err != nil {
		return d.OrderConfirmation{}, fmt.Errorf("%w: %v", ErrSlotUnavailable, err)
	}

	offer, err := s.offer(ctx, req.PromoCode)
	if err != nil {
		return d.OrderConfirmation{}, err
	}
	totals := s.cfg.Pricing.ComputeTotals(req.Items, offer, &slot)
	if !totals.Equal(req.Totals) {
		s.log.Warn("order totals mismatch",
			zap.String("user_id", req.UserID),
			zap.String("submitted_total", req.Totals.Total.StringFixed(2)),
			zap.String("computed_total", totals.Total.StringFixed(2)))
		return d.OrderConfirmation{}, ErrTotalMismatch
	}

	band := slots.BandID(slot.ID)
	if err := s.cfg.Capacity.Hold(chefIDs, slot.Date, band); err != nil {
		return d.OrderConfirmation{}, fmt.Errorf("%w: %v", ErrSlotUnavailable, err)
	}
	release := func() { s.cfg.Capacity.Release(chefIDs, slot.Date, band) }

	var charge payment.Charge
	if req.Payment.RequiresCharge() && totals.Total.IsPositive() {
		charge, err = s.charges.Execute(func() (payment.Charge, error) {
			return s.cfg.Payments.Charge(ctx, payment.ChargeRequest{
				IdempotencyKey: key,
				UserID:         req.UserID,
				Amount:         totals.Total,
				Currency:       req.Currency,
				Method:         req.Payment,
			})
		})
		if err != nil {
			release()
			if errors.Is(err, payment.ErrDeclined) {
				return d.OrderConfirmation{}, fmt.Errorf("%w: %v", ErrPaymentDeclined, err)
			}
			return d.OrderConfirmation{}, fmt.Errorf("charge payment: %w", err)
		}
	}

	now := s.cfg.Now()
	o := &d.Order{
		ID:                uuid.NewString(),
		Number:            orderNumber(now),
		IdempotencyKey:    key,
		RequestHash:       hash,
		UserID:            req.UserID,
		AddressID:         req.AddressID,
		SlotID:            slot.ID,
		ContactPhone:      req.ContactPhone,
		PaymentMethod:     req.Payment.MethodKind,
		TransactionID:     charge.TransactionID,
		Items:             d.CloneItems(req.Items),
		Chefs:             d.ChefNames(req.Items),
		Totals:            totals,
		Currency:          req.Currency,
		Status:            d.OrderPlaced,
		EstimatedDelivery: slot.EstimatedDeliveryTime,
		CreatedAt:         now,
	}
	if offer != nil && totals.PromoActive {
		o.PromoCode = offer.Code
	}

	event, err := newEvent(d.EventOrderPlaced, o, now)
	if err != nil {
		release()
		s.refund(ctx, charge)
		return d.OrderConfirmation{}, err
	}

	if err := s.cfg.Store.CreateOrder(ctx, o, event); err != nil {
		release()
		if errors.Is(err, repository.ErrDuplicateOrder) {
			// a concurrent submission with the same key won; the charge is shared by key
			winner, getErr := s.cfg.Store.GetByIdempotencyKey(ctx, req.UserID, key)
			if getErr == nil {
				return s.replay(winner, hash, key)
			}
			return d.OrderConfirmation{}, fmt.Errorf("load concurrent order: %w", getErr)
		}
		s.refund(ctx, charge)
		return d.OrderConfirmation{}, fmt.Errorf("persist order: %w", err)
	}

	s.log.Info("order created",
		zap.String("order_number", o.Number),
		zap.String("user_id", o.UserID),
		zap.String("idempotency_key", key),
		zap.String("total", totals.Total.StringFixed(2)))
	return o.Confirmation(), nil
}

func (s *Service) replay(existing *d.Order, hash, key string) (d.OrderConfirmation, error) {
	if existing.RequestHash != "" && existing.RequestHash != hash {
		s.log.Warn("idempotency key reused for a different order",
			zap.String("user_id", existing.UserID),
			zap.String("idempotency_key", key),
			zap.String("order_number", existing.Number))
		return d.OrderConfirmation{}, ErrIdempotencyKeyReused
	}
	s.log.Info("returning existing order for idempotency key",
		zap.String("idempotency_key", key), zap.String("order_number", existing.Number))
	return existing.Confirmation(), nil
}

// verifyPrices checks submitted unit prices against the meal catalog.
func (s *Service) verifyPrices(ctx context.Context, items []d.CartLineItem) error {
	if s.cfg.Prices == nil {
		return nil
	}
	for _, item := range items {
		price, err := s.cfg.Prices.UnitPrice(ctx, item.MealID)
		if err != nil {
			return fmt.Errorf("lookup price of meal %s: %w", item.MealID, err)
		}
		if !price.Equal(item.UnitPrice) {
			s.log.Warn("unit price mismatch",
				zap.String("meal_id", item.MealID),
				zap.String("submitted", item.UnitPrice.StringFixed(2)),
				zap.String("current", price.StringFixed(2)))
			return ErrTotalMismatch
		}
	}
	return nil
}

func (s *Service) offer(ctx context.Context, code string) (*d.PromoOffer, error) {
	if strings.TrimSpace(code) == "" {
		return nil, nil
	}
	offer, err := s.cfg.Offers.FindByCode(ctx, code)
	if errors.Is(err, promo.ErrOfferNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup promo %s: %w", code, err)
	}
	return offer, nil
}

func (s *Service) refund(ctx context.Context, charge payment.Charge) {
	if charge.TransactionID == "" {
		return
	}
	if err := s.cfg.Payments.Refund(context.WithoutCancel(ctx), charge.TransactionID); err != nil {
		s.log.Error("failed to refund charge", zap.String("transaction_id", charge.TransactionID), zap.Error(err))
	}
}

func (s *Service) ListOrders(ctx context.Context, userID string) ([]*d.Order, error) {
	return s.cfg.Store.ListByUser(ctx, userID)
}

func (s *Service) GetOrder(ctx context.Context, userID, number string) (*d.Order, error) {
	return s.cfg.Store.GetByNumber(ctx, userID, number)
}

// CancelOrder cancels a placed or confirmed order, refunds its charge and
// returns the held chef capacity.
func (s *Service) CancelOrder(ctx context.Context, userID, number string) (*d.Order, error) {
	o, err := s.cfg.Store.GetByNumber(ctx, userID, number)
	if err != nil {
		return nil, err
	}
	if !d.CanTransition(o.Status, d.OrderCancelled) {
		return nil, ErrCannotCancel
	}
	now := s.cfg.Now()
	event, err := newEvent(d.EventOrderCancelled, o, now)
	if err != nil {
		return nil, err
	}
	if err := s.cfg.Store.UpdateStatus(ctx, o.ID, d.OrderCancelled, event); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			return nil, ErrCannotCancel
		}
		return nil, err
	}
	o.Status = d.OrderCancelled
	o.UpdatedAt = now

	dateKey, _, _ := strings.Cut(o.SlotID, "/")
	s.cfg.Capacity.Release(d.ChefIDs(o.Items), dateKey, slots.BandID(o.SlotID))
	s.refund(ctx, payment.Charge{TransactionID: o.TransactionID})

	s.log.Info("order cancelled", zap.String("order_number", o.Number), zap.String("user_id", userID))
	return o, nil
}

func newEvent(eventType string, o *d.Order, at time.Time) (*repository.OutboxEvent, error) {
	ev := d.OrderEvent{
		Type:        eventType,
		OrderID:     o.ID,
		OrderNumber: o.Number,
		UserID:      o.UserID,
		Total:       o.Totals.Total,
		OccurredAt:  at,
	}
	if eventType == d.EventOrderPlaced {
		ev.Lines = d.OrderedLines(o.Items)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	return &repository.OutboxEvent{AggregateID: o.UserID, EventType: eventType, Payload: payload}, nil
}

func orderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("MC-%s-%s", now.UTC().Format("20060102"), suffix)
}
