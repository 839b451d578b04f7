package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/meal-checkout/internal/checkout"
	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/fjod/meal-checkout/internal/payment"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type SessionManager interface {
	Enter(ctx context.Context, userID string) (*checkout.Session, error)
	Get(userID string) (*checkout.Session, error)
	Leave(userID string)
	SelectDelivery(ctx context.Context, s *checkout.Session, addressID, slotID, phone string) error
}

type SlotCatalog interface {
	Dates() []time.Time
	ParseDate(s string) (time.Time, error)
	WithinHorizon(date time.Time) bool
	GenerateSlots(ctx context.Context, date time.Time, chefIDs []string) []d.DeliverySlot
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, s *checkout.Session) (d.OrderConfirmation, error)
}

type TokenLookup interface {
	Lookup(userID, reference string) (payment.Token, bool)
}

type CheckoutHandler struct {
	sessions SessionManager
	slots    SlotCatalog
	placer   OrderPlacer
	tokens   TokenLookup
	timeout  time.Duration
	log      *zap.Logger
}

func NewCheckoutHandler(sessions SessionManager, slots SlotCatalog, placer OrderPlacer, tokens TokenLookup, timeout time.Duration, log *zap.Logger) *CheckoutHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &CheckoutHandler{
		sessions: sessions,
		slots:    slots,
		placer:   placer,
		tokens:   tokens,
		timeout:  timeout,
		log:      log,
	}
}

type AddItemRequestDTO struct {
	MealID              string  `json:"meal_id"`
	ChefID              string  `json:"chef_id"`
	ChefName            string  `json:"chef_name"`
	Name                string  `json:"name"`
	UnitPrice           d.Money `json:"unit_price"`
	Quantity            int     `json:"quantity"`
	SpecialInstructions string  `json:"special_instructions"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type UpdateInstructionsRequestDTO struct {
	SpecialInstructions string `json:"special_instructions"`
}

type ApplyPromoRequestDTO struct {
	Code string `json:"code"`
}

type SelectDeliveryRequestDTO struct {
	AddressID    string `json:"address_id"`
	SlotID       string `json:"slot_id"`
	ContactPhone string `json:"contact_phone"`
}

type SelectPaymentRequestDTO struct {
	Method        string `json:"method"`
	CardReference string `json:"card_reference"`
}

type StepResponseDTO struct {
	Step  d.Step `json:"step"`
	Moved bool   `json:"moved"`
}

type DateDTO struct {
	Date  string `json:"date"`
	Label string `json:"label"`
}

type PromoResponseDTO struct {
	Promo d.PromoOffer  `json:"promo"`
	View  checkout.View `json:"checkout"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Enter(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, err := h.sessions.Enter(ctx, getUserIDFromContext(r.Context()))
	if err != nil && s == nil {
		writeError(w, r, h.log, err)
		return
	}
	h.respondView(ctx, w, r, s, http.StatusOK)
}

// GET /api/v1/checkout
func (h *CheckoutHandler) View(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	h.respondView(ctx, w, r, s, http.StatusOK)
}

// DELETE /api/v1/checkout
// Abandons the session. The remote cart is kept.
func (h *CheckoutHandler) Leave(w http.ResponseWriter, r *http.Request) {
	h.sessions.Leave(getUserIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/checkout/items
func (h *CheckoutHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	h.mutate(w, r, http.StatusCreated, func(ctx context.Context, s *checkout.Session) error {
		return s.Cart().Add(ctx, d.CartLineItem{
			MealID:              req.MealID,
			ChefID:              req.ChefID,
			ChefName:            req.ChefName,
			Name:                req.Name,
			UnitPrice:           req.UnitPrice,
			Quantity:            req.Quantity,
			SpecialInstructions: req.SpecialInstructions,
		})
	})
}

// PATCH /api/v1/checkout/items/{item_id}
func (h *CheckoutHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	itemID := chi.URLParam(r, "item_id")
	h.mutate(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) error {
		return s.Cart().UpdateQuantity(ctx, itemID, req.Quantity)
	})
}

// PUT /api/v1/checkout/items/{item_id}/instructions
func (h *CheckoutHandler) UpdateInstructions(w http.ResponseWriter, r *http.Request) {
	var req UpdateInstructionsRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	itemID := chi.URLParam(r, "item_id")
	h.mutate(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) error {
		return s.Cart().UpdateInstructions(ctx, itemID, req.SpecialInstructions)
	})
}

// DELETE /api/v1/checkout/items/{item_id}
func (h *CheckoutHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	itemID := chi.URLParam(r, "item_id")
	h.mutate(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) error {
		return s.Cart().Remove(ctx, itemID)
	})
}

// DELETE /api/v1/checkout/items
func (h *CheckoutHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) error {
		return s.Cart().Clear(ctx)
	})
}

// POST /api/v1/checkout/promo
func (h *CheckoutHandler) ApplyPromo(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req ApplyPromoRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	offer, err := s.Cart().ApplyPromo(ctx, req.Code)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	view, err := s.View(ctx)
	if err != nil && !isSyncError(err) {
		writeError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, PromoResponseDTO{Promo: offer, View: view})
}

// DELETE /api/v1/checkout/promo
func (h *CheckoutHandler) RemovePromo(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) error {
		return s.Cart().RemovePromo(ctx)
	})
}

// GET /api/v1/checkout/dates
func (h *CheckoutHandler) Dates(w http.ResponseWriter, r *http.Request) {
	dates := h.slots.Dates()
	out := make([]DateDTO, len(dates))
	for i, day := range dates {
		out[i] = DateDTO{Date: day.Format(d.DateLayout), Label: dateLabel(i, day)}
	}
	respondJSON(w, http.StatusOK, out)
}

// GET /api/v1/checkout/slots?date=YYYY-MM-DD
func (h *CheckoutHandler) Slots(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	date, err := h.slots.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if !h.slots.WithinHorizon(date) {
		writeError(w, r, h.log, &d.ValidationError{Field: "date", Message: "date is outside the booking horizon"})
		return
	}
	cart, _ := s.Cart().Snapshot()
	slots := h.slots.GenerateSlots(ctx, date, cart.ChefIDs())
	if slots == nil {
		slots = []d.DeliverySlot{}
	}
	respondJSON(w, http.StatusOK, slots)
}

// PUT /api/v1/checkout/delivery
func (h *CheckoutHandler) SelectDelivery(w http.ResponseWriter, r *http.Request) {
	var req SelectDeliveryRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	h.mutate(w, r, http.StatusOK, func(ctx context.Context, s *checkout.Session) error {
		return h.sessions.SelectDelivery(ctx, s, req.AddressID, req.SlotID, req.ContactPhone)
	})
}

// PUT /api/v1/checkout/payment
func (h *CheckoutHandler) SelectPayment(w http.ResponseWriter, r *http.Request) {
	var req SelectPaymentRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	h.mutate(w, r, http.StatusOK, func(_ context.Context, s *checkout.Session) error {
		kind, err := d.ParsePaymentMethodKind(req.Method)
		if err != nil {
			return err
		}
		sel := d.PaymentSelection{MethodKind: kind, CardReference: req.CardReference}
		if kind == d.PaymentCard && req.CardReference != "" {
			if _, ok := h.tokens.Lookup(s.UserID(), req.CardReference); !ok {
				return &d.ValidationError{Field: "card_reference", Message: "unknown card reference"}
			}
		}
		if kind != d.PaymentCard {
			sel.CardReference = ""
		}
		return s.SetPayment(sel)
	})
}

// POST /api/v1/checkout/step/advance
func (h *CheckoutHandler) Advance(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	step, moved := s.Advance()
	respondJSON(w, http.StatusOK, StepResponseDTO{Step: step, Moved: moved})
}

// POST /api/v1/checkout/step/back
func (h *CheckoutHandler) Back(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	step, moved := s.Back()
	respondJSON(w, http.StatusOK, StepResponseDTO{Step: step, Moved: moved})
}

// POST /api/v1/checkout/step/{step}
func (h *CheckoutHandler) JumpTo(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	target, err := d.ParseStep(chi.URLParam(r, "step"))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	before := s.Step()
	step, err := s.JumpTo(target)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusOK, StepResponseDTO{Step: step, Moved: step != before})
}

// POST /api/v1/checkout/orders
func (h *CheckoutHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	s.PinIdempotencyKey(r.Header.Get("Idempotency-Key"))

	conf, err := h.placer.PlaceOrder(ctx, s)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, conf)
}

func (h *CheckoutHandler) session(w http.ResponseWriter, r *http.Request) (*checkout.Session, bool) {
	s, err := h.sessions.Get(getUserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return nil, false
	}
	return s, true
}

// mutate runs fn against the caller's session and answers with the fresh view.
func (h *CheckoutHandler) mutate(w http.ResponseWriter, r *http.Request, status int, fn func(context.Context, *checkout.Session) error) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := fn(ctx, s); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	h.respondView(ctx, w, r, s, status)
}

// respondView answers with the session view. A failed cart refresh still
// renders the last authoritative cart, flagged stale.
func (h *CheckoutHandler) respondView(ctx context.Context, w http.ResponseWriter, r *http.Request, s *checkout.Session, status int) {
	view, err := s.View(ctx)
	if err != nil && !isSyncError(err) {
		writeError(w, r, h.log, err)
		return
	}
	if err != nil {
		h.log.Warn("serving stale checkout view", zap.String("user_id", s.UserID()), zap.Error(err))
	}
	respondJSON(w, status, view)
}

func isSyncError(err error) bool {
	var syncErr *d.CartSyncError
	return errors.As(err, &syncErr)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

func dateLabel(offset int, day time.Time) string {
	switch offset {
	case 0:
		return "Today"
	case 1:
		return "Tomorrow"
	default:
		return day.Format("Mon, Jan 2")
	}
}
