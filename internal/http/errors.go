package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/meal-checkout/internal/address"
	cartrepo "github.com/fjod/meal-checkout/internal/cart/repository"
	"github.com/fjod/meal-checkout/internal/checkout"
	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/fjod/meal-checkout/internal/order"
	"github.com/fjod/meal-checkout/internal/order/repository"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeError is the single place errors become status codes.
func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var (
		validation *d.ValidationError
		rejected   *d.PromoRejectedError
		syncErr    *d.CartSyncError
		tokenErr   *d.PaymentTokenizationError
		placeErr   *d.OrderPlacementError
	)

	switch {
	case errors.As(err, &validation):
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: validation.Message, Code: "validation_failed", Field: validation.Field,
		})
	case errors.As(err, &rejected):
		code := "promo_not_found"
		if rejected.Reason == d.PromoBelowMinimum {
			code = "promo_below_minimum"
		}
		respondError(w, http.StatusUnprocessableEntity, code, rejected.Error())
	case errors.As(err, &tokenErr):
		respondJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "card could not be used", Code: "payment_tokenization_failed", Details: tokenErr.Reason,
		})
	case errors.Is(err, order.ErrNotReady):
		respondError(w, http.StatusConflict, "not_ready", err.Error())
	case errors.Is(err, order.ErrPlacementInFlight):
		respondError(w, http.StatusConflict, "placement_in_flight", err.Error())
	case errors.As(err, &placeErr):
		respondJSON(w, placementStatus(placeErr.Reason), ErrorResponse{
			Error: order.FailureMessage(placeErr.Reason), Code: placeErr.Reason,
		})
	case errors.Is(err, cartrepo.ErrItemNotFound), errors.Is(err, cartrepo.ErrCartNotFound):
		respondError(w, http.StatusNotFound, "item_not_found", "item not found in cart")
	case errors.As(err, &syncErr):
		log.Warn("cart sync failed", zap.String("op", syncErr.Op), zap.Error(syncErr.Err),
			zap.String("request_id", getRequestID(r.Context())))
		respondError(w, http.StatusBadGateway, "cart_sync_failed", "cart could not be updated, showing the last saved cart")
	case errors.Is(err, checkout.ErrNoSession):
		respondError(w, http.StatusNotFound, "no_session", err.Error())
	case errors.Is(err, checkout.ErrStepLocked):
		respondError(w, http.StatusConflict, "step_locked", err.Error())
	case errors.Is(err, order.ErrCannotCancel), errors.Is(err, repository.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "cannot_cancel", order.ErrCannotCancel.Error())
	case errors.Is(err, repository.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, address.ErrAddressNotFound):
		respondError(w, http.StatusNotFound, "address_not_found", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		log.Error("request failed", zap.Error(err),
			zap.String("path", r.URL.Path), zap.String("request_id", getRequestID(r.Context())))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func placementStatus(reason string) int {
	switch reason {
	case "service_unavailable":
		return http.StatusServiceUnavailable
	case "timeout":
		return http.StatusGatewayTimeout
	case "submission_failed":
		return http.StatusBadGateway
	default:
		return http.StatusUnprocessableEntity
	}
}
