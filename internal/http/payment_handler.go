package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/meal-checkout/internal/payment"
	"go.uber.org/zap"
)

type CardTokenizer interface {
	Tokenize(ctx context.Context, userID string, in payment.CardInput) (payment.Token, error)
}

type PaymentHandler struct {
	tokenizer CardTokenizer
	timeout   time.Duration
	log       *zap.Logger
}

func NewPaymentHandler(tokenizer CardTokenizer, timeout time.Duration, log *zap.Logger) *PaymentHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &PaymentHandler{tokenizer: tokenizer, timeout: timeout, log: log}
}

// POST /api/v1/payment/tokens
func (h *PaymentHandler) Tokenize(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var in payment.CardInput
	if !decodeJSON(w, r, &in) {
		return
	}
	tok, err := h.tokenizer.Tokenize(ctx, getUserIDFromContext(r.Context()), in)
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, tok)
}
