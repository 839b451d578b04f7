// Package payment turns card input into opaque tokens and charges payment
// methods. Card numbers and CVCs never leave this package.
package payment

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CardInput is raw card entry. It is never logged or stored.
type CardInput struct {
	Number     string `json:"number"`
	ExpMonth   int    `json:"exp_month"`
	ExpYear    int    `json:"exp_year"`
	CVC        string `json:"cvc"`
	HolderName string `json:"holder_name"`
}

// Token is what the rest of the system sees of a card.
type Token struct {
	Reference string `json:"card_reference"`
	Brand     string `json:"brand"`
	Last4     string `json:"last4"`
	ExpMonth  int    `json:"exp_month"`
	ExpYear   int    `json:"exp_year"`
	UserID    string `json:"-"`

	issuedAt time.Time
}

// TokenTTL bounds how long a card reference stays usable.
const TokenTTL = 2 * time.Hour

type Tokenizer struct {
	mu     sync.RWMutex
	tokens map[string]Token
	now    func() time.Time
	log    *zap.Logger
}

func NewTokenizer(log *zap.Logger) *Tokenizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tokenizer{tokens: make(map[string]Token), now: time.Now, log: log}
}

// Tokenize validates card input and issues a tok_ reference bound to userID.
func (t *Tokenizer) Tokenize(ctx context.Context, userID string, in CardInput) (Token, error) {
	if err := ctx.Err(); err != nil {
		return Token{}, &d.PaymentTokenizationError{Reason: "request cancelled", Err: err}
	}
	number := strings.NewReplacer(" ", "", "-", "").Replace(in.Number)
	if len(number) < 12 || len(number) > 19 || !allDigits(number) || !luhnValid(number) {
		return Token{}, &d.PaymentTokenizationError{Reason: "invalid card number"}
	}
	if in.ExpMonth < 1 || in.ExpMonth > 12 {
		return Token{}, &d.PaymentTokenizationError{Reason: "invalid expiry month"}
	}
	if expired(in.ExpMonth, in.ExpYear, t.now()) {
		return Token{}, &d.PaymentTokenizationError{Reason: "card has expired"}
	}
	if len(in.CVC) < 3 || len(in.CVC) > 4 || !allDigits(in.CVC) {
		return Token{}, &d.PaymentTokenizationError{Reason: "invalid security code"}
	}

	tok := Token{
		Reference: "tok_" + uuid.NewString(),
		Brand:     brandOf(number),
		Last4:     number[len(number)-4:],
		ExpMonth:  in.ExpMonth,
		ExpYear:   in.ExpYear,
		UserID:    userID,
		issuedAt:  t.now(),
	}
	t.mu.Lock()
	t.tokens[tok.Reference] = tok
	t.mu.Unlock()

	t.log.Info("card tokenized", zap.String("user_id", userID), zap.String("brand", tok.Brand), zap.String("last4", tok.Last4))
	return tok, nil
}

// Lookup returns the token issued to userID under reference.
func (t *Tokenizer) Lookup(userID, reference string) (Token, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tok, ok := t.tokens[reference]
	if !ok || tok.UserID != userID || t.now().Sub(tok.issuedAt) >= TokenTTL {
		return Token{}, false
	}
	return tok, true
}

// Run drops expired tokens every CleanupInterval until ctx is done.
func (t *Tokenizer) Run(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tokenizer) sweep() {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	for ref, tok := range t.tokens {
		if now.Sub(tok.issuedAt) >= TokenTTL {
			delete(t.tokens, ref)
		}
	}
}

func expired(month, year int, now time.Time) bool {
	if year < 100 {
		year += 2000
	}
	// valid through the last day of the expiry month
	firstAfter := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, time.UTC)
	return !now.Before(firstAfter)
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		n := int(number[i] - '0')
		if double {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		double = !double
	}
	return sum%10 == 0
}

func brandOf(number string) string {
	prefix2, _ := strconv.Atoi(number[:2])
	prefix4, _ := strconv.Atoi(number[:4])
	switch {
	case number[0] == '4':
		return "visa"
	case prefix2 >= 51 && prefix2 <= 55, prefix4 >= 2221 && prefix4 <= 2720:
		return "mastercard"
	case prefix2 == 34 || prefix2 == 37:
		return "amex"
	case prefix4 == 6011 || prefix2 == 65:
		return "discover"
	}
	return "card"
}
