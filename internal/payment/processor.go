package payment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrDeclined        = errors.New("payment declined")
	ErrUnknownToken    = errors.New("unknown card reference")
	ErrNothingToCharge = errors.New("payment method is not charged at checkout")
)

type DeclineReason string

const (
	DeclineUnknown           DeclineReason = "unknown_reason"
	DeclineInsufficientFunds DeclineReason = "insufficient_funds"
	DeclineCardExpired       DeclineReason = "card_expired"
	DeclineSuspectedFraud    DeclineReason = "suspected_fraud"
	DeclineLimitExceeded     DeclineReason = "limit_exceeded"
	DeclineIssuerUnavailable DeclineReason = "issuer_unavailable"
)

// DeclineError is a processor refusal. It matches ErrDeclined.
type DeclineError struct {
	Reason DeclineReason
}

func (e *DeclineError) Error() string        { return fmt.Sprintf("payment declined: %s", e.Reason) }
func (e *DeclineError) Is(target error) bool { return target == ErrDeclined }

// StatusProvider decides the outcome of a charge.
type StatusProvider interface {
	Status() (approved bool, reason DeclineReason)
}

// RandomStatus approves about 95% of charges and spreads the rest over the
// decline reasons.
type RandomStatus struct{}

func (RandomStatus) Status() (bool, DeclineReason) {
	return statusFor(rand.IntN(101))
}

var declineReasons = []DeclineReason{
	DeclineInsufficientFunds,
	DeclineCardExpired,
	DeclineSuspectedFraud,
	DeclineLimitExceeded,
	DeclineIssuerUnavailable,
}

func statusFor(n int) (bool, DeclineReason) {
	if n < 95 {
		return true, ""
	}
	idx := n - 95
	if idx == 0 || idx > len(declineReasons) {
		return false, DeclineUnknown
	}
	return false, declineReasons[idx-1]
}

// FixedStatus always returns the same outcome.
type FixedStatus struct {
	Approved bool
	Reason   DeclineReason
}

func (f FixedStatus) Status() (bool, DeclineReason) { return f.Approved, f.Reason }

type ChargeRequest struct {
	IdempotencyKey string
	UserID         string
	Amount         d.Money
	Currency       string
	Method         d.PaymentSelection
}

type Charge struct {
	TransactionID string    `json:"transaction_id"`
	Amount        d.Money   `json:"amount"`
	Currency      string    `json:"currency"`
	ChargedAt     time.Time `json:"charged_at"`
}

const (
	// ChargeRetention is how long an approved charge answers retries of its key.
	ChargeRetention = 24 * time.Hour
	// CleanupInterval is how often expired charges and tokens are swept.
	CleanupInterval = 10 * time.Minute
)

type TokenLookup interface {
	Lookup(userID, reference string) (Token, bool)
}

// Processor charges card and wallet payments. Approved charges are remembered
// per user and idempotency key for ChargeRetention; declines are not, so a
// retry is charged again.
type Processor struct {
	tokens TokenLookup
	status StatusProvider
	log    *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	approved map[string]Charge
	refunded map[string]time.Time
}

func NewProcessor(tokens TokenLookup, status StatusProvider, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{
		tokens:   tokens,
		status:   status,
		log:      log,
		now:      time.Now,
		approved: make(map[string]Charge),
		refunded: make(map[string]time.Time),
	}
}

func (p *Processor) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if err := ctx.Err(); err != nil {
		return Charge{}, err
	}
	if !req.Method.RequiresCharge() {
		return Charge{}, ErrNothingToCharge
	}
	if req.Method.MethodKind == d.PaymentCard {
		if _, ok := p.tokens.Lookup(req.UserID, req.Method.CardReference); !ok {
			return Charge{}, ErrUnknownToken
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	key := chargeKey(req)
	if c, ok := p.approved[key]; ok {
		return c, nil
	}

	approved, reason := p.status.Status()
	if !approved {
		p.log.Info("charge declined", zap.String("user_id", req.UserID),
			zap.String("idempotency_key", req.IdempotencyKey), zap.String("reason", string(reason)))
		return Charge{}, &DeclineError{Reason: reason}
	}

	c := Charge{
		TransactionID: "txn_" + uuid.NewString(),
		Amount:        req.Amount,
		Currency:      req.Currency,
		ChargedAt:     p.now(),
	}
	p.approved[key] = c
	p.log.Info("charge approved", zap.String("user_id", req.UserID),
		zap.String("transaction_id", c.TransactionID), zap.String("amount", c.Amount.StringFixed(2)))
	return c, nil
}

// Refund reverses an approved charge. Refunding twice is a no-op.
func (p *Processor) Refund(_ context.Context, transactionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, c := range p.approved {
		if c.TransactionID == transactionID {
			delete(p.approved, key)
			p.refunded[transactionID] = p.now()
			p.log.Info("charge refunded", zap.String("transaction_id", transactionID))
			return nil
		}
	}
	if _, ok := p.refunded[transactionID]; ok {
		return nil
	}
	return fmt.Errorf("refund %s: transaction not found", transactionID)
}

// Run sweeps expired charges and refunds until ctx is done.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (p *Processor) sweep() {
	cutoff := p.now().Add(-ChargeRetention)
	p.mu.Lock()
	defer p.mu.Unlock()
	removed := 0
	for key, c := range p.approved {
		if c.ChargedAt.Before(cutoff) {
			delete(p.approved, key)
			removed++
		}
	}
	for txn, at := range p.refunded {
		if at.Before(cutoff) {
			delete(p.refunded, txn)
			removed++
		}
	}
	if removed > 0 {
		p.log.Debug("swept payment records", zap.Int("removed", removed))
	}
}

func chargeKey(req ChargeRequest) string {
	return req.UserID + "\x1f" + req.IdempotencyKey
}
