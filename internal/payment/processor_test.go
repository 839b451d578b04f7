package payment

import (
	"context"
	"testing"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		n        int
		approved bool
		reason   DeclineReason
	}{
		{10, true, ""},
		{94, true, ""},
		{95, false, DeclineUnknown},
		{96, false, DeclineInsufficientFunds},
		{100, false, DeclineIssuerUnavailable},
		{101, false, DeclineUnknown},
	}
	for _, tt := range tests {
		approved, reason := statusFor(tt.n)
		assert.Equal(t, tt.approved, approved, tt.n)
		assert.Equal(t, tt.reason, reason, tt.n)
	}
}

func cardCharge(t *testing.T, tz *Tokenizer, key string) ChargeRequest {
	t.Helper()
	tok, err := tz.Tokenize(context.Background(), "user-1", validCard())
	require.NoError(t, err)
	return ChargeRequest{
		IdempotencyKey: key,
		UserID:         "user-1",
		Amount:         d.MustMoney("21.74"),
		Currency:       "USD",
		Method:         d.PaymentSelection{MethodKind: d.PaymentCard, CardReference: tok.Reference},
	}
}

func TestCharge_ApprovedIsIdempotentPerKey(t *testing.T) {
	tz := newTestTokenizer()
	p := NewProcessor(tz, FixedStatus{Approved: true}, nil)
	req := cardCharge(t, tz, "key-1")

	first, err := p.Charge(context.Background(), req)
	require.NoError(t, err)
	second, err := p.Charge(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.TransactionID, second.TransactionID)
	assert.True(t, first.Amount.Equal(d.MustMoney("21.74")))
}

func TestCharge_DeclineIsNotRemembered(t *testing.T) {
	tz := newTestTokenizer()
	status := &switchStatus{approved: false}
	p := NewProcessor(tz, status, nil)
	req := cardCharge(t, tz, "key-1")

	_, err := p.Charge(context.Background(), req)
	assert.ErrorIs(t, err, ErrDeclined)
	var decline *DeclineError
	require.ErrorAs(t, err, &decline)
	assert.Equal(t, DeclineInsufficientFunds, decline.Reason)

	status.approved = true
	_, err = p.Charge(context.Background(), req)
	assert.NoError(t, err)
}

func TestCharge_UnknownTokenAndCash(t *testing.T) {
	tz := newTestTokenizer()
	p := NewProcessor(tz, FixedStatus{Approved: true}, nil)

	_, err := p.Charge(context.Background(), ChargeRequest{
		IdempotencyKey: "k", UserID: "user-1",
		Method: d.PaymentSelection{MethodKind: d.PaymentCard, CardReference: "tok_forged"},
	})
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = p.Charge(context.Background(), ChargeRequest{
		IdempotencyKey: "k", UserID: "user-1",
		Method: d.PaymentSelection{MethodKind: d.PaymentCashOnDelivery},
	})
	assert.ErrorIs(t, err, ErrNothingToCharge)

	_, err = p.Charge(context.Background(), ChargeRequest{
		IdempotencyKey: "w", UserID: "user-1", Amount: d.MustMoney("5"),
		Method: d.PaymentSelection{MethodKind: d.PaymentWallet},
	})
	assert.NoError(t, err)
}

func TestRefund(t *testing.T) {
	tz := newTestTokenizer()
	p := NewProcessor(tz, FixedStatus{Approved: true}, nil)
	req := cardCharge(t, tz, "key-1")
	c, err := p.Charge(context.Background(), req)
	require.NoError(t, err)

	require.NoError(t, p.Refund(context.Background(), c.TransactionID))
	require.NoError(t, p.Refund(context.Background(), c.TransactionID))
	assert.Error(t, p.Refund(context.Background(), "txn_missing"))

	again, err := p.Charge(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, c.TransactionID, again.TransactionID)
}

func TestCharge_KeysAreScopedPerUser(t *testing.T) {
	p := NewProcessor(newTestTokenizer(), FixedStatus{Approved: true}, nil)
	wallet := func(user string) ChargeRequest {
		return ChargeRequest{
			IdempotencyKey: "shared", UserID: user, Amount: d.MustMoney("9"),
			Method: d.PaymentSelection{MethodKind: d.PaymentWallet},
		}
	}

	first, err := p.Charge(context.Background(), wallet("user-1"))
	require.NoError(t, err)
	second, err := p.Charge(context.Background(), wallet("user-2"))
	require.NoError(t, err)

	assert.NotEqual(t, first.TransactionID, second.TransactionID)
}

func TestProcessor_SweepDropsExpiredCharges(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	p := NewProcessor(newTestTokenizer(), FixedStatus{Approved: true}, nil)
	p.now = func() time.Time { return now }
	req := ChargeRequest{
		IdempotencyKey: "k", UserID: "user-1", Amount: d.MustMoney("5"),
		Method: d.PaymentSelection{MethodKind: d.PaymentWallet},
	}
	old, err := p.Charge(context.Background(), req)
	require.NoError(t, err)
	refunded, err := p.Charge(context.Background(), ChargeRequest{
		IdempotencyKey: "r", UserID: "user-1", Amount: d.MustMoney("5"),
		Method: d.PaymentSelection{MethodKind: d.PaymentWallet},
	})
	require.NoError(t, err)
	require.NoError(t, p.Refund(context.Background(), refunded.TransactionID))

	now = now.Add(ChargeRetention / 2)
	p.sweep()
	kept, err := p.Charge(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, old.TransactionID, kept.TransactionID)

	now = now.Add(ChargeRetention)
	p.sweep()
	assert.Empty(t, p.approved)
	assert.Empty(t, p.refunded)

	fresh, err := p.Charge(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, old.TransactionID, fresh.TransactionID)
}

func TestProcessor_RunStopsWithContext(t *testing.T) {
	p := NewProcessor(newTestTokenizer(), FixedStatus{Approved: true}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type switchStatus struct{ approved bool }

func (s *switchStatus) Status() (bool, DeclineReason) {
	if s.approved {
		return true, ""
	}
	return false, DeclineInsufficientFunds
}
