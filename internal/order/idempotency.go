package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	keyIdemOrderPlace = "idem:order:place:%s:%s"

	TTLIdempotency = 24 * time.Hour
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Attempt identifies one placement: the user's idempotency key and the
// fingerprint of the request sent under it.
type Attempt struct {
	UserID      string
	Key         string
	Fingerprint string
}

func (a Attempt) redisKey() string {
	return fmt.Sprintf(keyIdemOrderPlace, a.UserID, a.Key)
}

// placement is the stored value. A record without a confirmation is a pending claim.
type placement struct {
	Fingerprint  string               `json:"fingerprint"`
	Confirmation *d.OrderConfirmation `json:"confirmation,omitempty"`
}

func (a Attempt) pending() (string, error) {
	data, err := json.Marshal(placement{Fingerprint: a.Fingerprint})
	if err != nil {
		return "", fmt.Errorf("encode claim: %w", err)
	}
	return string(data), nil
}

// IdempotencyStore remembers placement attempts per user and key: a pending
// claim while the order is being submitted, the confirmation afterwards.
type IdempotencyStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewIdempotencyStore(client redis.Cmdable, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Claim marks the attempt as in flight. It reports false when the key is
// already claimed or completed.
func (s *IdempotencyStore) Claim(ctx context.Context, a Attempt) (bool, error) {
	val, err := a.pending()
	if err != nil {
		return false, err
	}
	ok, err := s.client.SetNX(ctx, a.redisKey(), val, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotency key: %w", err)
	}
	return ok, nil
}

// Result returns the stored confirmation for the attempt. A pending claim is
// not a result. A key recorded for a different request fails with
// ErrIdempotencyKeyReused.
func (s *IdempotencyStore) Result(ctx context.Context, a Attempt) (d.OrderConfirmation, bool, error) {
	val, err := s.client.Get(ctx, a.redisKey()).Result()
	if errors.Is(err, redis.Nil) {
		return d.OrderConfirmation{}, false, nil
	}
	if err != nil {
		return d.OrderConfirmation{}, false, fmt.Errorf("read idempotency key: %w", err)
	}
	var p placement
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return d.OrderConfirmation{}, false, fmt.Errorf("decode stored placement: %w", err)
	}
	if p.Fingerprint != a.Fingerprint {
		return d.OrderConfirmation{}, false, ErrIdempotencyKeyReused
	}
	if p.Confirmation == nil {
		return d.OrderConfirmation{}, false, nil
	}
	return *p.Confirmation, true, nil
}

func (s *IdempotencyStore) Save(ctx context.Context, a Attempt, conf d.OrderConfirmation) error {
	data, err := json.Marshal(placement{Fingerprint: a.Fingerprint, Confirmation: &conf})
	if err != nil {
		return fmt.Errorf("encode confirmation: %w", err)
	}
	if err := s.client.Set(ctx, a.redisKey(), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store confirmation: %w", err)
	}
	return nil
}

// Release drops the attempt's pending claim so the key can be retried. Stored
// confirmations and other requests' claims are left alone.
func (s *IdempotencyStore) Release(ctx context.Context, a Attempt) error {
	val, err := a.pending()
	if err != nil {
		return err
	}
	err = releaseScript.Run(ctx, s.client, []string{a.redisKey()}, val).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
