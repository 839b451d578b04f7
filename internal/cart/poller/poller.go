// Package poller removes ordered items from carts once their order has been placed.
package poller

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/fjod/meal-checkout/internal/cart/cache"
	"github.com/fjod/meal-checkout/internal/cart/repository"
	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader is the subset of *kafka.Reader the poller uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Poller struct {
	repo      repository.CartRepository
	cache     cache.CartCache
	reader    MessageReader
	onChanged func(userID string)
	log       *zap.Logger
}

type Option func(*Poller)

// WithCartChanged registers fn to run after a user's cart was trimmed.
func WithCartChanged(fn func(userID string)) Option {
	return func(p *Poller) { p.onChanged = fn }
}

func NewKafkaReader(brokers []string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    d.TopicOrderEvents,
		GroupID:  "checkout-cart-cleaner",
		MaxBytes: 10e6,
	})
}

func NewPoller(repo repository.CartRepository, cache cache.CartCache, reader MessageReader, log *zap.Logger, opts ...Option) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Poller{repo: repo, cache: cache, reader: reader, onChanged: func(string) {}, log: log}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run consumes order events until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	for ctx.Err() == nil {
		p.handleNext(ctx)
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Warn("failed to close order event reader", zap.Error(err))
	}
}

func (p *Poller) handleNext(ctx context.Context) {
	m, err := p.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() == nil {
			p.log.Warn("failed to read order event", zap.Error(err))
		}
		return
	}

	if err := p.handle(ctx, m.Value); err != nil {
		// left uncommitted so the event is redelivered
		p.log.Warn("failed to clear cart for order event", zap.Error(err))
		return
	}
	if err := p.reader.CommitMessages(ctx, m); err != nil {
		p.log.Warn("failed to commit order event", zap.Error(err))
	}
}

func (p *Poller) handle(ctx context.Context, payload []byte) error {
	var event d.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		p.log.Warn("skipping malformed order event", zap.Error(err))
		return nil
	}
	if event.Type != d.EventOrderPlaced || event.UserID == "" {
		return nil
	}
	if len(event.Lines) == 0 {
		p.log.Warn("order event carries no lines, cart left as is",
			zap.String("user_id", event.UserID), zap.String("order_number", event.OrderNumber))
		return nil
	}

	err := p.repo.RemoveOrderedItems(ctx, event.UserID, event.Lines)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := p.cache.Delete(ctx, event.UserID); err != nil {
		p.log.Warn("failed to delete cached cart", zap.String("user_id", event.UserID), zap.Error(err))
	}
	p.onChanged(event.UserID)
	p.log.Info("ordered items removed from cart",
		zap.String("user_id", event.UserID), zap.String("order_number", event.OrderNumber))
	return nil
}
