package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
)

var (
	ErrDuplicateOrder    = errors.New("order with this idempotency key already exists")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("order status transition not allowed")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

type RepoInterface interface {
	RunMigrations(cred *Credentials) error
	CreateOrder(ctx context.Context, order *d.Order, event *OutboxEvent) error
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*d.Order, error)
	GetByNumber(ctx context.Context, userID, number string) (*d.Order, error)
	ListByUser(ctx context.Context, userID string) ([]*d.Order, error)
	UpdateStatus(ctx context.Context, id string, to d.OrderStatus, event *OutboxEvent) error
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	Close() error
}
