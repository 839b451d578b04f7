// Package notify delivers user-facing success and error signals. Delivery is
// fire and forget: callers never see a result.
package notify

import (
	"context"
	"encoding/json"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

type Notification struct {
	UserID  string    `json:"user_id"`
	Kind    Kind      `json:"kind"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) {
	fields := []zap.Field{
		zap.String("user_id", n.UserID),
		zap.String("kind", string(n.Kind)),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	}
	if n.Kind == KindError {
		l.log.Warn("user notification", fields...)
		return
	}
	l.log.Info("user notification", fields...)
}

// Multi fans a notification out to every notifier.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, x := range m {
		x.Notify(ctx, n)
	}
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier queues notifications and writes them from one goroutine. When
// the queue is full the notification is dropped.
type KafkaNotifier struct {
	w       MessageWriter
	inbox   chan kafka.Message
	closeCh chan struct{}
	timeout time.Duration
	log     *zap.Logger
}

func NewKafkaWriter(brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  d.TopicNotifications,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaNotifier(w MessageWriter, buf int, log *zap.Logger) *KafkaNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaNotifier{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		timeout: 5 * time.Second,
		log:     log,
	}
}

// Start runs the writer loop until ctx is done, then flushes what is queued.
func (k *KafkaNotifier) Start(ctx context.Context) {
	go func() {
		defer close(k.closeCh)
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case m := <-k.inbox:
						k.write(m)
					default:
						if err := k.w.Close(); err != nil {
							k.log.Warn("failed to close notification writer", zap.Error(err))
						}
						return
					}
				}
			case m := <-k.inbox:
				k.write(m)
			}
		}
	}()
}

func (k *KafkaNotifier) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	if err := k.w.WriteMessages(ctx, m); err != nil {
		k.log.Warn("failed to publish notification", zap.String("user_id", string(m.Key)), zap.Error(err))
	}
}

func (k *KafkaNotifier) Notify(_ context.Context, n Notification) {
	if n.SentAt.IsZero() {
		n.SentAt = time.Now()
	}
	value, err := json.Marshal(n)
	if err != nil {
		k.log.Error("failed to marshal notification", zap.Error(err))
		return
	}
	msg := kafka.Message{
		Key:   []byte(n.UserID),
		Value: value,
		Time:  n.SentAt,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(n.Kind)},
		},
	}
	select {
	case k.inbox <- msg:
	default:
		k.log.Warn("notification queue full, dropping", zap.String("user_id", n.UserID), zap.String("title", n.Title))
	}
}

// WaitClosed blocks until the writer loop has flushed and exited.
func (k *KafkaNotifier) WaitClosed() {
	<-k.closeCh
}
