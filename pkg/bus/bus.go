// Package bus delivers ledger notifications to named subscribers.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/pkg/asset"
)

// Topics published on the bus.
const (
	// TopicBaseTransfer carries transfers observed on the base asset ledger.
	TopicBaseTransfer = "base.transfer"
	// TopicWrappedReceipt carries transfer receipts of the wrapped asset ledger.
	TopicWrappedReceipt = "wrapped.receipt"
)

var (
	// ErrDuplicateSubscriber is returned when a subscriber name is already taken on a topic.
	ErrDuplicateSubscriber = errors.New("duplicate subscriber")
)

// Event is a transfer notification.
type Event struct {
	ID       string      `json:"id"`
	Topic    string      `json:"topic"`
	Origin   asset.Name  `json:"origin"`
	Action   string      `json:"action"`
	From     asset.Name  `json:"from"`
	To       asset.Name  `json:"to"`
	Quantity asset.Asset `json:"quantity"`
	Memo     string      `json:"memo"`
	// Account is the party being notified.
	Account    asset.Name `json:"account"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Handler processes one event.
type Handler func(ctx context.Context, ev Event) error

type subscriber struct {
	name    string
	handler Handler
}

// Bus is a synchronous in-process publish/subscribe hub.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscriber
	logger *zap.Logger
}

// New creates an empty bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		topics: make(map[string][]subscriber),
		logger: logger,
	}
}

// Subscribe registers h on topic under name.
func (b *Bus) Subscribe(topic, name string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range b.topics[topic] {
		if s.name == name {
			return fmt.Errorf("%w: %s on %s", ErrDuplicateSubscriber, name, topic)
		}
	}
	b.topics[topic] = append(b.topics[topic], subscriber{name: name, handler: h})
	b.logger.Debug("Subscriber registered", zap.String("topic", topic), zap.String("name", name))
	return nil
}

// Unsubscribe removes the subscriber name from topic. It reports whether one was removed.
func (b *Bus) Unsubscribe(topic, name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[topic]
	for i, s := range subs {
		if s.name == name {
			b.topics[topic] = append(subs[:i:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

// Subscribers returns the subscriber names on topic, sorted.
func (b *Bus) Subscribers(topic string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.topics[topic]))
	for _, s := range b.topics[topic] {
		names = append(names, s.name)
	}
	sort.Strings(names)
	return names
}

// Publish delivers ev to every subscriber of ev.Topic in registration order
// and returns their joined errors.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	subs := append([]subscriber(nil), b.topics[ev.Topic]...)
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := s.handler(ctx, ev); err != nil {
			b.logger.Debug("Subscriber failed",
				zap.String("topic", ev.Topic),
				zap.String("name", s.name),
				zap.String("event_id", ev.ID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}
