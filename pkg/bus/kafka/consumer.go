package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/chainsafe/liquid-stake/internal/metrics"
	"github.com/chainsafe/liquid-stake/pkg/bus"
)

// Publisher receives consumed events.
type Publisher interface {
	Publish(ctx context.Context, ev bus.Event) error
}

// Consumer reads events from Kafka and republishes them on the bus. Offsets
// are committed only after every record of a poll has been handled.
type Consumer struct {
	client    *kgo.Client
	topics    map[string]string
	pub       Publisher
	permanent func(error) bool
	logger    *zap.Logger
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithPermanentErrors sets the predicate deciding which handler errors are
// final. Records failing with a permanent error are logged and skipped;
// any other error stops the consumer before the offset is committed.
func WithPermanentErrors(fn func(error) bool) ConsumerOption {
	return func(c *Consumer) { c.permanent = fn }
}

// WithConsumerLogger sets a custom logger for the consumer.
func WithConsumerLogger(l *zap.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = l }
}

// NewConsumer joins group and consumes the Kafka topics in topics, which
// maps each Kafka topic to the bus topic its events are published on.
func NewConsumer(brokers []string, group string, topics map[string]string, pub Publisher, opts ...ConsumerOption) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no seed brokers")
	}
	kafkaTopics := make([]string, 0, len(topics))
	for t := range topics {
		kafkaTopics = append(kafkaTopics, t)
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(kafkaTopics...),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	c := &Consumer{
		client:    client,
		topics:    topics,
		pub:       pub,
		permanent: func(error) bool { return false },
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Run polls until ctx is cancelled or a record fails with a transient error.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Kafka consumer started")
	defer c.logger.Info("Kafka consumer stopped")

	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.Warn("Kafka fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
		})

		var runErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if runErr != nil {
				return
			}
			runErr = c.handle(ctx, r)
		})
		if runErr != nil {
			return runErr
		}

		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit offsets: %w", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, r *kgo.Record) error {
	ev, err := Decode(r, c.topics[r.Topic])
	if err != nil {
		metrics.EventsConsumed.WithLabelValues(r.Topic, "malformed").Inc()
		c.logger.Warn("Skipping malformed record", zap.Error(err))
		return nil
	}

	err = c.pub.Publish(ctx, ev)
	switch {
	case err == nil:
		metrics.EventsConsumed.WithLabelValues(r.Topic, "ok").Inc()
		return nil
	case c.permanent(err):
		metrics.EventsConsumed.WithLabelValues(r.Topic, "rejected").Inc()
		c.logger.Warn("Event rejected",
			zap.String("event_id", ev.ID),
			zap.String("topic", ev.Topic),
			zap.Error(err))
		return nil
	default:
		metrics.EventsConsumed.WithLabelValues(r.Topic, "error").Inc()
		return fmt.Errorf("failed to handle event %s: %w", ev.ID, err)
	}
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() {
	c.client.Close()
}
