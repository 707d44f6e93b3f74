// Package kafka bridges the in-process bus to Kafka topics.
package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/chainsafe/liquid-stake/pkg/bus"
)

// Encode builds the Kafka record carrying ev on topic. The record key is the
// notified account so that one account's events stay in one partition.
func Encode(topic string, ev bus.Event) (*kgo.Record, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
	}
	key := ev.Account
	if key.IsZero() {
		key = ev.From
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}, nil
}

// Decode reads an event from r. Events without a bus topic take busTopic.
// Events without an ID are keyed by the record's coordinates.
func Decode(r *kgo.Record, busTopic string) (bus.Event, error) {
	var ev bus.Event
	if err := json.Unmarshal(r.Value, &ev); err != nil {
		return bus.Event{}, fmt.Errorf("failed to decode record %s/%d@%d: %w", r.Topic, r.Partition, r.Offset, err)
	}
	if ev.Topic == "" {
		ev.Topic = busTopic
	}
	if ev.ID == "" {
		ev.ID = fmt.Sprintf("%s/%d/%d", r.Topic, r.Partition, r.Offset)
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = r.Timestamp
	}
	return ev, nil
}
