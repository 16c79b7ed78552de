// Package events publishes domain events for downstream consumers (push
// notification fan-out, analytics). Publishing is best-effort from the
// sender's point of view: a broker outage is logged and never fails the
// user-facing send.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/segmentio/kafka-go"
)

// MessageCommitted is emitted after a message is durably in the live store.
type MessageCommitted struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Text           string `json:"text"`
	IsGroupChat    bool   `json:"is_group_chat"`
}

// Publisher emits domain events.
type Publisher interface {
	PublishMessageCommitted(ctx context.Context, ev MessageCommitted) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic, keyed by conversation so
// each conversation's events stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

// PublishMessageCommitted implements Publisher.
func (p *KafkaPublisher) PublishMessageCommitted(ctx context.Context, ev MessageCommitted) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode message event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ConversationID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publish message event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// MemoryPublisher records events in memory; tests and local development.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []MessageCommitted
}

// NewMemoryPublisher returns an empty recording publisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// PublishMessageCommitted implements Publisher.
func (p *MemoryPublisher) PublishMessageCommitted(ctx context.Context, ev MessageCommitted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// Close implements Publisher.
func (p *MemoryPublisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []MessageCommitted {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]MessageCommitted(nil), p.events...)
}

// NopPublisher drops every event; used when no broker is configured.
type NopPublisher struct{}

// PublishMessageCommitted implements Publisher.
func (NopPublisher) PublishMessageCommitted(context.Context, MessageCommitted) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }
