package events

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes outcomes and dead letters to two topics, keyed by
// message ID so one message's events stay ordered.
type Kafka struct {
	outcomes    messageWriter
	deadLetters messageWriter
}

// NewKafka creates writers for the outcome and DLQ topics.
func NewKafka(brokers []string, outcomeTopic, dlqTopic string) *Kafka {
	return &Kafka{
		outcomes: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    outcomeTopic,
			Balancer: &kafka.Hash{},
		},
		deadLetters: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    dlqTopic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (k *Kafka) Outcome(ctx context.Context, o Outcome) error {
	return write(ctx, k.outcomes, o.MessageID, o.State, o)
}

func (k *Kafka) DeadLetter(ctx context.Context, d DeadLetter) error {
	return write(ctx, k.deadLetters, d.MessageID, d.State, d)
}

func write(ctx context.Context, w messageWriter, key, state string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{
		Key:     []byte(key),
		Value:   data,
		Headers: []kafka.Header{{Key: "state", Value: []byte(state)}},
	})
}

// Close closes both writers.
func (k *Kafka) Close() error {
	if err := k.outcomes.Close(); err != nil {
		return err
	}
	return k.deadLetters.Close()
}
