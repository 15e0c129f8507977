package events

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes each event to a topic, keyed by tournament so a
// tournament's events stay ordered within one partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher wraps a writer built by internal/pkg/kafka.
func NewKafkaPublisher(writer *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", ev.Type, err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Tournament),
		Value: value,
	}); err != nil {
		return fmt.Errorf("publish %s to kafka: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }
