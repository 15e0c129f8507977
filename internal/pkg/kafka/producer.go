package kafka

import (
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerConfig describes the topic the coordinator's events go to.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	Async        bool
	BatchTimeout time.Duration
}

// NewProducer returns a writer keyed by message key, so events for one
// tournament land on one partition in order.
func NewProducer(cfg ProducerConfig, logger *slog.Logger) *kafka.Writer {
	batch := cfg.BatchTimeout
	if batch <= 0 {
		batch = 100 * time.Millisecond
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           batch,
		AllowAutoTopicCreation: true,
		Async:                  cfg.Async,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Kafka async write failed", "topic", cfg.Topic, "messages", len(messages), "error", err)
			}
		},
	}
}

// SplitBrokers turns "a:9092, b:9092" into a broker list, dropping blanks.
// Environment overrides arrive as one comma separated string.
func SplitBrokers(list []string) []string {
	var out []string
	for _, item := range list {
		for _, b := range strings.Split(item, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}
