package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the Kafka-backed Bus.
type KafkaConfig struct {
	Brokers []string
	GroupID string
}

// KafkaBus is a Bus backed by Kafka, one topic per message Type, suited to
// a multi-process deployment where ingest, query dispatch, and facet-batch
// workers run as separate consumer groups competing over partitions.
type KafkaBus struct {
	cfg     KafkaConfig
	writer  *kafka.Writer
	readers map[string]*kafka.Reader
}

var _ Bus = (*KafkaBus)(nil)

// NewKafkaBus constructs a KafkaBus over cfg. The writer is shared across
// topics (kafka-go routes per-message by Topic); readers are created lazily
// per topic in Consume, one per (topic, GroupID) pair.
func NewKafkaBus(cfg KafkaConfig) *KafkaBus {
	return &KafkaBus{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
		readers: make(map[string]*kafka.Reader),
	}
}

// Publish writes msg to topic, keyed by msg.Key so redelivery of the same
// key lands on the same partition (ordering within a key).
func (b *KafkaBus) Publish(ctx context.Context, topic string, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: encode message: %w", err)
	}

	return b.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(msg.Key),
		Value: value,
	})
}

// Consume reads messages from topic under the bus's GroupID until ctx is
// cancelled. A message's offset is committed only after handler returns nil;
// returning an error stops Consume and leaves the offset uncommitted, so the
// group delivers that message again after a restart or rebalance.
func (b *KafkaBus) Consume(ctx context.Context, topic string, handler Handler) error {
	reader := b.readerFor(topic)

	for {
		km, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return fmt.Errorf("bus: read message: %w", err)
		}

		var msg Message

		if err := json.Unmarshal(km.Value, &msg); err != nil {
			return fmt.Errorf("bus: decode message: %w", err)
		}

		if err := handler(ctx, msg); err != nil {
			return err
		}

		if err := reader.CommitMessages(ctx, km); err != nil {
			return fmt.Errorf("bus: commit message: %w", err)
		}
	}
}

func (b *KafkaBus) readerFor(topic string) *kafka.Reader {
	if r, ok := b.readers[topic]; ok {
		return r
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: b.cfg.Brokers,
		GroupID: b.cfg.GroupID,
		Topic:   topic,
	})

	b.readers[topic] = r

	return r
}

// Close closes the writer and every reader opened by Consume.
func (b *KafkaBus) Close() error {
	var firstErr error

	if err := b.writer.Close(); err != nil {
		firstErr = err
	}

	for _, r := range b.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
