package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaReader is the part of *kafka.Reader a KafkaSource uses.
type KafkaReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// NewKafkaReader builds a consumer-group reader. Offsets are committed
// in the background; a replayed rate is harmless because only the latest
// value per pair matters downstream.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:           brokers,
		Topic:             topic,
		GroupID:           groupID,
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           200 * time.Millisecond,
		CommitInterval:    time.Second,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    10 * time.Second,
	})
}

// KafkaSource forwards rates from a topic. The message key names the pair
// when the value is a bare rate.
type KafkaSource struct {
	reader KafkaReader
	pub    Publisher
	logger *zap.Logger
}

func NewKafkaSource(reader KafkaReader, pub Publisher, logger *zap.Logger) *KafkaSource {
	return &KafkaSource{
		reader: reader,
		pub:    pub,
		logger: logger.With(zap.String("source", "kafka")),
	}
}

// Run reads until ctx is done or the reader fails, then closes the reader.
func (s *KafkaSource) Run(ctx context.Context) error {
	defer func() {
		if err := s.reader.Close(); err != nil {
			s.logger.Warn("closing kafka reader", zap.Error(err))
		}
	}()

	for {
		m, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("kafka read: %w", err)
		}

		updates, err := decodePayload(string(m.Key), m.Value)
		if err != nil {
			s.logger.Debug("skipping message",
				zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
			continue
		}
		for _, u := range updates {
			s.pub.Publish(u.Key, u.Rate)
		}
	}
}
