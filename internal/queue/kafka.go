package queue

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"example.com/healthsync/internal/domain"
)

// KafkaUploader publishes queued records to the upload topic. The writer is
// created lazily on first use.
type KafkaUploader struct {
	brokers []string
	topic   string
	writer  *kafka.Writer
}

// NewKafkaUploader constructs a KafkaUploader.
func NewKafkaUploader(brokers []string, topic string) *KafkaUploader {
	return &KafkaUploader{brokers: brokers, topic: topic}
}

// Upload publishes one record keyed by user so per-user ordering holds
// within a partition.
func (u *KafkaUploader) Upload(ctx context.Context, rec domain.LocalRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return u.kafkaWriter().WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(rec.Kind)},
		},
	})
}

func (u *KafkaUploader) kafkaWriter() *kafka.Writer {
	if u.writer == nil {
		u.writer = &kafka.Writer{
			Addr:         kafka.TCP(u.brokers...),
			Topic:        u.topic,
			RequiredAcks: kafka.RequireAll,
			Compression:  kafka.Snappy,
			Async:        false,
		}
	}
	return u.writer
}

// Close releases the writer.
func (u *KafkaUploader) Close() error {
	if u.writer == nil {
		return nil
	}
	return u.writer.Close()
}
