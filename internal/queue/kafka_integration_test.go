//go:build integration

package queue

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkaContainer "github.com/testcontainers/testcontainers-go/modules/kafka"

	"example.com/healthsync/internal/domain"
)

func TestKafkaUploaderDeliversQueuedRecords(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	kafkaC, err := kafkaContainer.RunContainer(ctx, testcontainers.WithEnv(map[string]string{
		"KAFKA_AUTO_CREATE_TOPICS_ENABLE": "true",
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = kafkaC.Terminate(context.Background()) })

	brokers, err := kafkaC.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	broker := brokers[0]

	topic := "local_record_uploads"

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))

	uploader := NewKafkaUploader([]string{broker}, topic)
	defer uploader.Close()

	store := newDurableStore()
	q := New(store, uploader)

	userID := uuid.NewString()
	_, err = q.Enqueue(ctx, userID, "workout", []byte(`{"sport":"run","duration_min":30}`))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, userID, "weight", []byte(`{"kg":71.2}`))
	require.NoError(t, err)

	stats, err := q.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Uploaded)
	require.Zero(t, stats.Failed)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Zero(t, pending, "confirmed records must leave the queue")

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     []string{broker},
		GroupID:     "healthsync-integration",
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	defer reader.Close()

	var kinds []string
	for i := 0; i < 2; i++ {
		msg, err := reader.ReadMessage(ctx)
		require.NoError(t, err)
		require.Equal(t, userID, string(msg.Key), "messages are keyed by user")

		var rec domain.LocalRecord
		require.NoError(t, json.Unmarshal(msg.Value, &rec))
		require.Equal(t, userID, rec.UserID)

		require.Len(t, msg.Headers, 1)
		require.Equal(t, "kind", msg.Headers[0].Key)
		kinds = append(kinds, string(msg.Headers[0].Value))
	}
	require.ElementsMatch(t, []string{"workout", "weight"}, kinds)
}

// durableStore is an in-memory Store standing in for the postgres repository
// so the test exercises only the kafka leg.
type durableStore struct {
	mu   sync.Mutex
	recs map[string]domain.LocalRecord
}

func newDurableStore() *durableStore {
	return &durableStore{recs: make(map[string]domain.LocalRecord)}
}

func (s *durableStore) InsertLocalRecord(ctx context.Context, rec domain.LocalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.ID] = rec
	return nil
}

func (s *durableStore) UnsyncedRecords(ctx context.Context, limit int) ([]domain.LocalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.LocalRecord, 0, len(s.recs))
	for _, rec := range s.recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *durableStore) DeleteRecord(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

func (s *durableStore) PendingCount(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs), nil
}
