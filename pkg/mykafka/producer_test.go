package mykafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/cart_recovery/pkg/config"
)

func TestNop(t *testing.T) {
	require.NoError(t, Nop{}.PublishEvent(context.Background(), TopicCartEvents, "k", map[string]any{"a": 1}))
}

// Runs against a live broker only when KAFKA_TEST_BROKERS is set.
func TestProducer_PublishEvent(t *testing.T) {
	env, err := config.Parse[struct {
		Brokers []string `env:"KAFKA_TEST_BROKERS" envSeparator:","`
	}]()
	require.NoError(t, err)
	brokers := env.Brokers
	if len(brokers) == 0 {
		t.Skip("KAFKA_TEST_BROKERS not set")
	}

	topic := "test_cart_events_" + uuid.NewString()[:8]
	conn, err := kafka.Dial("tcp", brokers[0])
	require.NoError(t, err)
	require.NoError(t, conn.CreateTopics(kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
	require.NoError(t, conn.Close())

	p := NewProducer(brokers)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, p.PublishEvent(ctx, topic, "s1", map[string]any{"type": "cart_updated"}))

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, Partition: 0, MaxBytes: 10e6})
	defer r.Close()

	msg, err := r.ReadMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, "s1", string(msg.Key))

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, "cart_updated", got["type"])
}
