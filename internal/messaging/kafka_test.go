package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewKafkaClient(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, testLogger())

	if client == nil {
		t.Fatal("NewKafkaClient returned nil")
	}
	if len(client.brokers) != 1 || client.brokers[0] != "localhost:9092" {
		t.Errorf("Expected brokers [localhost:9092], got %v", client.brokers)
	}
	if client.writers == nil || client.readers == nil {
		t.Error("Writer and reader maps should be initialized")
	}
}

func TestKafkaClient_GetProducer(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, testLogger())

	producer1 := client.GetProducer(TopicCoordinationEvents)
	if producer1 == nil {
		t.Fatal("GetProducer returned nil")
	}
	if producer1.Topic != TopicCoordinationEvents {
		t.Errorf("Expected topic %s, got %s", TopicCoordinationEvents, producer1.Topic)
	}
	if _, ok := producer1.Balancer.(*kafka.Hash); !ok {
		t.Error("events should be partitioned by key")
	}

	// Second call should return the cached producer
	if producer2 := client.GetProducer(TopicCoordinationEvents); producer1 != producer2 {
		t.Error("Expected same producer instance from cache")
	}
	if len(client.writers) != 1 {
		t.Errorf("Expected 1 writer in map, got %d", len(client.writers))
	}
}

func TestKafkaClient_GetConsumer(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, testLogger())

	consumer1 := client.GetConsumer(TopicHeartbeats, "oracle-a")
	if consumer1 == nil {
		t.Fatal("GetConsumer returned nil")
	}
	if consumer2 := client.GetConsumer(TopicHeartbeats, "oracle-a"); consumer1 != consumer2 {
		t.Error("Expected same consumer instance from cache")
	}
	if consumer3 := client.GetConsumer(TopicHeartbeats, "oracle-b"); consumer1 == consumer3 {
		t.Error("Expected different consumer for different group")
	}
	if len(client.readers) != 2 {
		t.Errorf("Expected 2 readers in map, got %d", len(client.readers))
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if len(client.readers) != 0 {
		t.Error("Close should reset the reader pool")
	}
}

func TestKafkaClient_ConsumerStopsOnCanceledContext(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.ConsumeHeartbeats(ctx, TopicHeartbeats, "oracle-a", nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ConsumeHeartbeats() = %v, want context.Canceled", err)
	}
	_ = client.Close()
}

type capturePublisher struct {
	topic, key string
	data       []byte
	err        error
}

func (c *capturePublisher) PublishJSON(_ context.Context, topic, key string, data []byte) error {
	c.topic, c.key, c.data = topic, key, data
	return c.err
}

func TestEventPublisher_Record(t *testing.T) {
	pub := &capturePublisher{}
	p := NewEventPublisher(pub, TopicCoordinationEvents, "chaindistd")

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := oracle.Event{
		ID:     "e-1",
		TickID: "t-1",
		Kind:   oracle.EventNodeUpdate,
		Key:    "9",
		Nodes:  []string{"0xA", "0xB"},
		Oracle: "0xSELF",
		At:     at,
	}
	if err := p.Record(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if pub.topic != TopicCoordinationEvents || pub.key != "9" {
		t.Errorf("published to %s/%s", pub.topic, pub.key)
	}

	var msg CoordinationEventMessage
	if err := json.Unmarshal(pub.data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Kind != "node_update" || msg.Service != "chaindistd" || len(msg.Nodes) != 2 || !msg.OccurredAt.Equal(at) {
		t.Errorf("message = %+v", msg)
	}
}

func TestEventPublisher_PropagatesError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	p := NewEventPublisher(pub, "t", "svc")

	if err := p.Record(context.Background(), oracle.Event{Key: "1"}); err == nil {
		t.Error("expected error")
	}
}

func TestTopicConstants(t *testing.T) {
	if TopicHeartbeats != "node.heartbeats" || TopicCoordinationEvents != "oracle.submissions" {
		t.Errorf("unexpected topics %q %q", TopicHeartbeats, TopicCoordinationEvents)
	}
}
