package messaging

import (
	"context"
	"encoding/json"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	"github.com/Ratio1/edge-node-sub002/pkg/errors"
)

// JSONPublisher is the part of KafkaClient the event publisher needs
type JSONPublisher interface {
	PublishJSON(ctx context.Context, topic, key string, data []byte) error
}

var _ oracle.Recorder = (*EventPublisher)(nil)

// EventPublisher records coordination events on a Kafka topic, keyed by the
// job id or epoch they concern.
type EventPublisher struct {
	client  JSONPublisher
	topic   string
	service string
}

// NewEventPublisher creates an event publisher
func NewEventPublisher(client JSONPublisher, topic, service string) *EventPublisher {
	return &EventPublisher{client: client, topic: topic, service: service}
}

// Record publishes ev
func (p *EventPublisher) Record(ctx context.Context, ev oracle.Event) error {
	data, err := json.Marshal(NewCoordinationEventMessage(ev, p.service))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeValidation, "marshal_event", "failed to marshal event")
	}
	return p.client.PublishJSON(ctx, p.topic, ev.Key, data)
}
