package messaging

import (
	"time"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
)

// CoordinationEventMessage announces a ledger action taken by an oracle
type CoordinationEventMessage struct {
	EventID    string    `json:"event_id"`
	TickID     string    `json:"tick_id,omitempty"`
	Kind       string    `json:"kind"`
	Key        string    `json:"key"`
	Nodes      []string  `json:"nodes,omitempty"`
	Oracle     string    `json:"oracle"`
	Service    string    `json:"service"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewCoordinationEventMessage builds the wire form of ev
func NewCoordinationEventMessage(ev oracle.Event, service string) CoordinationEventMessage {
	return CoordinationEventMessage{
		EventID:    ev.ID,
		TickID:     ev.TickID,
		Kind:       string(ev.Kind),
		Key:        ev.Key,
		Nodes:      ev.Nodes,
		Oracle:     ev.Oracle,
		Service:    service,
		OccurredAt: ev.At,
	}
}
