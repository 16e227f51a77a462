package postgres

import (
	"time"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
)

// EventRecord is one row of the coordination_events audit table
type EventRecord struct {
	ID         string    `db:"id" json:"id"`
	TickID     string    `db:"tick_id" json:"tick_id,omitempty"`
	Kind       string    `db:"kind" json:"kind"`
	Key        string    `db:"event_key" json:"key"`
	Nodes      []string  `db:"nodes" json:"nodes"`
	Oracle     string    `db:"oracle" json:"oracle"`
	OccurredAt time.Time `db:"occurred_at" json:"occurred_at"`
	RecordedAt time.Time `db:"recorded_at" json:"recorded_at"`
}

// NewEventRecord converts a coordination event into its audit row
func NewEventRecord(ev oracle.Event) *EventRecord {
	nodes := ev.Nodes
	if nodes == nil {
		nodes = []string{}
	}
	return &EventRecord{
		ID:         ev.ID,
		TickID:     ev.TickID,
		Kind:       string(ev.Kind),
		Key:        ev.Key,
		Nodes:      nodes,
		Oracle:     ev.Oracle,
		OccurredAt: ev.At,
	}
}
