package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/Ratio1/edge-node-sub002/pkg/errors"
)

// EventRepository handles coordination event audit rows
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Insert stores rec. Inserting the same event id twice is a no-op so that
// retried writes stay idempotent.
func (r *EventRepository) Insert(ctx context.Context, rec *EventRecord) error {
	query := `
		INSERT INTO coordination_events (id, tick_id, kind, event_key, nodes, oracle, occurred_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.TickID, rec.Kind, rec.Key, pq.Array(rec.Nodes), rec.Oracle, rec.OccurredAt, now,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "insert_event", "failed to insert coordination event").
			WithContext("event_id", rec.ID).
			WithContext("kind", rec.Kind)
	}

	rec.RecordedAt = now
	return nil
}

// ListByKey returns the events recorded for a job id or epoch, oldest first
func (r *EventRepository) ListByKey(ctx context.Context, kind, key string) ([]*EventRecord, error) {
	query := `
		SELECT id, tick_id, kind, event_key, nodes, oracle, occurred_at, recorded_at
		FROM coordination_events
		WHERE kind = $1 AND event_key = $2
		ORDER BY occurred_at ASC`

	return r.list(ctx, "list_events_by_key", query, kind, key)
}

// ListRecent returns the newest events, newest first
func (r *EventRepository) ListRecent(ctx context.Context, limit int) ([]*EventRecord, error) {
	query := `
		SELECT id, tick_id, kind, event_key, nodes, oracle, occurred_at, recorded_at
		FROM coordination_events
		ORDER BY occurred_at DESC
		LIMIT $1`

	return r.list(ctx, "list_recent_events", query, limit)
}

func (r *EventRepository) list(ctx context.Context, op, query string, args ...any) ([]*EventRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, op, "failed to query coordination events")
	}
	defer func() { _ = rows.Close() }()

	var records []*EventRecord
	for rows.Next() {
		rec := &EventRecord{}
		var tickID sql.NullString
		if err := rows.Scan(
			&rec.ID, &tickID, &rec.Kind, &rec.Key, pq.Array(&rec.Nodes),
			&rec.Oracle, &rec.OccurredAt, &rec.RecordedAt,
		); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, op, "failed to scan coordination event")
		}
		rec.TickID = tickID.String
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, op, "failed to iterate coordination events")
	}
	return records, nil
}
