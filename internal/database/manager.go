// Package database coordinates the audit trail of coordination events across
// PostgreSQL and InfluxDB.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Ratio1/edge-node-sub002/internal/database/influx"
	"github.com/Ratio1/edge-node-sub002/internal/database/postgres"
	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	"github.com/Ratio1/edge-node-sub002/pkg/circuit"
	"github.com/Ratio1/edge-node-sub002/pkg/errors"
	"github.com/Ratio1/edge-node-sub002/pkg/log"
	"github.com/Ratio1/edge-node-sub002/pkg/retry"
)

var (
	_ oracle.Recorder     = (*Manager)(nil)
	_ oracle.TickObserver = (*Manager)(nil)
)

// Manager records coordination events in PostgreSQL and InfluxDB. Either
// backend may be absent.
type Manager struct {
	Postgres *postgres.Client
	Influx   *influx.Client

	Events *postgres.EventRepository

	circuitBreaker *circuit.Breaker
	retryConfig    *retry.Config
	logger         *log.Logger
}

// Config holds configuration for the audit backends. A nil entry disables
// that backend.
type Config struct {
	Postgres *postgres.Config
	Influx   *influx.Config
}

// NewManager connects the configured backends and migrates the audit schema
func NewManager(ctx context.Context, cfg *Config, logger *log.Logger) (*Manager, error) {
	var (
		pgClient     *postgres.Client
		influxClient *influx.Client
		err          error
	)

	if cfg.Postgres != nil {
		pgClient, err = postgres.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
				"failed to connect to PostgreSQL database")
		}
		if err := postgres.Migrate(pgClient.DB()); err != nil {
			_ = pgClient.Close()
			return nil, err
		}
	}

	if cfg.Influx != nil {
		influxClient, err = influx.NewClient(ctx, cfg.Influx, logger)
		if err != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
				"failed to connect to InfluxDB database")
			if pgClient != nil {
				if closeErr := pgClient.Close(); closeErr != nil {
					return nil, origErr.WithContext("cleanup_error", closeErr.Error())
				}
			}
			return nil, origErr
		}
	}

	return newManager(pgClient, influxClient, logger), nil
}

func newManager(pg *postgres.Client, ix *influx.Client, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Nop()
	}

	m := &Manager{
		Postgres: pg,
		Influx:   ix,
		circuitBreaker: circuit.New(&circuit.Config{
			Name:            "audit",
			MaxFailures:     3,
			SuccessRequired: 2,
			Timeout:         30 * time.Second,
			ResetTimeout:    60 * time.Second,
		}),
		retryConfig: retry.DatabaseConfig(),
		logger:      logger.WithComponent("audit"),
	}
	if pg != nil {
		m.Events = postgres.NewEventRepository(pg.DB())
	}
	return m
}

// Close closes all database connections
func (m *Manager) Close() error {
	if m.Influx != nil {
		m.Influx.Close()
	}
	if m.Postgres != nil {
		if err := m.Postgres.Close(); err != nil {
			return fmt.Errorf("PostgreSQL close error: %w", err)
		}
	}
	return nil
}

// Health checks the health of all configured connections
func (m *Manager) Health(ctx context.Context) error {
	if m.Postgres != nil {
		if err := m.Postgres.Health(ctx); err != nil {
			return fmt.Errorf("PostgreSQL health check failed: %w", err)
		}
	}
	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}
	return nil
}

// Record stores ev in PostgreSQL (retried, behind the breaker) and writes its
// InfluxDB point best effort.
func (m *Manager) Record(ctx context.Context, ev oracle.Event) error {
	if m.Influx != nil {
		_ = m.Influx.Record(ctx, ev)
	}
	if m.Events == nil {
		return nil
	}

	rec := postgres.NewEventRecord(ev)
	return m.circuitBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Events.Insert(ctx, rec); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_event",
					"failed to store coordination event in PostgreSQL").
					WithContext("kind", rec.Kind).
					WithContext("key", rec.Key)
			}
			return nil
		})
	})
}

// ObserveTick forwards tick timings to InfluxDB
func (m *Manager) ObserveTick(d time.Duration, err error) {
	if m.Influx != nil {
		m.Influx.ObserveTick(d, err)
	}
}

// History returns the audit rows for one job id or epoch
func (m *Manager) History(ctx context.Context, kind oracle.EventKind, key string) ([]*postgres.EventRecord, error) {
	if m.Events == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "history", "audit database not configured")
	}
	return retry.DoWithResult(ctx, m.retryConfig, func() ([]*postgres.EventRecord, error) {
		return m.Events.ListByKey(ctx, string(kind), key)
	})
}

// Recent returns at most limit audit rows, newest first
func (m *Manager) Recent(ctx context.Context, limit int) ([]*postgres.EventRecord, error) {
	if m.Events == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "recent_events", "audit database not configured")
	}
	if limit <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "recent_events", "limit must be positive").
			WithContext("limit", limit)
	}
	return retry.DoWithResult(ctx, m.retryConfig, func() ([]*postgres.EventRecord, error) {
		return m.Events.ListRecent(ctx, limit)
	})
}

// Counts returns the number of events per kind over the trailing window
func (m *Manager) Counts(ctx context.Context, window time.Duration) (map[string]int64, error) {
	if m.Influx == nil {
		return nil, errors.New(errors.ErrorTypeInternal, "event_counts", "InfluxDB not configured")
	}
	if window <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "event_counts", "window must be positive").
			WithContext("window", window.String())
	}
	return m.Influx.EventCounts(ctx, window)
}

// StartPeriodicTasks flushes buffered InfluxDB points until ctx is done
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	if m.Influx == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()
}
