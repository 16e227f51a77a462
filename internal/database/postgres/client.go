// Package postgres provides the PostgreSQL audit trail of coordination events.
// Every ledger submission and closure election an oracle makes is kept as a row.
package postgres

import (
	"context"
	"database/sql"
	"time"

	// PostgreSQL driver for database/sql
	_ "github.com/lib/pq"

	"github.com/Ratio1/edge-node-sub002/pkg/errors"
)

// Client wraps PostgreSQL database operations
type Client struct {
	db *sql.DB
}

// Config holds PostgreSQL connection configuration
type Config struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

// NewClient opens a connection pool for cfg.URL and pings it
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "postgres_open", "failed to open database")
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_ping", "failed to ping database")
	}

	return &Client{db: db}, nil
}

// NewFromDB wraps an already opened pool
func NewFromDB(db *sql.DB) *Client {
	return &Client{db: db}
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_health", "database unreachable")
	}
	return nil
}

// DB returns the underlying sql.DB for advanced operations
func (c *Client) DB() *sql.DB {
	return c.db
}
