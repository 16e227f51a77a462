// Package log provides structured logging for chaindist.
// It wraps log/slog with the service identity and oracle-specific helpers.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

// TickIDKey is the context key under which the coordination loop stores the current tick id
const TickIDKey ctxKey = "tick_id"

// Logger wraps slog.Logger with service context
type Logger struct {
	*slog.Logger
	service string
	version string
}

// New creates a logger writing to stdout
func New(service, version, level, format string) *Logger {
	return NewWithWriter(os.Stdout, service, version, level, format)
}

// NewWithWriter creates a logger writing to w
func NewWithWriter(w io.Writer, service, version, level, format string) *Logger {
	opts := &slog.HandlerOptions{
		Level:     ParseLevel(level),
		AddSource: ParseLevel(level) == slog.LevelDebug,
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{
		Logger:  slog.New(handler).With("service", service, "version", version),
		service: service,
		version: version,
	}
}

// Nop returns a logger that discards everything, for tests
func Nop() *Logger {
	return NewWithWriter(io.Discard, "test", "test", "error", "json")
}

// ParseLevel maps a level name to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithContext returns a logger carrying the tick id found in ctx, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if tickID := ctx.Value(TickIDKey); tickID != nil {
		return l.WithFields("tick_id", tickID)
	}
	return l
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger:  l.With(fields...),
		service: l.service,
		version: l.version,
	}
}

// WithComponent returns a logger with a component field
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithFields("component", component)
}

// WithOracle tags lines with this oracle's node and chain addresses
func (l *Logger) WithOracle(nodeAddress, chainAddress string) *Logger {
	return l.WithFields("node_address", nodeAddress, "oracle_address", chainAddress)
}

// WithEpoch tags lines with an epoch number
func (l *Logger) WithEpoch(epoch int64) *Logger {
	return l.WithFields("epoch", epoch)
}

// WithJob tags lines with a job id
func (l *Logger) WithJob(jobID string) *Logger {
	return l.WithFields("job_id", jobID)
}

// WithError returns a logger with the error attached
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields("error", err.Error())
}

// LogSubmission logs an action sent to the ledger
func (l *Logger) LogSubmission(kind, key string, nodes []string) {
	l.Info("ledger submission",
		"kind", kind,
		"key", key,
		"nodes", nodes,
		"node_count", len(nodes),
	)
}

// LogDelayScheduled logs a jittered delay assigned to a coordination key
func (l *Logger) LogDelayScheduled(kind, key string, delay time.Duration) {
	l.Info("coordination delay scheduled",
		"kind", kind,
		"key", key,
		"delay_s", delay.Seconds(),
	)
}

// LogLivenessWrite logs a heartbeat written to the shared store
func (l *Logger) LogLivenessWrite(hkey, nodeAddress string, at time.Time) {
	l.Debug("liveness written",
		"hkey", hkey,
		"node_address", nodeAddress,
		"timestamp", at.Unix(),
	)
}

// LogTickFailure logs a failed coordination tick and the cooldown that follows
func (l *Logger) LogTickFailure(err error, cooldown time.Duration) {
	l.Error("exception during process",
		"error", err,
		"cooldown_s", cooldown.Seconds(),
	)
}

// LogDuration logs how long an operation took
func (l *Logger) LogDuration(operation string, d time.Duration) {
	l.Debug("operation completed",
		"operation", operation,
		"duration_ms", float64(d)/float64(time.Millisecond),
	)
}
