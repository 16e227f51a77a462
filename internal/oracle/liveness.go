package oracle

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

// LivenessReporter keeps this node's field in the liveness hash fresh
type LivenessReporter struct {
	store       SharedStore
	hkey        string
	node        string
	interval    time.Duration
	callTimeout time.Duration
	clock       Clock
	logger      *log.Logger

	mu        sync.Mutex
	lastWrite time.Time
	written   bool
}

// Init writes the liveness record unconditionally
func (l *LivenessReporter) Init(ctx context.Context) error {
	return l.write(ctx)
}

// Run rewrites the record when the previous successful write is older than
// the interval. A failed write is retried on the next tick.
func (l *LivenessReporter) Run(ctx context.Context) error {
	last, written := l.LastWrite()
	if written && l.clock.Now().Sub(last) <= l.interval {
		return nil
	}
	return l.write(ctx)
}

// LastWrite returns the time of the last successful write. Safe to call
// from other goroutines.
func (l *LivenessReporter) LastWrite() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastWrite, l.written
}

func (l *LivenessReporter) write(ctx context.Context) error {
	now := l.clock.Now()

	writeCtx, cancel := withTimeout(ctx, l.callTimeout)
	defer cancel()
	if _, err := l.store.HSet(writeCtx, l.hkey, l.node, FormatTimestamp(now)); err != nil {
		return fmt.Errorf("failed to write liveness: %w", err)
	}

	l.mu.Lock()
	l.lastWrite = now
	l.written = true
	l.mu.Unlock()
	l.logger.WithContext(ctx).LogLivenessWrite(l.hkey, l.node, now)
	return nil
}

// LivenessRecord is one node's last reported heartbeat
type LivenessRecord struct {
	NodeAddress string    `json:"node_address"`
	LastSeen    time.Time `json:"last_seen"`
}

// FormatTimestamp encodes t as unix seconds with a fractional part
func FormatTimestamp(t time.Time) string {
	return strconv.FormatFloat(float64(t.UnixNano())/1e9, 'f', 6, 64)
}

// ParseTimestamp decodes a value written by FormatTimestamp
func ParseTimestamp(s string) (time.Time, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)), nil
}

// ReadLiveness returns every liveness record in hkey sorted by node address.
// Fields whose value is not a timestamp are skipped.
func ReadLiveness(ctx context.Context, store SharedStore, hkey string) ([]LivenessRecord, error) {
	fields, err := store.HGetAll(ctx, hkey)
	if err != nil {
		return nil, fmt.Errorf("failed to read liveness: %w", err)
	}

	records := make([]LivenessRecord, 0, len(fields))
	for node, value := range fields {
		ts, err := ParseTimestamp(value)
		if err != nil {
			continue
		}
		records = append(records, LivenessRecord{NodeAddress: node, LastSeen: ts})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].NodeAddress < records[j].NodeAddress
	})
	return records, nil
}
