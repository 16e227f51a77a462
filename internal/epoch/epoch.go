// Package epoch numbers fixed-length epochs counted from a genesis instant.
package epoch

import (
	"context"
	"fmt"
	"time"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
)

var _ oracle.EpochSource = (*Source)(nil)

// Source computes epoch numbers from wall-clock time. Epoch 1 starts at genesis.
type Source struct {
	genesis time.Time
	length  time.Duration
	clock   oracle.Clock
}

// New creates an epoch source
func New(genesis time.Time, length time.Duration, clock oracle.Clock) (*Source, error) {
	if length <= 0 {
		return nil, fmt.Errorf("epoch length must be positive, got %s", length)
	}
	if clock == nil {
		clock = oracle.SystemClock{}
	}
	return &Source{genesis: genesis, length: length, clock: clock}, nil
}

// CurrentEpoch returns the epoch containing now. Instants before genesis are epoch 0.
func (s *Source) CurrentEpoch(_ context.Context) (int64, error) {
	return s.EpochAt(s.clock.Now()), nil
}

// EpochAt returns the epoch containing t
func (s *Source) EpochAt(t time.Time) int64 {
	if t.Before(s.genesis) {
		return 0
	}
	return int64(t.Sub(s.genesis)/s.length) + 1
}

// Start returns the first instant of epoch n
func (s *Source) Start(n int64) time.Time {
	if n < 1 {
		return s.genesis
	}
	return s.genesis.Add(time.Duration(n-1) * s.length)
}
