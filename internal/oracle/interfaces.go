// Package oracle implements the leader-less coordination loop run by every
// oracle node: job reconciliation, reward distribution, job closure and
// liveness reporting against a shared store and an authoritative ledger.
package oracle

import (
	"context"
	"errors"
	"time"
)

// SharedStore is an eventually consistent hash store shared by all oracles
type SharedStore interface {
	HSet(ctx context.Context, hkey, key, value string) (bool, error)
	HGet(ctx context.Context, hkey, key string) (string, bool, error)
	HGetAll(ctx context.Context, hkey string) (map[string]string, error)
}

// Ledger is the authoritative system of record for jobs, epochs and rewards
type Ledger interface {
	// UnvalidatedJobIDs returns the jobs the given oracle is expected to attest
	UnvalidatedJobIDs(ctx context.Context, oracle string) ([]string, error)
	// SubmitNodeUpdate confirms the nodes running a job. nodes must be sorted.
	SubmitNodeUpdate(ctx context.Context, jobID string, nodes []string) error
	IsLastEpochAllocated(ctx context.Context) (bool, error)
	AllocateRewardsAcrossAllEscrows(ctx context.Context) error
	// FirstClosableJobID reports false when no job can be closed
	FirstClosableJobID(ctx context.Context) (string, bool, error)
	NodeAddressToEthAddress(native string) (string, error)
}

// EpochSource reports the current epoch number
type EpochSource interface {
	CurrentEpoch(ctx context.Context) (int64, error)
}

// Pipeline is one deployed pipeline as announced by its node
type Pipeline struct {
	DeeploySpecs map[string]any `json:"deeploy_specs,omitempty"`
}

// KnownApps maps node address -> pipeline name -> pipeline
type KnownApps map[string]map[string]Pipeline

// WorkloadRegistry snapshots the pipelines every known peer is running
type WorkloadRegistry interface {
	NetworkKnownApps(ctx context.Context) (KnownApps, error)
}

// Identity is this oracle's node address and ledger address
type Identity struct {
	NodeAddress  string
	ChainAddress string
}

// Clock abstracts wall-clock time
type Clock interface {
	Now() time.Time
}

// SystemClock is the real wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time { return time.Now() }

// EventKind names an action an oracle took against the ledger
type EventKind string

const (
	EventNodeUpdate       EventKind = "node_update"
	EventRewardsAllocated EventKind = "rewards_allocated"
	EventRewardsObserved  EventKind = "rewards_observed"
	EventJobCloseElected  EventKind = "job_close_elected"
)

// Event describes one completed coordination action
type Event struct {
	ID     string    `json:"id"`
	TickID string    `json:"tick_id,omitempty"`
	Kind   EventKind `json:"kind"`
	Key    string    `json:"key"`
	Nodes  []string  `json:"nodes,omitempty"`
	Oracle string    `json:"oracle"`
	At     time.Time `json:"at"`
}

// Recorder receives every coordination event after the ledger action happened
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// TickObserver receives the outcome of every tick
type TickObserver interface {
	ObserveTick(d time.Duration, err error)
}

// Recorders fans an event out to several recorders
type Recorders []Recorder

// Record calls every recorder and joins their errors
func (rs Recorders) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range rs {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TickObservers fans tick outcomes out to several observers
type TickObservers []TickObserver

// ObserveTick forwards to every observer
func (obs TickObservers) ObserveTick(d time.Duration, err error) {
	for _, o := range obs {
		if o != nil {
			o.ObserveTick(d, err)
		}
	}
}
