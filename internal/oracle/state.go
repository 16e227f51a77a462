package oracle

import "time"

// EpochClosureState tracks the reward distribution attempt for one closed epoch
type EpochClosureState struct {
	Start       time.Time
	Delay       time.Duration
	Distributed bool
	CompletedAt time.Time
}

// JobClosureState tracks the closure election for one closable job
type JobClosureState struct {
	Start       time.Time
	Delay       time.Duration
	Closed      bool
	CompletedAt time.Time
}

// expired reports whether the delay has strictly elapsed since start
func expired(now, start time.Time, delay time.Duration) bool {
	return now.Sub(start) > delay
}

// CoordinatorState is the per-process memory of the coordinators.
// It is owned by a single Monitor and only touched from its tick goroutine.
type CoordinatorState struct {
	Epochs map[int64]*EpochClosureState
	Jobs   map[string]*JobClosureState

	// most recent keys the coordinators acted on; never evicted
	currentEpoch    int64
	currentClosable string
}

// NewCoordinatorState creates an empty state
func NewCoordinatorState() *CoordinatorState {
	return &CoordinatorState{
		Epochs: make(map[int64]*EpochClosureState),
		Jobs:   make(map[string]*JobClosureState),
	}
}

// Prune evicts terminal entries completed more than retention ago and returns
// how many were removed. The current epoch and closable job are kept so their
// delay can never be redrawn.
func (s *CoordinatorState) Prune(now time.Time, retention time.Duration) int {
	removed := 0

	for epoch, st := range s.Epochs {
		if epoch == s.currentEpoch || !st.Distributed {
			continue
		}
		if now.Sub(st.CompletedAt) > retention {
			delete(s.Epochs, epoch)
			removed++
		}
	}

	for jobID, st := range s.Jobs {
		if jobID == s.currentClosable || !st.Closed {
			continue
		}
		if now.Sub(st.CompletedAt) > retention {
			delete(s.Jobs, jobID)
			removed++
		}
	}

	return removed
}
