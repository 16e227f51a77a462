package oracle

import (
	"context"
	"fmt"
	"time"

	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

// ClosureCoordinator elects, per closable job, the moment this oracle would
// close it. No ledger close action exists yet: an expired delay only marks
// the job closed locally and reports the election.
type ClosureCoordinator struct {
	ledger      Ledger
	drawer      Drawer
	clock       Clock
	unit        time.Duration
	windowMax   int
	callTimeout time.Duration
	state       *CoordinatorState
	notify      *notifier
	logger      *log.Logger
}

// Run advances the state machine of the first closable job
func (c *ClosureCoordinator) Run(ctx context.Context) error {
	readCtx, cancel := withTimeout(ctx, c.callTimeout)
	jobID, ok, err := c.ledger.FirstClosableJobID(readCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to get first closable job id: %w", err)
	}
	if !ok || jobID == "" {
		return nil
	}
	c.state.currentClosable = jobID

	logger := c.logger.WithContext(ctx).WithJob(jobID)
	now := c.clock.Now()

	entry, tracked := c.state.Jobs[jobID]
	if !tracked {
		entry = &JobClosureState{
			Start: now,
			Delay: c.drawer.Draw(c.unit, 1, c.windowMax),
		}
		c.state.Jobs[jobID] = entry
		logger.LogDelayScheduled("job", jobID, entry.Delay)
	}

	if entry.Closed || !expired(now, entry.Start, entry.Delay) {
		return nil
	}

	// TODO: close the job on its nodes, then submit a node update with an empty node list
	entry.Closed = true
	entry.CompletedAt = now
	logger.Info("job closure elected")
	c.notify.emit(ctx, EventJobCloseElected, jobID, nil)

	return nil
}
