package oracle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

// RewardCoordinator allocates rewards for the last closed epoch at most once
// per epoch on this process. Every oracle waits a jittered delay before
// acting and re-checks the ledger first, so usually only one submits.
type RewardCoordinator struct {
	ledger      Ledger
	epochs      EpochSource
	drawer      Drawer
	clock       Clock
	unit        time.Duration
	windowMax   int
	callTimeout time.Duration
	state       *CoordinatorState
	notify      *notifier
	logger      *log.Logger
}

// Run advances the state machine of the last closed epoch
func (c *RewardCoordinator) Run(ctx context.Context) error {
	readCtx, cancel := withTimeout(ctx, c.callTimeout)
	current, err := c.epochs.CurrentEpoch(readCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to get current epoch: %w", err)
	}

	lastEpoch := current - 1
	if lastEpoch < 1 {
		return nil
	}
	c.state.currentEpoch = lastEpoch

	logger := c.logger.WithContext(ctx).WithEpoch(lastEpoch)
	now := c.clock.Now()

	entry, ok := c.state.Epochs[lastEpoch]
	if !ok {
		entry = &EpochClosureState{
			Start: now,
			Delay: c.drawer.Draw(c.unit, 1, c.windowMax),
		}
		c.state.Epochs[lastEpoch] = entry
		logger.LogDelayScheduled("epoch", strconv.FormatInt(lastEpoch, 10), entry.Delay)
	}

	if entry.Distributed || !expired(now, entry.Start, entry.Delay) {
		return nil
	}

	readCtx, cancel = withTimeout(ctx, c.callTimeout)
	allocated, err := c.ledger.IsLastEpochAllocated(readCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to check epoch %d allocation: %w", lastEpoch, err)
	}

	key := strconv.FormatInt(lastEpoch, 10)
	if allocated {
		entry.Distributed = true
		entry.CompletedAt = now
		logger.Info("rewards already allocated by another oracle")
		c.notify.emit(ctx, EventRewardsObserved, key, nil)
		return nil
	}

	if err := c.ledger.AllocateRewardsAcrossAllEscrows(ctx); err != nil {
		return fmt.Errorf("failed to allocate rewards for epoch %d: %w", lastEpoch, err)
	}
	entry.Distributed = true
	entry.CompletedAt = c.clock.Now()
	logger.LogSubmission(string(EventRewardsAllocated), key, nil)
	c.notify.emit(ctx, EventRewardsAllocated, key, nil)

	return nil
}
