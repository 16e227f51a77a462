package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ratio1/edge-node-sub002/pkg/errors"
	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

// Options tunes the coordination loop
type Options struct {
	ProcessDelay     time.Duration
	SleepPeriod      time.Duration
	CallTimeout      time.Duration
	LivenessInterval time.Duration
	LivenessHKey     string
	RewardWindowMax  int
	ClosureWindowMax int
	StateRetention   time.Duration
}

// DefaultOptions mirrors the defaults of the chain distribution monitor
func DefaultOptions() Options {
	return Options{
		ProcessDelay:     10 * time.Second,
		SleepPeriod:      100 * time.Millisecond,
		CallTimeout:      5 * time.Second,
		LivenessInterval: 600 * time.Second,
		LivenessHKey:     "chain_dist_monitor",
		RewardWindowMax:  10,
		ClosureWindowMax: 25,
		StateRetention:   24 * time.Hour,
	}
}

// Deps are the collaborators of a Monitor. Recorder, Observer, Clock, Drawer
// and Logger are optional.
type Deps struct {
	Identity Identity
	Store    SharedStore
	Ledger   Ledger
	Epochs   EpochSource
	Registry WorkloadRegistry
	Recorder Recorder
	Observer TickObserver
	Clock    Clock
	Drawer   Drawer
	Logger   *log.Logger
}

// Monitor runs the coordination loop of one oracle
type Monitor struct {
	opts     Options
	identity Identity
	state    *CoordinatorState
	clock    Clock
	observer TickObserver
	logger   *log.Logger

	reconciler *Reconciler
	rewards    *RewardCoordinator
	closure    *ClosureCoordinator
	liveness   *LivenessReporter

	sleep    func(ctx context.Context, d time.Duration)
	done     chan struct{}
	stopOnce sync.Once
}

// NewMonitor wires the coordinators around a fresh CoordinatorState
func NewMonitor(opts Options, deps Deps) *Monitor {
	clock := deps.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	drawer := deps.Drawer
	if drawer == nil {
		drawer = NewJitter(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.WithComponent("monitor").WithOracle(deps.Identity.NodeAddress, deps.Identity.ChainAddress)

	state := NewCoordinatorState()
	notify := &notifier{
		recorder: deps.Recorder,
		oracle:   deps.Identity.ChainAddress,
		clock:    clock,
		logger:   logger,
	}

	return &Monitor{
		opts:     opts,
		identity: deps.Identity,
		state:    state,
		clock:    clock,
		observer: deps.Observer,
		logger:   logger,
		reconciler: &Reconciler{
			ledger:      deps.Ledger,
			registry:    deps.Registry,
			oracle:      deps.Identity.ChainAddress,
			callTimeout: opts.CallTimeout,
			notify:      notify,
			logger:      logger,
		},
		rewards: &RewardCoordinator{
			ledger:      deps.Ledger,
			epochs:      deps.Epochs,
			drawer:      drawer,
			clock:       clock,
			unit:        opts.ProcessDelay,
			windowMax:   opts.RewardWindowMax,
			callTimeout: opts.CallTimeout,
			state:       state,
			notify:      notify,
			logger:      logger,
		},
		closure: &ClosureCoordinator{
			ledger:      deps.Ledger,
			drawer:      drawer,
			clock:       clock,
			unit:        opts.ProcessDelay,
			windowMax:   opts.ClosureWindowMax,
			callTimeout: opts.CallTimeout,
			state:       state,
			notify:      notify,
			logger:      logger,
		},
		liveness: &LivenessReporter{
			store:       deps.Store,
			hkey:        opts.LivenessHKey,
			node:        deps.Identity.NodeAddress,
			interval:    opts.LivenessInterval,
			callTimeout: opts.CallTimeout,
			clock:       clock,
			logger:      logger,
		},
		sleep: sleepContext,
		done:  make(chan struct{}),
	}
}

// Start writes the initial liveness record and runs a tick every
// ProcessDelay until ctx is canceled or Shutdown is called. A failed initial
// write is retried by the first tick's liveness step.
func (m *Monitor) Start(ctx context.Context) error {
	m.logger.Info("monitor starting",
		"process_delay_s", m.opts.ProcessDelay.Seconds(),
		"liveness_hkey", m.opts.LivenessHKey,
	)

	if err := m.liveness.Init(ctx); err != nil {
		m.logger.WithError(err).Error("failed to write initial liveness")
	}

	ticker := time.NewTicker(m.opts.ProcessDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case <-ticker.C:
			_ = m.Tick(ctx)
		}
	}
}

// Shutdown stops the loop after the current tick
func (m *Monitor) Shutdown(_ context.Context) error {
	m.logger.Info("shutting down monitor")
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

// Tick runs one coordination pass: reconciliation, rewards, closure and
// liveness in that order. Any error or panic ends the pass, is logged, and
// is followed by a SleepPeriod cooldown. The error is returned for callers
// that want it; the loop itself ignores it.
func (m *Monitor) Tick(ctx context.Context) error {
	ctx = context.WithValue(ctx, log.TickIDKey, uuid.NewString())
	started := time.Now()

	err := m.process(ctx)
	if err != nil {
		m.logger.WithContext(ctx).LogTickFailure(err, m.opts.SleepPeriod)
		m.sleep(ctx, m.opts.SleepPeriod)
	}

	if m.observer != nil {
		m.observer.ObserveTick(time.Since(started), err)
	}
	return err
}

func (m *Monitor) process(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrorTypeInternal, "tick", fmt.Sprintf("panic: %v", r))
		}
	}()

	if n := m.state.Prune(m.clock.Now(), m.opts.StateRetention); n > 0 {
		m.logger.WithContext(ctx).Debug("evicted completed coordination state", "count", n)
	}

	if err := m.reconciler.Run(ctx); err != nil {
		return err
	}
	if err := m.rewards.Run(ctx); err != nil {
		return err
	}
	if err := m.closure.Run(ctx); err != nil {
		return err
	}
	return m.liveness.Run(ctx)
}

// State exposes the coordinator state. Only safe while the loop is stopped.
func (m *Monitor) State() *CoordinatorState {
	return m.state
}

// Liveness exposes the liveness reporter
func (m *Monitor) Liveness() *LivenessReporter {
	return m.liveness
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
