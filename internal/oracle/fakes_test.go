package oracle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

type manualClock struct{ t time.Time }

func newManualClock() *manualClock { return &manualClock{t: time.Unix(1_738_771_200, 0)} }

func (c *manualClock) Now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type draw struct {
	unit   time.Duration
	lo, hi int
}

type fixedDrawer struct {
	delay time.Duration
	calls int
	draws []draw
}

func (d *fixedDrawer) Draw(unit time.Duration, lo, hi int) time.Duration {
	d.calls++
	d.draws = append(d.draws, draw{unit: unit, lo: lo, hi: hi})
	return d.delay
}

type submission struct {
	jobID string
	nodes []string
}

type fakeLedger struct {
	mu sync.Mutex

	unvalidated    []string
	unvalidatedErr error
	chain          map[string]string
	submitErr      error
	submissions    []submission
	nodeState      map[string][]string

	allocated     bool
	allocatedErr  error
	allocateErr   error
	allocateCalls int

	closable    string
	closableErr error

	calls []string
}

func (l *fakeLedger) record(call string) {
	l.calls = append(l.calls, call)
}

func (l *fakeLedger) UnvalidatedJobIDs(_ context.Context, _ string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("UnvalidatedJobIDs")
	return l.unvalidated, l.unvalidatedErr
}

func (l *fakeLedger) SubmitNodeUpdate(_ context.Context, jobID string, nodes []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("SubmitNodeUpdate")
	if l.submitErr != nil {
		return l.submitErr
	}
	l.submissions = append(l.submissions, submission{jobID: jobID, nodes: append([]string(nil), nodes...)})
	if l.nodeState == nil {
		l.nodeState = make(map[string][]string)
	}
	l.nodeState[jobID] = append([]string(nil), nodes...)
	return nil
}

func (l *fakeLedger) IsLastEpochAllocated(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("IsLastEpochAllocated")
	return l.allocated, l.allocatedErr
}

func (l *fakeLedger) AllocateRewardsAcrossAllEscrows(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("AllocateRewardsAcrossAllEscrows")
	if l.allocateErr != nil {
		return l.allocateErr
	}
	l.allocateCalls++
	l.allocated = true
	return nil
}

func (l *fakeLedger) FirstClosableJobID(_ context.Context) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record("FirstClosableJobID")
	if l.closableErr != nil {
		return "", false, l.closableErr
	}
	return l.closable, l.closable != "", nil
}

func (l *fakeLedger) NodeAddressToEthAddress(native string) (string, error) {
	if l.chain == nil {
		return "eth-" + native, nil
	}
	addr, ok := l.chain[native]
	if !ok {
		return "", fmt.Errorf("unknown node %s", native)
	}
	return addr, nil
}

type fakeStore struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	err    error
	writes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{hashes: make(map[string]map[string]string)}
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *fakeStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *fakeStore) HSet(_ context.Context, hkey, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if s.hashes[hkey] == nil {
		s.hashes[hkey] = make(map[string]string)
	}
	s.hashes[hkey][key] = value
	s.writes++
	return true, nil
}

func (s *fakeStore) HGet(_ context.Context, hkey, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", false, s.err
	}
	v, ok := s.hashes[hkey][key]
	return v, ok, nil
}

func (s *fakeStore) HGetAll(_ context.Context, hkey string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]string, len(s.hashes[hkey]))
	for k, v := range s.hashes[hkey] {
		out[k] = v
	}
	return out, nil
}

type fakeEpochs struct {
	epoch int64
	err   error
}

func (e *fakeEpochs) CurrentEpoch(_ context.Context) (int64, error) {
	return e.epoch, e.err
}

type fakeRegistry struct {
	apps KnownApps
	err  error
}

func (r *fakeRegistry) NetworkKnownApps(_ context.Context) (KnownApps, error) {
	return r.apps, r.err
}

type panickingRegistry struct{}

func (panickingRegistry) NetworkKnownApps(_ context.Context) (KnownApps, error) {
	panic("registry exploded")
}

type captureRecorder struct {
	events []Event
	err    error
}

func (r *captureRecorder) Record(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *captureRecorder) kinds() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, string(ev.Kind))
	}
	sort.Strings(out)
	return out
}

var errUnavailable = errors.New("connection refused")

// harness wires a Monitor to fakes with a fixed delay and a manual clock
type harness struct {
	clock    *manualClock
	drawer   *fixedDrawer
	ledger   *fakeLedger
	store    *fakeStore
	epochs   *fakeEpochs
	registry *fakeRegistry
	recorder *captureRecorder
	monitor  *Monitor
	slept    []time.Duration
}

func newHarness(delay time.Duration) *harness {
	h := &harness{
		clock:    newManualClock(),
		drawer:   &fixedDrawer{delay: delay},
		ledger:   &fakeLedger{},
		store:    newFakeStore(),
		epochs:   &fakeEpochs{},
		registry: &fakeRegistry{},
		recorder: &captureRecorder{},
	}
	h.monitor = NewMonitor(DefaultOptions(), Deps{
		Identity: Identity{NodeAddress: "0xai_self", ChainAddress: "0xSELF"},
		Store:    h.store,
		Ledger:   h.ledger,
		Epochs:   h.epochs,
		Registry: h.registry,
		Recorder: h.recorder,
		Clock:    h.clock,
		Drawer:   h.drawer,
	})
	h.monitor.sleep = func(_ context.Context, d time.Duration) {
		h.slept = append(h.slept, d)
	}
	return h
}
