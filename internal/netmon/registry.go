package netmon

import (
	"context"
	"maps"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	"github.com/Ratio1/edge-node-sub002/pkg/errors"
	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

var _ oracle.WorkloadRegistry = (*Registry)(nil)

type nodeEntry struct {
	pipelines map[string]oracle.Pipeline
	seenAt    time.Time
}

// Registry holds the newest heartbeat of every node. Nodes silent for longer
// than the TTL are left out of snapshots.
type Registry struct {
	nodes  cmap.ConcurrentMap[string, nodeEntry]
	ttl    time.Duration
	clock  oracle.Clock
	logger *log.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(ttl time.Duration, clock oracle.Clock, logger *log.Logger) *Registry {
	if clock == nil {
		clock = oracle.SystemClock{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Registry{
		nodes:  cmap.New[nodeEntry](),
		ttl:    ttl,
		clock:  clock,
		logger: logger.WithComponent("netmon"),
	}
}

// Observe records hb unless a newer heartbeat from the same node is already known
func (r *Registry) Observe(hb Heartbeat) {
	seenAt := hb.Timestamp
	if seenAt.IsZero() {
		seenAt = r.clock.Now()
	}

	r.nodes.Upsert(hb.NodeAddress, nodeEntry{}, func(exist bool, current, _ nodeEntry) nodeEntry {
		if exist && current.seenAt.After(seenAt) {
			return current
		}
		return nodeEntry{pipelines: hb.Pipelines, seenAt: seenAt}
	})
}

// NetworkKnownApps returns a copy of the pipelines of every fresh node
func (r *Registry) NetworkKnownApps(_ context.Context) (oracle.KnownApps, error) {
	now := r.clock.Now()
	apps := make(oracle.KnownApps, r.nodes.Count())
	for item := range r.nodes.IterBuffered() {
		if r.stale(now, item.Val) {
			continue
		}
		apps[item.Key] = maps.Clone(item.Val.pipelines)
	}
	return apps, nil
}

// Prune drops stale nodes and returns how many were removed
func (r *Registry) Prune() int {
	now := r.clock.Now()
	removed := 0
	for _, node := range r.nodes.Keys() {
		ok := r.nodes.RemoveCb(node, func(_ string, v nodeEntry, exists bool) bool {
			return exists && r.stale(now, v)
		})
		if ok {
			removed++
		}
	}
	return removed
}

// Count returns the number of nodes tracked, fresh or not
func (r *Registry) Count() int {
	return r.nodes.Count()
}

// HandleMessage consumes a heartbeat delivered by the message bus
func (r *Registry) HandleMessage(_ context.Context, key string, msg proto.Message) error {
	s, ok := msg.(*structpb.Struct)
	if !ok {
		return errors.New(errors.ErrorTypeValidation, "handle_heartbeat", "unexpected message type").
			WithContext("key", key)
	}

	hb, err := ParseHeartbeat(s)
	if err != nil {
		return err
	}

	r.Observe(hb)
	r.logger.Debug("heartbeat observed",
		"node_address", hb.NodeAddress,
		"pipelines", len(hb.Pipelines),
	)
	return nil
}

func (r *Registry) stale(now time.Time, e nodeEntry) bool {
	return r.ttl > 0 && now.Sub(e.seenAt) > r.ttl
}
