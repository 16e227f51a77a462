package oracle

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

// notifier hands coordination events to the recorder. The ledger action has
// already happened when it runs, so recorder failures are only logged.
type notifier struct {
	recorder Recorder
	oracle   string
	clock    Clock
	logger   *log.Logger
}

func (n *notifier) emit(ctx context.Context, kind EventKind, key string, nodes []string) {
	if n == nil || n.recorder == nil {
		return
	}

	ev := Event{
		ID:     uuid.NewString(),
		Kind:   kind,
		Key:    key,
		Nodes:  nodes,
		Oracle: n.oracle,
		At:     n.clock.Now().UTC(),
	}
	if tickID, ok := ctx.Value(log.TickIDKey).(string); ok {
		ev.TickID = tickID
	}

	if err := n.recorder.Record(ctx, ev); err != nil {
		n.logger.WithContext(ctx).WithError(err).Warn("failed to record coordination event",
			"kind", string(kind),
			"key", key,
		)
	}
}
