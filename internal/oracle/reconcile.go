package oracle

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cast"

	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

// Reconciler confirms on the ledger which nodes are running each job this
// oracle has to attest.
type Reconciler struct {
	ledger      Ledger
	registry    WorkloadRegistry
	oracle      string
	callTimeout time.Duration
	notify      *notifier
	logger      *log.Logger
}

// Run performs one reconciliation pass
func (r *Reconciler) Run(ctx context.Context) error {
	readCtx, cancel := withTimeout(ctx, r.callTimeout)
	jobIDs, err := r.ledger.UnvalidatedJobIDs(readCtx, r.oracle)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to get unvalidated job ids: %w", err)
	}
	if len(jobIDs) == 0 {
		return nil
	}

	readCtx, cancel = withTimeout(ctx, r.callTimeout)
	apps, err := r.registry.NetworkKnownApps(readCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to get network known apps: %w", err)
	}

	logger := r.logger.WithContext(ctx)
	for _, jobID := range jobIDs {
		if jobID == "" {
			continue
		}

		nodes := MatchingNodes(apps, jobID)
		if len(nodes) == 0 {
			logger.Debug("no running nodes for job", "job_id", jobID)
			continue
		}

		chainNodes, err := ChainAddresses(r.ledger, nodes)
		if err != nil {
			return fmt.Errorf("job %s: %w", jobID, err)
		}

		if err := r.ledger.SubmitNodeUpdate(ctx, jobID, chainNodes); err != nil {
			return fmt.Errorf("failed to submit node update for job %s: %w", jobID, err)
		}
		logger.WithJob(jobID).LogSubmission(string(EventNodeUpdate), jobID, chainNodes)
		r.notify.emit(ctx, EventNodeUpdate, jobID, chainNodes)
	}

	return nil
}

// MatchingNodes returns the nodes running at least one pipeline whose
// deeploy_specs.job_id equals jobID. Numeric tags match their decimal form.
func MatchingNodes(apps KnownApps, jobID string) []string {
	var nodes []string
	for node, pipelines := range apps {
		for _, pipeline := range pipelines {
			tag, ok := pipeline.DeeploySpecs["job_id"]
			if !ok || tag == nil {
				continue
			}
			if s, err := cast.ToStringE(tag); err == nil && s == jobID {
				nodes = append(nodes, node)
				break
			}
		}
	}
	return nodes
}

// ChainAddresses maps native node addresses to ledger addresses and sorts them
func ChainAddresses(ledger Ledger, nodes []string) ([]string, error) {
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		addr, err := ledger.NodeAddressToEthAddress(node)
		if err != nil {
			return nil, fmt.Errorf("failed to map node %s to chain address: %w", node, err)
		}
		out = append(out, addr)
	}
	sort.Strings(out)
	return out, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
