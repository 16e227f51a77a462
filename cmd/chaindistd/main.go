// Package main implements chaindistd, the chain distribution oracle daemon.
// Every oracle runs the same leader-less coordination loop against a shared
// store and the escrow ledger: it attests job placements, allocates epoch
// rewards and elects job closures.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ratio1/edge-node-sub002/internal/config"
	"github.com/Ratio1/edge-node-sub002/internal/database"
	"github.com/Ratio1/edge-node-sub002/internal/database/postgres"
	"github.com/Ratio1/edge-node-sub002/internal/database/redis"
	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

// errNoAuditDB is returned by history when POSTGRES_URL is unset
var errNoAuditDB = stderrors.New("no audit database configured (set POSTGRES_URL)")

// errGated is returned by run on a node that is not allowed to coordinate
var errGated = stderrors.New("coordination runs only on supervisor nodes (set SUPERVISOR_NODE=true or RUNS_ONLY_ON_SUPERVISOR=false)")

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chaindistd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "chaindistd",
		Short:         "Chain distribution oracle daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.AddCommand(
		newRunCmd(),
		newLivenessCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the coordination loop until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
			if cfg.Gated() {
				logger.Warn("not a supervisor node, refusing to start",
					"supervisor_node", cfg.SupervisorNode,
					"runs_only_on_supervisor", cfg.RunsOnSupervisor,
				)
				return errGated
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := newDaemon(ctx, cfg, logger)
			if err != nil {
				logger.WithError(err).Error("failed to start")
				return err
			}
			defer d.Close()

			return d.Run(ctx)
		},
	}
}

func newLivenessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "liveness",
		Short: "Print the last liveness write of every oracle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CallTimeout)
			defer cancel()

			store, err := redis.NewClient(ctx, &redis.Config{URL: cfg.RedisURL}, nil)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			records, err := oracle.ReadLiveness(ctx, store, cfg.LivenessHKey)
			if err != nil {
				return err
			}
			return printLiveness(cmd.OutOrStdout(), records, time.Now())
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [kind key]",
		Short: "Print audited coordination events, newest first or for one job id or epoch",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return stderrors.New("history takes either no arguments or a kind and a key")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.PostgresURL == "" {
				return errNoAuditDB
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.CallTimeout)
			defer cancel()

			audit, err := database.NewManager(ctx, &database.Config{
				Postgres: auditConfig(cfg, oracle.Identity{}).Postgres,
			}, nil)
			if err != nil {
				return err
			}
			defer func() { _ = audit.Close() }()

			var records []*postgres.EventRecord
			if len(args) == 2 {
				records, err = audit.History(ctx, oracle.EventKind(args[0]), args[1])
			} else {
				records, err = audit.Recent(ctx, limit)
			}
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of recent events to print")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.ServiceName, cfg.Version)
			return err
		},
	}
}

// printLiveness writes one row per oracle with the age of its last write
func printLiveness(w io.Writer, records []oracle.LivenessRecord, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NODE\tLAST SEEN\tAGE")
	for _, r := range records {
		age := now.Sub(r.LastSeen).Truncate(time.Second)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.NodeAddress, r.LastSeen.UTC().Format(time.RFC3339), age)
	}
	return tw.Flush()
}

// printHistory writes one row per audited event
func printHistory(w io.Writer, records []*postgres.EventRecord) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OCCURRED\tKIND\tKEY\tORACLE\tNODES")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
			r.OccurredAt.UTC().Format(time.RFC3339), r.Kind, r.Key, r.Oracle, len(r.Nodes))
	}
	return tw.Flush()
}
