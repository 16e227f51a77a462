package main

import (
	"context"
	stderrors "errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ratio1/edge-node-sub002/internal/config"
	"github.com/Ratio1/edge-node-sub002/internal/database"
	"github.com/Ratio1/edge-node-sub002/internal/database/influx"
	"github.com/Ratio1/edge-node-sub002/internal/database/postgres"
	"github.com/Ratio1/edge-node-sub002/internal/database/redis"
	"github.com/Ratio1/edge-node-sub002/internal/epoch"
	"github.com/Ratio1/edge-node-sub002/internal/identity"
	"github.com/Ratio1/edge-node-sub002/internal/ledger"
	"github.com/Ratio1/edge-node-sub002/internal/messaging"
	"github.com/Ratio1/edge-node-sub002/internal/metrics"
	"github.com/Ratio1/edge-node-sub002/internal/netmon"
	"github.com/Ratio1/edge-node-sub002/internal/oracle"
	"github.com/Ratio1/edge-node-sub002/internal/status"
	"github.com/Ratio1/edge-node-sub002/pkg/log"
)

// daemon owns every long-lived component of a running oracle
type daemon struct {
	cfg    *config.Config
	logger *log.Logger

	store    *redis.Client
	ledger   *ledger.Client
	kafka    *messaging.KafkaClient
	audit    *database.Manager
	metrics  *metrics.Collector
	registry *netmon.Registry
	monitor  *oracle.Monitor
	status   *status.Server
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *log.Logger) (_ *daemon, err error) {
	key, err := identity.FromHex(cfg.OraclePrivateKey)
	if err != nil {
		return nil, err
	}
	id := key.Oracle()
	logger = logger.WithOracle(id.NodeAddress, id.ChainAddress)
	logger.Info("starting chaindistd",
		"ledger_rpc", cfg.LedgerRPCURL,
		"contract", cfg.LedgerContract,
		"environment", cfg.Environment,
	)

	d := &daemon{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	d.store, err = redis.NewClient(ctx, &redis.Config{URL: cfg.RedisURL, Debug: cfg.StoreDebug}, logger)
	if err != nil {
		return nil, err
	}

	d.ledger, err = ledger.Dial(ctx, ledger.Config{
		RPCURL:        cfg.LedgerRPCURL,
		Contract:      cfg.LedgerContract,
		Key:           key,
		SubmitTimeout: cfg.LedgerSubmitTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	epochs, err := epoch.New(cfg.EpochGenesis, cfg.EpochLength, oracle.SystemClock{})
	if err != nil {
		return nil, err
	}

	if auditCfg := auditConfig(cfg, id); auditCfg != nil {
		d.audit, err = database.NewManager(ctx, auditCfg, logger)
		if err != nil {
			return nil, err
		}
	}

	d.kafka = messaging.NewKafkaClient(cfg.KafkaBrokers, logger.Logger)
	d.metrics = metrics.NewCollector("chaindist")
	d.registry = netmon.NewRegistry(cfg.NodeTTL, oracle.SystemClock{}, logger)

	recorders := oracle.Recorders{
		d.metrics,
		messaging.NewEventPublisher(d.kafka, cfg.EventsTopic, cfg.ServiceName),
	}
	observers := oracle.TickObservers{d.metrics}
	if d.audit != nil {
		recorders = append(recorders, d.audit)
		observers = append(observers, d.audit)
	}
	gauges := &tickGauges{metrics: d.metrics, registry: d.registry}
	observers = append(observers, gauges)

	d.monitor = oracle.NewMonitor(monitorOptions(cfg), oracle.Deps{
		Identity: id,
		Store:    d.store,
		Ledger:   d.ledger,
		Epochs:   epochs,
		Registry: d.registry,
		Recorder: recorders,
		Observer: observers,
		Logger:   logger,
	})
	gauges.liveness = d.monitor.Liveness()

	checks := map[string]status.HealthCheck{"store": d.store.Health}
	var audit status.AuditSource
	if d.audit != nil {
		checks["audit"] = d.audit.Health
		audit = d.audit
	}
	d.status = status.NewServer(cfg.StatusAddr, status.Deps{
		Identity: id,
		Store:    d.store,
		HKey:     cfg.LivenessHKey,
		Epochs:   epochs,
		LastWrite: func() time.Time {
			at, _ := d.monitor.Liveness().LastWrite()
			return at
		},
		Checks:  checks,
		Metrics: d.metrics.Handler(),
		Audit:   audit,
	}, logger)

	return d, nil
}

// Run supervises the monitor, the heartbeat consumer, registry pruning and
// the status server. The first to fail stops the others.
func (d *daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCanceled(d.monitor.Start(gctx))
	})
	g.Go(func() error {
		return ignoreCanceled(d.kafka.ConsumeHeartbeats(gctx, d.cfg.HeartbeatTopic, d.cfg.KafkaGroupID, d.registry))
	})
	g.Go(func() error {
		d.pruneRegistry(gctx)
		return nil
	})
	g.Go(func() error {
		return d.status.Run(gctx)
	})
	if d.audit != nil {
		d.audit.StartPeriodicTasks(gctx)
	}

	err := g.Wait()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = d.monitor.Shutdown(shutdownCtx)

	if err != nil {
		d.logger.WithError(err).Error("chaindistd stopped with error")
		return err
	}
	d.logger.Info("chaindistd stopped")
	return nil
}

func (d *daemon) pruneRegistry(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.NodeTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.registry.Prune(); n > 0 {
				d.logger.Debug("pruned stale nodes", "count", n)
			}
		}
	}
}

// Close releases every connection the daemon opened
func (d *daemon) Close() {
	if d.kafka != nil {
		if err := d.kafka.Close(); err != nil {
			d.logger.WithError(err).Warn("failed to close kafka client")
		}
	}
	if d.audit != nil {
		if err := d.audit.Close(); err != nil {
			d.logger.WithError(err).Warn("failed to close audit databases")
		}
	}
	if d.ledger != nil {
		d.ledger.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.WithError(err).Warn("failed to close store")
		}
	}
}

func monitorOptions(cfg *config.Config) oracle.Options {
	return oracle.Options{
		ProcessDelay:     cfg.ProcessDelay,
		SleepPeriod:      cfg.SleepPeriod,
		CallTimeout:      cfg.CallTimeout,
		LivenessInterval: cfg.LivenessInterval,
		LivenessHKey:     cfg.LivenessHKey,
		RewardWindowMax:  cfg.RewardWindowMax,
		ClosureWindowMax: cfg.ClosureWindowMax,
		StateRetention:   cfg.StateRetention,
	}
}

// auditConfig returns nil when neither audit backend is configured
func auditConfig(cfg *config.Config, id oracle.Identity) *database.Config {
	var out database.Config
	if cfg.PostgresURL != "" {
		out.Postgres = &postgres.Config{URL: cfg.PostgresURL, MaxOpenConns: 4, MaxIdleConns: 2, MaxLifetime: time.Hour}
	}
	if cfg.InfluxURL != "" {
		out.Influx = &influx.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
			Oracle: id.NodeAddress,
		}
	}
	if out.Postgres == nil && out.Influx == nil {
		return nil
	}
	return &out
}

func ignoreCanceled(err error) error {
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// tickGauges refreshes point-in-time gauges after every tick
type tickGauges struct {
	metrics  *metrics.Collector
	registry *netmon.Registry
	liveness *oracle.LivenessReporter
}

func (g *tickGauges) ObserveTick(time.Duration, error) {
	g.metrics.SetKnownNodes(g.registry.Count())
	if g.liveness != nil {
		if at, ok := g.liveness.LastWrite(); ok {
			g.metrics.SetLivenessWrite(at)
		}
	}
}
