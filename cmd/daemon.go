package cmd

import (
	"context"
	"fmt"
	"net/netip"

	"grimm.is/flowmeta/internal/addrspace"
	"grimm.is/flowmeta/internal/archive"
	"grimm.is/flowmeta/internal/classify"
	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/config"
	"grimm.is/flowmeta/internal/flowmeta"
	"grimm.is/flowmeta/internal/flowtable"
	"grimm.is/flowmeta/internal/identity"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/metrics"
	"grimm.is/flowmeta/internal/policy"
	"grimm.is/flowmeta/internal/qos"
	"grimm.is/flowmeta/internal/scheduler"
)

// daemon holds the components shared by run and replay.
type daemon struct {
	cfg     *config.Config
	clock   clock.Clock
	logger  *logging.Logger
	metrics *metrics.Registry

	store     *identity.Store
	table     *flowtable.Table
	evaluator *policy.Evaluator
	queues    *qos.Policy
	archive   *archive.DB // nil unless archive.enabled
	service   *flowmeta.Service
	pipeline  *flowmeta.Pipeline
}

func newDaemon(cfg *config.Config, clk clock.Clock, reg *metrics.Registry, logger *logging.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, clock: clk, logger: logger, metrics: reg}

	static := classify.NewStatic(addrspace.New(logger), logger)
	pol, err := loadPolicy(cfg.PolicyFile, static)
	if err != nil {
		return nil, err
	}
	d.evaluator = policy.NewEvaluator(pol, static, logger)

	d.store = identity.NewStore(clk, logger)
	d.store.OnUpdate(func(_ netip.Addr, id identity.Identity) {
		reg.IdentitiesLearned.WithLabelValues(id.Source).Inc()
	})
	if err := seedIdentities(d.store, cfg.Identities); err != nil {
		return nil, err
	}

	tableCfg := flowtable.Config{Clock: clk, Logger: logger}
	if *cfg.FlowTable.AugmentIdentity {
		tableCfg.Identities = d.store
	}
	d.table = flowtable.New(tableCfg)
	d.queues = qos.NewPolicy(cfg.QoSRuntime(), logger)

	svcCfg := flowmeta.Config{
		Table:   d.table,
		Queuer:  d.queues,
		Metrics: reg,
		Clock:   clk,
		Logger:  logger,
	}
	if cfg.Archive.Enabled {
		db, err := archive.Open(cfg.Archive.Path, clk, logger)
		if err != nil {
			return nil, err
		}
		d.archive = db
		svcCfg.Archive = db
	}
	d.service = flowmeta.New(svcCfg)

	var observers []flowmeta.Observer
	if *cfg.FlowTable.HarvestDHCP {
		observers = append(observers, identity.NewDHCPHarvester(d.store, logger))
	}
	if *cfg.FlowTable.HarvestDNS {
		observers = append(observers, identity.NewDNSHarvester(d.store, logger))
	}
	if *cfg.FlowTable.HarvestARP {
		observers = append(observers, identity.NewARPHarvester(d.store, logger))
	}
	if *cfg.FlowTable.HarvestLLDP {
		observers = append(observers, identity.NewLLDPHarvester(d.store, logger))
	}
	d.pipeline = &flowmeta.Pipeline{
		Observers:  observers,
		Classifier: d.evaluator,
		Service:    d.service,
	}
	return d, nil
}

// loadPolicy reads and validates the policy file. No file means no rules:
// every flow lands in the default queue.
func loadPolicy(path string, static *classify.Static) (*policy.Policy, error) {
	if path == "" {
		return &policy.Policy{}, nil
	}
	p, err := policy.Load(path)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(static); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func seedIdentities(store *identity.Store, ids []config.IdentityConfig) error {
	for _, ic := range ids {
		addr, err := addrspace.ParseAddr(ic.Address)
		if err != nil {
			return fmt.Errorf("identity %q: %w", ic.Address, err)
		}
		id := identity.Identity{Hostname: ic.Hostname, Source: identity.SourceConfig}
		if ic.MAC != "" {
			mac, err := addrspace.ParseMAC(ic.MAC)
			if err != nil {
				return fmt.Errorf("identity %q: %w", ic.Address, err)
			}
			id.MAC = mac.String()
		}
		store.Set(addr, id)
	}
	return nil
}

func (d *daemon) sweep(ctx context.Context) error {
	d.service.Sweep(ctx, d.cfg.MaxAge())
	return nil
}

func (d *daemon) prune(ctx context.Context) error {
	_, err := d.archive.Prune(ctx, d.cfg.Retention())
	return err
}

// scheduler returns a scheduler carrying the sweep and, when the archive
// has a retention period, the prune job.
func (d *daemon) scheduler() (*scheduler.Scheduler, error) {
	s := scheduler.New(d.logger, d.clock)
	if err := s.AddTask(scheduler.NewSweepTask(d.cfg.SweepInterval(), d.sweep)); err != nil {
		return nil, err
	}
	if d.archive != nil && d.cfg.Retention() > 0 {
		sched, err := scheduler.Cron(d.cfg.Archive.PruneSchedule)
		if err != nil {
			return nil, fmt.Errorf("archive prune_schedule: %w", err)
		}
		if err := s.AddTask(scheduler.NewArchivePruneTask(sched, d.prune)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// flush archives every live record. Used on shutdown so flows still in
// the table are not lost.
func (d *daemon) flush(ctx context.Context) {
	if d.archive == nil {
		return
	}
	// a negative age evicts everything
	recs := d.service.Sweep(ctx, -1)
	d.logger.Info("archived live flows on shutdown", "count", len(recs))
}

func (d *daemon) close() {
	if d.archive != nil {
		if err := d.archive.Close(); err != nil {
			d.logger.Warn("failed to close archive", "error", err)
		}
	}
}
