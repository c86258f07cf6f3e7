package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"grimm.is/flowmeta/internal/api"
	"grimm.is/flowmeta/internal/brand"
	"grimm.is/flowmeta/internal/capture"
	"grimm.is/flowmeta/internal/clock"
	"grimm.is/flowmeta/internal/config"
	"grimm.is/flowmeta/internal/logging"
	"grimm.is/flowmeta/internal/metrics"
	"grimm.is/flowmeta/internal/qos"
)

// RunDaemon runs capture, classification and the API until SIGINT or
// SIGTERM.
func RunDaemon(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}
	logger, closer, err := setupLogging(cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runDaemon(ctx, cfg, metrics.Get(), logger)
}

func runDaemon(ctx context.Context, cfg *config.Config, reg *metrics.Registry, logger *logging.Logger) error {
	clk := clock.Real{}
	d, err := newDaemon(cfg, clk, reg, logger)
	if err != nil {
		return err
	}
	defer d.close()

	if cfg.QoS.Interface != "" {
		if err := qos.NewManager(logger).Apply(cfg.QoSRuntime()); err != nil {
			return fmt.Errorf("failed to apply qos: %w", err)
		}
	}

	var src capture.Source
	if cfg.Capture.Mode != config.CaptureNone {
		src, err = capture.Open(capture.Options{
			Mode:      cfg.Capture.Mode,
			File:      cfg.Capture.File,
			Interface: cfg.Capture.Interface,
			Queue:     uint16(cfg.Capture.Queue),
			Group:     uint16(cfg.Capture.Group),
		}, clk, logger)
		if err != nil {
			return err
		}
	}

	sched, err := d.scheduler()
	if err != nil {
		return err
	}

	sources := metrics.Sources{Flows: d.service.Size, Identities: d.store.Len}
	if src != nil {
		sources.Capture = func() (string, map[string]uint64) { return src.Name(), src.Stats() }
	}
	collector := metrics.NewCollector(reg, sources, cfg.MetricsInterval(), clk, logger)

	var server *api.Server
	if cfg.API.Enabled {
		opts := api.ServerOptions{
			Flows:      d.service,
			Identities: d.store,
			Tasks:      sched,
			Metrics:    reg,
			Clock:      clk,
			Logger:     logger,
		}
		if d.archive != nil {
			opts.Archive = d.archive
		}
		if server, err = api.NewServer(opts); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	defer wg.Wait()
	defer cancel()

	sched.Start()
	defer sched.Stop()
	collector.Start(ctx)
	defer collector.Stop()

	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errCh <- server.ListenAndServe(ctx, cfg.API.Listen)
		}()
	}
	if src != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := src.Run(ctx, d.pipeline.Handle)
			if err == nil {
				logger.Info("capture source finished", "source", src.Name(), "stats", src.Stats())
			}
			errCh <- err
		}()
	}

	logger.Info(brand.Name+" running",
		"version", brand.Version,
		"capture", cfg.Capture.Mode,
		"api", cfg.API.Enabled,
		"archive", cfg.Archive.Enabled)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			d.flush(context.Background())
			return nil
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}
