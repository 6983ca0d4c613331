package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/signalsfoundry/switchagent/internal/config"
	"github.com/signalsfoundry/switchagent/internal/grpcserver"
	"github.com/signalsfoundry/switchagent/internal/logging"
	"github.com/signalsfoundry/switchagent/internal/observability"
	"github.com/signalsfoundry/switchagent/internal/platform"
	"github.com/signalsfoundry/switchagent/internal/sai"
	"github.com/signalsfoundry/switchagent/internal/sai/memsai"
	"github.com/signalsfoundry/switchagent/internal/sai/netdev"
	"github.com/signalsfoundry/switchagent/internal/switchd"
	"github.com/signalsfoundry/switchagent/timectrl"
)

// backend is an opened Control API implementation.
type backend struct {
	api   sai.API
	ports sai.PortDirectory
	links sai.LinkEventSource
	close func()
}

func openBackend(cfg config.Config, log logging.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendNetdev:
		api, err := netdev.New(cfg.Netns, cfg.PortNames())
		if err != nil {
			return nil, fmt.Errorf("open netdev backend: %w", err)
		}
		api.SetErrorHandler(func(err error) {
			log.Warn(context.Background(), "netlink link subscription error", logging.Err(err))
		})
		return &backend{api: api, ports: api, links: api, close: api.Close}, nil
	case config.BackendFake:
		api := memsai.New(cfg.PortNames()...)
		return &backend{api: api, ports: api, links: api, close: func() {}}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// bindPorts resolves every configured port to its hardware handle and
// attaches a platform port publishing to rec.
func bindPorts(cfg config.Config, dir sai.PortDirectory, rec platform.StateRecorder, log logging.Logger) ([]switchd.PortBinding, []*platform.Port, error) {
	bindings := make([]switchd.PortBinding, 0, len(cfg.Ports))
	platforms := make([]*platform.Port, 0, len(cfg.Ports))
	for _, p := range cfg.Ports {
		handle, err := dir.PortByName(p.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve port %d: %w", p.ID, err)
		}
		pp := platform.NewPort(p.ID, p.Name, log, rec)
		bindings = append(bindings, switchd.PortBinding{ID: p.ID, Name: p.Name, Handle: handle, Platform: pp})
		platforms = append(platforms, pp)
	}
	return bindings, platforms, nil
}

// run brings the switch up and serves until ctx is done.
func run(ctx context.Context, cfg config.Config, log logging.Logger, lis net.Listener) (err error) {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.WithoutCancel(ctx), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	agentMetrics, err := observability.NewAgentCollector(reg)
	if err != nil {
		return fmt.Errorf("init agent metrics: %w", err)
	}
	switchMetrics, err := observability.NewSwitchCollector(reg)
	if err != nil {
		return fmt.Errorf("init switch metrics: %w", err)
	}

	be, err := openBackend(cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	bindings, platforms, err := bindPorts(cfg, be.ports, agentMetrics, log)
	if err != nil {
		return err
	}

	log = log.With(logging.String("switch_id", cfg.SwitchID))
	sw, err := switchd.New(sai.Instrument(be.api, agentMetrics), bindings,
		switchd.WithLogger(log),
		switchd.WithMetrics(switchMetrics),
		switchd.WithTableSizes(agentMetrics),
		switchd.WithStatSink(agentMetrics),
		switchd.WithDefaultVlan(cfg.DefaultVlan),
	)
	if err != nil {
		return err
	}

	warm, err := loadWarmBoot(ctx, sw, cfg.WarmBootFile, log)
	if err != nil {
		return err
	}
	if err := sw.Init(ctx, warm); err != nil {
		return err
	}
	desired, err := cfg.DesiredState()
	if err != nil {
		return err
	}
	if err := sw.Apply(ctx, desired); err != nil {
		log.Warn(ctx, "initial configuration applied with errors; reconciliation will retry", logging.Err(err))
	}
	defer func() {
		err = multierr.Append(err, saveWarmBoot(sw, cfg.WarmBootFile, log))
	}()

	srv := grpcserver.New(
		grpcserver.WithLogger(log),
		grpcserver.WithUnaryInterceptors(agentMetrics.UnaryServerInterceptor()),
	)
	srv.RegisterSwitch(sw)
	srv.SetServing(true)

	jobs := timectrl.NewController(nil)
	jobs.AddJob(timectrl.Job{
		Name:     "reconcile",
		Interval: cfg.ReconcileInterval,
		Run: func(ctx context.Context, _ time.Time) {
			if _, err := sw.Reconcile(ctx); err != nil {
				log.Warn(ctx, "reconciliation pass failed", logging.Err(err))
			}
		},
	})
	jobs.AddJob(timectrl.Job{
		Name:     "stats",
		Interval: cfg.StatsInterval,
		Run: func(ctx context.Context, _ time.Time) {
			_ = sw.UpdateStats(ctx)
		},
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx, lis)
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return serveHTTP(gctx, cfg.MetricsAddr, newHTTPMux(agentMetrics, sw, platforms), log)
		})
	}
	g.Go(func() error {
		err := be.links.SubscribeLinkEvents(gctx, func(handle sai.ObjectID, up bool) {
			if err := sw.HandleLinkEvent(gctx, handle, up); err != nil {
				log.Debug(gctx, "ignoring link event", logging.Err(err))
			}
		})
		if err != nil {
			// Reconciliation still polls oper status.
			log.Warn(gctx, "link event subscription ended", logging.Err(err))
		}
		return nil
	})
	done := jobs.Start(gctx)
	g.Go(func() error {
		<-done
		return nil
	})

	log.Info(ctx, "switch agent running",
		logging.String("backend", string(cfg.Backend)),
		logging.Int("ports", len(bindings)),
		logging.Bool("warm_boot", warm),
		logging.String("boot_id", sw.BootID()),
	)
	return g.Wait()
}

// loadWarmBoot restores state from path when it exists. A missing file means
// a cold boot.
func loadWarmBoot(ctx context.Context, sw *switchd.Switch, path string, log logging.Logger) (bool, error) {
	if path == "" {
		return false, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info(ctx, "no warm boot state, cold booting", logging.String("path", path))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open warm boot state: %w", err)
	}
	defer f.Close()

	if err := sw.LoadWarmBoot(ctx, f); err != nil {
		return false, err
	}
	return true, nil
}

// saveWarmBoot writes state next to path and renames it into place so a
// crash mid-write leaves the previous file intact.
func saveWarmBoot(sw *switchd.Switch, path string, log logging.Logger) error {
	if path == "" {
		return nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("save warm boot state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := sw.SaveWarmBoot(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save warm boot state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save warm boot state: %w", err)
	}
	log.Info(context.Background(), "warm boot state saved", logging.String("path", path))
	return nil
}
