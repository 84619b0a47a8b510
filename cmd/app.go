package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/storage-balancer/config"
	"github.com/angeloszaimis/storage-balancer/internal/backend"
	"github.com/angeloszaimis/storage-balancer/internal/csvlog"
	"github.com/angeloszaimis/storage-balancer/internal/handler"
	"github.com/angeloszaimis/storage-balancer/internal/healthcheck"
	"github.com/angeloszaimis/storage-balancer/internal/httpserver"
	"github.com/angeloszaimis/storage-balancer/internal/loadbalancer"
	"github.com/angeloszaimis/storage-balancer/internal/metrics"
	"github.com/angeloszaimis/storage-balancer/internal/strategy"
	"github.com/angeloszaimis/storage-balancer/internal/tcpserver"
)

const (
	metricsBufferSize = 1000
	drainTimeout      = 10 * time.Second
)

// app wires the load balancer together: pool, health monitor, relay,
// acceptor and the optional admin server.
type app struct {
	logger     *slog.Logger
	pool       *backend.Pool
	collector  *metrics.Collector
	monitor    *healthcheck.Monitor
	server     *tcpserver.Server
	admin      *httpserver.Server
	healthLog  *csvlog.HealthLog
	metricsLog *csvlog.MetricsLog
}

// newApp opens the CSV logs and binds every socket so configuration and
// bind errors surface before anything runs.
func newApp(cfg *config.Config, strat strategy.Strategy, log *slog.Logger) (*app, error) {
	pool, err := buildPool(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{
		logger:    log,
		pool:      pool,
		collector: metrics.NewCollector(metricsBufferSize, log),
	}

	if a.healthLog, err = csvlog.OpenHealthLog(cfg.Logs.Health); err != nil {
		return nil, err
	}
	if a.metricsLog, err = csvlog.OpenMetricsLog(cfg.Logs.Metrics); err != nil {
		a.Close()
		return nil, err
	}

	a.monitor = healthcheck.NewMonitor(pool, healthcheck.Config{
		Interval: cfg.HealthCheck.IntervalDuration(),
		Timeout:  cfg.HealthCheck.TimeoutDuration(),
		Slice:    cfg.HealthCheck.SliceDuration(),
	}, a.healthLog, a.collector, log)

	lb := loadbalancer.NewLoadBalancer(pool, strat)
	relay := handler.NewRequestHandler(log, lb, a.metricsLog, a.collector, handler.Config{
		DialTimeout: cfg.Relay.DialTimeoutDuration(),
		IOTimeout:   cfg.Relay.IOTimeoutDuration(),
		MaxFileSize: cfg.Relay.MaxFileSize,
	})

	if a.server, err = tcpserver.New(cfg.ListenAddress(), relay, log, cfg.Relay.MaxConnections); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.server.Listen(); err != nil {
		a.Close()
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddress(), err)
	}

	if cfg.Admin.Address != "" {
		router := httpserver.NewRouter(a.collector, pool, strat.Name())
		if a.admin, err = httpserver.New(cfg.Admin.Address, router, log); err != nil {
			a.Close()
			return nil, err
		}
		if err := a.admin.Listen(); err != nil {
			a.Close()
			return nil, fmt.Errorf("listen on %s: %w", cfg.Admin.Address, err)
		}
		log.Info("Admin server listening", slog.String("address", a.admin.Addr().String()))
	}

	return a, nil
}

func buildPool(cfg *config.Config) (*backend.Pool, error) {
	backends := make([]*backend.Backend, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		backends = append(backends, backend.New(b.ID, b.IP, b.Port))
	}
	return backend.NewPool(backends)
}

// Run serves until ctx is cancelled or a component fails, then shuts the
// acceptor down and lets in-flight relays drain.
func (a *app) Run(ctx context.Context) error {
	a.collector.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.monitor.Run(gctx)
	})
	g.Go(func() error {
		return a.server.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.admin != nil {
		g.Go(func() error {
			return a.admin.Serve(gctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Addr returns the address the relay listens on.
func (a *app) Addr() string {
	return a.server.Addr().String()
}

// Close releases the listener and the CSV logs. It is safe after Run.
func (a *app) Close() error {
	var errs []error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		errs = append(errs, a.server.Shutdown(ctx))
		cancel()
	}
	if a.healthLog != nil {
		errs = append(errs, a.healthLog.Close())
	}
	if a.metricsLog != nil {
		errs = append(errs, a.metricsLog.Close())
	}
	return errors.Join(errs...)
}
