// Package exporter wires the collection pipeline together and owns the
// process lifecycle: libvirt connection, collection loop, HTTP metrics
// server, and graceful shutdown.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"kvirt-exporter/internal/collector"
	"kvirt-exporter/internal/config"
	"kvirt-exporter/internal/libvirt"
	"kvirt-exporter/internal/metrics"
	"kvirt-exporter/internal/model"
	"kvirt-exporter/internal/sampler"
	"kvirt-exporter/internal/stream"
	"kvirt-exporter/internal/system"
)

type Exporter struct {
	cfg      config.Config
	logger   *slog.Logger
	conn     *libvirt.ConnManager
	loop     *collector.Loop
	sink     stream.Sink
	registry *prometheus.Registry
	health   *HealthStatus
}

func New(cfg config.Config, logger *slog.Logger) (*Exporter, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	var sink stream.Sink
	if cfg.StreamEnabled {
		sink = stream.NewGRPCClient(cfg.BackendGRPCAddr, tlsCfg, cfg.BackendToken, cfg.GRPCStreamMethod, cfg.NodeID, logger)
	}

	conn := libvirt.NewConnManager(cfg.LibvirtURI, cfg.ReconnectInterval, cfg.MaxReconnectJitter, logger)
	inventory := libvirt.NewInventory(conn, system.NewQemuPIDResolver(cfg.ProcRoot), logger)
	proc := system.NewProcReader(cfg.ProcRoot)

	tickRate := cfg.ClockTick
	if tickRate == 0 {
		tickRate = system.ClockTick()
	}
	logger.Info("process accounting clock", "ticks_per_second", tickRate)

	smp := sampler.New(logger, inventory, proc, proc, cfg.SampleWindow, tickRate)

	publisher := metrics.NewPublisher(cfg.StaleAfterCycles)
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		publisher,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	health := NewHealthStatus()
	wrapped := &healthPublisher{publisher: publisher, health: health}
	loop := collector.NewLoop(logger, smp, wrapped, sink, cfg.CollectInterval, cfg.ErrorBackoff)

	return &Exporter{
		cfg:      cfg,
		logger:   logger,
		conn:     conn,
		loop:     loop,
		sink:     sink,
		registry: registry,
		health:   health,
	}, nil
}

// Run blocks until the context is canceled or a shutdown signal arrives.
// A second signal or an expired grace timer forces immediate shutdown.
func (e *Exporter) Run(ctx context.Context) error {
	e.logger.Info("starting kvirt-exporter",
		"node_id", e.cfg.NodeID,
		"listen_addr", e.cfg.ListenAddr,
		"libvirt_uri", e.cfg.LibvirtURI,
		"collect_interval", e.cfg.CollectInterval,
		"sample_window", e.cfg.SampleWindow,
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- e.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		e.logger.Info("shutdown signal received", "signal", sig.String(), "timeout", e.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(e.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			e.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			e.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", e.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout)
	defer cancelShutdown()
	e.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	e.logger.Info("kvirt-exporter stopped")
	return nil
}

func (e *Exporter) shutdown(ctx context.Context) {
	if e.sink != nil {
		if err := e.sink.Close(ctx); err != nil {
			e.logger.Warn("stream sink close failed", "error", err)
		}
	}
	if err := e.conn.Close(); err != nil {
		e.logger.Warn("libvirt close failed", "error", err)
	}
	e.health.SetLibvirtConnected(false)
}

// BuildLogger constructs the process logger from config.
func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}

// healthPublisher marks each completed cycle on the health status before
// handing results to the real publisher.
type healthPublisher struct {
	publisher collector.Publisher
	health    *HealthStatus
}

func (p *healthPublisher) Publish(result model.CycleResult) {
	p.publisher.Publish(result)
	p.health.MarkCycle(time.Now().UTC(), len(result))
}
