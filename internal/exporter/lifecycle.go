package exporter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

func (e *Exporter) run(ctx context.Context) error {
	if err := e.conn.Connect(ctx); err != nil {
		return fmt.Errorf("initial libvirt connect: %w", err)
	}
	e.health.SetLibvirtConnected(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.loop.Run(gctx)
	})
	g.Go(func() error {
		return e.serveHTTP(gctx)
	})
	g.Go(func() error {
		return e.runHealthLoop(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runHealthLoop periodically pings libvirt and reconnects when the daemon
// went away, so a restarted libvirtd does not require an exporter restart.
func (e *Exporter) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(e.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := e.conn.Healthy(ctx); err != nil {
				e.logger.Warn("libvirt health check failed, reconnecting", "error", err)
				e.health.SetLibvirtConnected(false)
				if recErr := e.conn.Reconnect(ctx); recErr != nil {
					e.logger.Error("libvirt reconnect failed", "error", recErr)
					continue
				}
				e.health.SetLibvirtConnected(true)
			} else {
				e.health.SetLibvirtConnected(true)
			}
		}
	}
}
