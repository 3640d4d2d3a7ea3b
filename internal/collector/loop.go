package collector

import (
	"context"
	"log/slog"
	"time"

	"kvirt-exporter/internal/model"
	"kvirt-exporter/internal/stream"
)

// CycleSampler produces one cycle's worth of per-VM measurements.
type CycleSampler interface {
	SampleAll(ctx context.Context) (model.CycleResult, error)
}

// Publisher receives a completed cycle's results.
type Publisher interface {
	Publish(result model.CycleResult)
}

// Loop drives the fixed-interval collection cycle. Cycle failures are
// logged and backed off; the next tick always retries fresh, and nothing
// here ever terminates the process.
type Loop struct {
	logger       *slog.Logger
	sampler      CycleSampler
	publisher    Publisher
	sink         stream.Sink // optional push sink, may be nil
	interval     time.Duration
	errorBackoff time.Duration
}

func NewLoop(logger *slog.Logger, sampler CycleSampler, publisher Publisher, sink stream.Sink, interval, errorBackoff time.Duration) *Loop {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if errorBackoff <= 0 {
		errorBackoff = time.Second
	}
	return &Loop{
		logger:       logger,
		sampler:      sampler,
		publisher:    publisher,
		sink:         sink,
		interval:     interval,
		errorBackoff: errorBackoff,
	}
}

func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if err := l.collectOnce(ctx); err != nil {
		l.logger.Warn("initial collection cycle failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.collectOnce(ctx); err != nil {
				l.logger.Error("collection cycle failed", "error", err)
				l.sleepWithContext(ctx, l.errorBackoff)
			}
		}
	}
}

func (l *Loop) collectOnce(ctx context.Context) error {
	started := time.Now()
	result, err := l.sampler.SampleAll(ctx)
	if err != nil {
		// Nothing is published for a failed cycle; previously exported
		// values stay as-is until the next successful one.
		return err
	}

	l.publisher.Publish(result)
	l.logger.Debug("collection cycle complete", "vms", len(result), "elapsed", time.Since(started))

	if l.sink != nil && len(result) > 0 {
		if err := l.sink.SendCPUSamples(ctx, result); err != nil {
			// The pull endpoint is authoritative; push failures are
			// observed, not propagated.
			l.logger.Warn("stream push failed", "error", err)
		}
	}
	return nil
}

func (l *Loop) sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
