// Package sampler implements the two-snapshot CPU measurement that turns
// cumulative per-process tick counters into per-VM usage percentages
// normalized to each VM's vCPU capacity.
package sampler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kvirt-exporter/internal/model"
	"kvirt-exporter/internal/system"
)

// ProcessCPUReader reads the cumulative user/system tick counters of a
// process, summed across its live threads. ok is false when the process
// no longer exists; the reading is then meaningless and must not be
// published.
type ProcessCPUReader interface {
	ProcessTicks(pid int) (system.ProcessTicks, bool)
}

// IOWaitReader reads the host-wide cumulative iowait tick counter.
type IOWaitReader interface {
	IOWaitTicks() int64
}

// Inventory enumerates running VMs with freshly resolved descriptors.
type Inventory interface {
	Snapshot(ctx context.Context) ([]model.VMDescriptor, error)
}

type Sampler struct {
	logger    *slog.Logger
	inventory Inventory
	proc      ProcessCPUReader
	iowait    IOWaitReader
	window    time.Duration
	tickRate  int64
}

func New(logger *slog.Logger, inventory Inventory, proc ProcessCPUReader, iowait IOWaitReader, window time.Duration, tickRate int64) *Sampler {
	if window <= 0 {
		window = 100 * time.Millisecond
	}
	return &Sampler{
		logger:    logger,
		inventory: inventory,
		proc:      proc,
		iowait:    iowait,
		window:    window,
		tickRate:  tickRate,
	}
}

// SampleAll measures every running VM concurrently; the per-VM windows
// overlap so one cycle costs roughly one window regardless of VM count.
// An inventory failure fails the whole cycle. Any per-VM failure only
// drops that VM from the result.
func (s *Sampler) SampleAll(ctx context.Context) (model.CycleResult, error) {
	vms, err := s.inventory.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("list running vms: %w", err)
	}

	results := make(model.CycleResult, len(vms))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, vm := range vms {
		g.Go(func() error {
			pct, ok := s.sampleVM(gctx, vm)
			if !ok {
				return nil
			}
			mu.Lock()
			results[vm.Name] = pct
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Sampler) sampleVM(ctx context.Context, vm model.VMDescriptor) (model.UsagePercentages, bool) {
	if vm.VCPUCount == 0 {
		s.logger.Debug("skipping vm without vcpus", "vm", vm.Name)
		return model.UsagePercentages{}, false
	}
	if !vm.HasProcess() {
		return model.UsagePercentages{}, false
	}

	first, ok := s.snapshot(vm.PID)
	if !ok {
		// Process already gone at the first snapshot: no measurement,
		// absence is the signal.
		s.logger.Warn("qemu process vanished before sampling", "vm", vm.Name, "pid", vm.PID)
		return model.UsagePercentages{}, false
	}

	if !s.wait(ctx) {
		return model.UsagePercentages{}, false
	}

	// If the process exited during the window the second reading is zero;
	// the negative deltas clamp to 0 below.
	second, _ := s.snapshot(vm.PID)

	pct := Derive(first, second, vm.VCPUCount, s.tickRate, s.window)
	s.logger.Debug("vm cpu sample",
		"vm", vm.Name,
		"user_pct", pct.UserPct,
		"system_pct", pct.SystemPct,
		"iowait_pct", pct.IOWaitPct,
	)
	return pct, true
}

func (s *Sampler) snapshot(pid int) (model.CPUSnapshot, bool) {
	ticks, ok := s.proc.ProcessTicks(pid)
	return model.CPUSnapshot{
		UserTicks:   ticks.User,
		SystemTicks: ticks.System,
		IOWaitTicks: s.iowait.IOWaitTicks(),
		TakenAt:     time.Now(),
	}, ok
}

func (s *Sampler) wait(ctx context.Context) bool {
	t := time.NewTimer(s.window)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Derive converts a snapshot pair into usage percentages. The denominator
// is the tick capacity of the VM's full vCPU allocation over the nominal
// window; scheduling jitter in the actually elapsed time is not corrected
// for. Negative deltas (PID reuse, counter anomaly) clamp to 0. There is
// no upper clamp: a reading above 100% stays visible.
func Derive(first, second model.CPUSnapshot, vcpus uint, tickRate int64, window time.Duration) model.UsagePercentages {
	capacity := float64(tickRate) * window.Seconds() * float64(vcpus)
	if capacity <= 0 {
		return model.UsagePercentages{}
	}
	return model.UsagePercentages{
		UserPct:   percent(second.UserTicks-first.UserTicks, capacity),
		SystemPct: percent(second.SystemTicks-first.SystemTicks, capacity),
		IOWaitPct: percent(second.IOWaitTicks-first.IOWaitTicks, capacity),
	}
}

func percent(delta int64, capacity float64) float64 {
	if delta < 0 {
		delta = 0
	}
	return round2(float64(delta) * 100 / capacity)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
