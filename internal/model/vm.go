package model

import "time"

// VMDescriptor describes one running VM as resolved at the start of a
// sampling cycle. Descriptors are rebuilt from the inventory on every cycle
// and never cached across cycles: a VM restart can change its backing PID.
type VMDescriptor struct {
	Name      string
	UUID      string
	VCPUCount uint
	PID       int
}

// HasProcess reports whether a backing QEMU process was resolved.
func (d VMDescriptor) HasProcess() bool {
	return d.PID > 0
}

// CPUSnapshot is one point-in-time read of the cumulative CPU tick
// counters relevant to a VM: its process's user/system ticks and the
// host-wide iowait tick counter. Immutable once captured. Two snapshots
// are only comparable while the process identity behind them is unchanged.
type CPUSnapshot struct {
	UserTicks   int64
	SystemTicks int64
	IOWaitTicks int64
	TakenAt     time.Time
}

// UsagePercentages is the derived per-VM result of one sampling cycle,
// normalized to the VM's full vCPU capacity over the sampling window.
// Values are clamped at 0 but carry no upper bound: a reading above 100%
// signals a real anomaly (vCPU oversubscription, counter jump) and is
// exposed rather than truncated.
type UsagePercentages struct {
	UserPct   float64
	SystemPct float64
	IOWaitPct float64
}
