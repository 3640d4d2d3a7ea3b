package exporter

import (
	"sync/atomic"
	"time"
)

// HealthStatus is the process-wide health state shared between the
// collection side (writers) and the /healthz endpoint (reader).
type HealthStatus struct {
	libvirtConnected atomic.Bool
	lastCycleAt      atomic.Int64
	lastCycleVMs     atomic.Int64
}

func NewHealthStatus() *HealthStatus {
	return &HealthStatus{}
}

func (h *HealthStatus) SetLibvirtConnected(ok bool) {
	h.libvirtConnected.Store(ok)
}

func (h *HealthStatus) MarkCycle(ts time.Time, vms int) {
	h.lastCycleAt.Store(ts.UnixNano())
	h.lastCycleVMs.Store(int64(vms))
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{
		"libvirt_connected": h.libvirtConnected.Load(),
		"last_cycle_vms":    h.lastCycleVMs.Load(),
	}
	if v := h.lastCycleAt.Load(); v > 0 {
		out["last_cycle_at"] = time.Unix(0, v).UTC()
	}
	return out
}
