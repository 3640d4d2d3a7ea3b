// Package stream pushes completed cycle results to an optional
// aggregation backend. The Prometheus pull endpoint remains the
// authoritative export surface; this path is fire-and-forget.
package stream

import (
	"context"
	"maps"
	"slices"
	"time"

	"kvirt-exporter/internal/model"
)

type Sink interface {
	SendCPUSamples(ctx context.Context, result model.CycleResult) error
	Close(ctx context.Context) error
}

// CPUSampleFrame is the wire framing for one cycle's results.
type CPUSampleFrame struct {
	NodeID        string              `json:"node_id"`
	TimestampUnix int64               `json:"timestamp_unix"`
	Samples       []model.VMCPUSample `json:"samples"`
}

// NewCPUSampleFrame flattens a cycle result into a frame with samples in
// stable name order.
func NewCPUSampleFrame(nodeID string, result model.CycleResult) CPUSampleFrame {
	frame := CPUSampleFrame{
		NodeID:        nodeID,
		TimestampUnix: time.Now().Unix(),
		Samples:       make([]model.VMCPUSample, 0, len(result)),
	}
	for _, name := range slices.Sorted(maps.Keys(result)) {
		pct := result[name]
		frame.Samples = append(frame.Samples, model.VMCPUSample{
			VMName:    name,
			UserPct:   pct.UserPct,
			SystemPct: pct.SystemPct,
			IOWaitPct: pct.IOWaitPct,
		})
	}
	return frame
}
