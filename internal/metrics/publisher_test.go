package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"kvirt-exporter/internal/model"
)

func newTestRegistry(t *testing.T, p *Publisher) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	if err := reg.Register(p); err != nil {
		t.Fatalf("register publisher: %v", err)
	}
	return reg
}

func TestPublishExportsGauges(t *testing.T) {
	p := NewPublisher(3)
	reg := newTestRegistry(t, p)

	p.Publish(model.CycleResult{
		"web01": {UserPct: 12.5, SystemPct: 3.75, IOWaitPct: 0.5},
	})

	expected := `
# HELP vm_cpu_user_percent User CPU usage percentage for VM
# TYPE vm_cpu_user_percent gauge
vm_cpu_user_percent{vm="web01"} 12.5
# HELP vm_cpu_system_percent System CPU usage percentage for VM
# TYPE vm_cpu_system_percent gauge
vm_cpu_system_percent{vm="web01"} 3.75
# HELP vm_cpu_iowait_percent Iowait CPU usage percentage for VM
# TYPE vm_cpu_iowait_percent gauge
vm_cpu_iowait_percent{vm="web01"} 0.5
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected)); err != nil {
		t.Error(err)
	}
}

func TestPublishReplacesOnWrite(t *testing.T) {
	p := NewPublisher(3)
	newTestRegistry(t, p)

	p.Publish(model.CycleResult{"web01": {UserPct: 10}})
	p.Publish(model.CycleResult{"web01": {UserPct: 250}})

	// Values above 100 pass through unclamped.
	got := testutil.ToFloat64(p.user.WithLabelValues("web01"))
	if got != 250 {
		t.Errorf("user gauge = %v, want 250", got)
	}
}

func TestPublishExpiresDisappearedVM(t *testing.T) {
	p := NewPublisher(3)
	newTestRegistry(t, p)

	p.Publish(model.CycleResult{"web01": {UserPct: 10, SystemPct: 5, IOWaitPct: 1}})
	if n := testutil.CollectAndCount(p); n != 3 {
		t.Fatalf("series count = %d, want 3", n)
	}

	// Two missed cycles keep the stale series exposed.
	p.Publish(model.CycleResult{})
	p.Publish(model.CycleResult{})
	if n := testutil.CollectAndCount(p); n != 3 {
		t.Errorf("series count after 2 missed cycles = %d, want 3", n)
	}

	// The third missed cycle expires it.
	p.Publish(model.CycleResult{})
	if n := testutil.CollectAndCount(p); n != 0 {
		t.Errorf("series count after 3 missed cycles = %d, want 0", n)
	}
}

func TestPublishMissedCounterResetsOnReturn(t *testing.T) {
	p := NewPublisher(2)
	newTestRegistry(t, p)

	p.Publish(model.CycleResult{"web01": {UserPct: 10}})
	p.Publish(model.CycleResult{})
	// VM returns before the threshold; the missed counter starts over.
	p.Publish(model.CycleResult{"web01": {UserPct: 20}})
	p.Publish(model.CycleResult{})
	if n := testutil.CollectAndCount(p); n != 3 {
		t.Errorf("series count = %d, want 3 after a single missed cycle", n)
	}
	p.Publish(model.CycleResult{})
	if n := testutil.CollectAndCount(p); n != 0 {
		t.Errorf("series count = %d, want 0 after reaching the threshold", n)
	}
}

func TestPublishStaleAfterZeroNeverExpires(t *testing.T) {
	p := NewPublisher(0)
	newTestRegistry(t, p)

	p.Publish(model.CycleResult{"web01": {UserPct: 10}})
	for i := 0; i < 10; i++ {
		p.Publish(model.CycleResult{})
	}
	if n := testutil.CollectAndCount(p); n != 3 {
		t.Errorf("series count = %d, want 3 (stale values kept forever)", n)
	}
}

func TestPublishIndependentVMs(t *testing.T) {
	p := NewPublisher(1)
	newTestRegistry(t, p)

	p.Publish(model.CycleResult{
		"web01": {UserPct: 10},
		"db01":  {UserPct: 20},
	})
	p.Publish(model.CycleResult{"web01": {UserPct: 11}})

	if got := testutil.ToFloat64(p.user.WithLabelValues("web01")); got != 11 {
		t.Errorf("web01 user gauge = %v, want 11", got)
	}
	// db01 expired immediately with staleAfter=1.
	if n := testutil.CollectAndCount(p); n != 3 {
		t.Errorf("series count = %d, want 3", n)
	}
}
