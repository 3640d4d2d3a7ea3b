// Package metrics exposes per-VM CPU percentages as Prometheus gauges.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"kvirt-exporter/internal/model"
)

// Publisher holds the three per-VM gauge families and applies the cycle
// results with replace-on-write semantics. A VM absent from staleAfter
// consecutive cycles has its series deleted; staleAfter <= 0 keeps the
// last known value forever.
type Publisher struct {
	user   *prometheus.GaugeVec
	system *prometheus.GaugeVec
	iowait *prometheus.GaugeVec

	staleAfter int

	mu     sync.Mutex
	missed map[string]int
}

func NewPublisher(staleAfter int) *Publisher {
	return &Publisher{
		user: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vm_cpu_user_percent",
			Help: "User CPU usage percentage for VM",
		}, []string{"vm"}),
		system: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vm_cpu_system_percent",
			Help: "System CPU usage percentage for VM",
		}, []string{"vm"}),
		iowait: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vm_cpu_iowait_percent",
			Help: "Iowait CPU usage percentage for VM",
		}, []string{"vm"}),
		staleAfter: staleAfter,
		missed:     make(map[string]int),
	}
}

// Publish applies one completed cycle. VMs present in the result get their
// gauges replaced; tracked VMs missing from it accrue a missed cycle and
// expire once the threshold is reached.
func (p *Publisher) Publish(result model.CycleResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for name, pct := range result {
		p.user.WithLabelValues(name).Set(pct.UserPct)
		p.system.WithLabelValues(name).Set(pct.SystemPct)
		p.iowait.WithLabelValues(name).Set(pct.IOWaitPct)
		p.missed[name] = 0
	}

	for name, count := range p.missed {
		if _, ok := result[name]; ok {
			continue
		}
		count++
		if p.staleAfter > 0 && count >= p.staleAfter {
			p.user.DeleteLabelValues(name)
			p.system.DeleteLabelValues(name)
			p.iowait.DeleteLabelValues(name)
			delete(p.missed, name)
			continue
		}
		p.missed[name] = count
	}
}

// Describe implements prometheus.Collector.
func (p *Publisher) Describe(ch chan<- *prometheus.Desc) {
	p.user.Describe(ch)
	p.system.Describe(ch)
	p.iowait.Describe(ch)
}

// Collect implements prometheus.Collector. Scrapes read last-published
// values only; they never trigger a fresh sample.
func (p *Publisher) Collect(ch chan<- prometheus.Metric) {
	p.user.Collect(ch)
	p.system.Collect(ch)
	p.iowait.Collect(ch)
}
