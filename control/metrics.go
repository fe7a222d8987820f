// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Gauges and counters backed by component snapshots, exported in Prometheus
// text format. Counters are refreshed from the snapshots on every scrape.

package control

import (
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/VictoriaMetrics/metrics"

	"github.com/momentics/hioload-daq/api"
)

// ThreadSource exports thread snapshots.
type ThreadSource interface{ Stats() api.ThreadStats }

// PoolSource exports pool snapshots.
type PoolSource interface{ Stats() api.PoolStats }

// TransportSource exports transport snapshots.
type TransportSource interface{ Stats() api.TransportStats }

// Collector owns the metric set of one node.
type Collector struct {
	set     *metrics.Set
	process bool

	mu       sync.Mutex
	refreshers []func()
}

// NewCollector creates an empty collector. With process set, Go runtime and
// process metrics are appended to every scrape.
func NewCollector(process bool) *Collector {
	return &Collector{set: metrics.NewSet(), process: process}
}

func series(name, label, value string) string {
	return fmt.Sprintf(`%s{%s=%q}`, name, label, value)
}

func (c *Collector) gauge(name, label, value string, fn func() float64) {
	c.set.GetOrCreateGauge(series(name, label, value), fn)
}

// counters registers monotonic series that are synced from one snapshot
// per scrape.
func (c *Collector) counters(label, value string, snap func() []uint64, names ...string) {
	cs := make([]*metrics.Counter, len(names))
	for i, name := range names {
		cs[i] = c.set.GetOrCreateCounter(series(name, label, value))
	}
	c.mu.Lock()
	c.refreshers = append(c.refreshers, func() {
		for i, v := range snap() {
			cs[i].Set(v)
		}
	})
	c.mu.Unlock()
}

// RegisterThread adds series for th. Names must be unique per collector.
func (c *Collector) RegisterThread(th ThreadSource) {
	name := th.Stats().Name
	c.gauge("daq_thread_workers", "thread", name, func() float64 { return float64(th.Stats().Workers) })
	c.gauge("daq_thread_queue_length", "thread", name, func() float64 { return float64(th.Stats().QueueLen) })
	c.counters("thread", name, func() []uint64 {
		s := th.Stats()
		return []uint64{s.Dispatched, s.Timeouts}
	}, "daq_thread_dispatched_total", "daq_thread_timeouts_total")
}

// RegisterPool adds series for p.
func (c *Collector) RegisterPool(p PoolSource) {
	name := p.Stats().Name
	c.gauge("daq_pool_blocks", "pool", name, func() float64 { return float64(p.Stats().NumBlocks) })
	c.gauge("daq_pool_free_blocks", "pool", name, func() float64 { return float64(p.Stats().FreeBlocks) })
	c.gauge("daq_pool_requesters", "pool", name, func() float64 { return float64(p.Stats().Requesters) })
	c.counters("pool", name, func() []uint64 {
		s := p.Stats()
		return []uint64{s.Requests, s.Failures}
	}, "daq_pool_requests_total", "daq_pool_failures_total")
}

// RegisterTransport adds series for tr.
func (c *Collector) RegisterTransport(tr TransportSource) {
	name := tr.Stats().Name
	for metric, fn := range map[string]func(api.TransportStats) float64{
		"daq_transport_records_in_use":    func(s api.TransportStats) float64 { return float64(s.RecsInUse) },
		"daq_transport_pending_sends":     func(s api.TransportStats) float64 { return float64(s.PendingSends) },
		"daq_transport_allowed_ops":       func(s api.TransportStats) float64 { return float64(s.AllowedOps) },
		"daq_transport_outstanding_recvs": func(s api.TransportStats) float64 { return float64(s.OutstandRecvs) },
	} {
		fn := fn
		c.gauge(metric, "transport", name, func() float64 { return fn(tr.Stats()) })
	}
	c.counters("transport", name, func() []uint64 {
		s := tr.Stats()
		return []uint64{s.SentBuffers, s.RecvBuffers, s.SentBytes, s.RecvBytes, s.AcksSent, s.AcksRecv, s.Backpressure}
	},
		"daq_transport_sent_buffers_total",
		"daq_transport_recv_buffers_total",
		"daq_transport_sent_bytes_total",
		"daq_transport_recv_bytes_total",
		"daq_transport_acks_sent_total",
		"daq_transport_acks_recv_total",
		"daq_transport_backpressure_total",
	)
}

func (c *Collector) refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, fn := range c.refreshers {
		fn()
	}
}

// WritePrometheus writes every registered metric in text exposition format.
func (c *Collector) WritePrometheus(w io.Writer) {
	c.refresh()
	c.set.WritePrometheus(w)
	if c.process {
		metrics.WriteProcessMetrics(w)
	}
}

// Handler serves WritePrometheus over HTTP.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		c.WritePrometheus(w)
	})
}
