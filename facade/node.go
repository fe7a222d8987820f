// File: facade/node.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Node aggregates the threads, pools and transports of one DAQ process
// behind a single facade built from configuration. It also owns the
// monitoring boundary (metrics collector and debug probes).

package facade

import (
	"errors"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/config"
	"github.com/momentics/hioload-daq/control"
	"github.com/momentics/hioload-daq/core/concurrency"
	"github.com/momentics/hioload-daq/pool"
	"github.com/momentics/hioload-daq/transport"
)

// Node is the main facade type.
type Node struct {
	cfg *config.Config
	log *zap.Logger

	threads    *xsync.MapOf[string, *concurrency.Thread]
	pools      *pool.Manager
	transports *xsync.MapOf[string, *transport.Transport]

	metrics *control.Collector
	probes  *control.DebugProbes

	mu      sync.Mutex
	started bool
	stopped bool
}

// New constructs the threads and pools described by cfg. Nothing runs until
// Start.
func New(cfg *config.Config, log *zap.Logger) (*Node, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	n := &Node{
		cfg:        cfg,
		log:        log.With(zap.String("node", cfg.NodeName)),
		threads:    xsync.NewMapOf[string, *concurrency.Thread](),
		pools:      pool.NewManager(log),
		transports: xsync.NewMapOf[string, *transport.Transport](),
		metrics:    control.NewCollector(true),
		probes:     control.NewDebugProbes(),
	}
	for _, tc := range cfg.Threads {
		th := concurrency.NewThread(tc.Name, concurrency.WithLogger(n.log), concurrency.WithCPU(tc.CPU))
		if _, loaded := n.threads.LoadOrStore(tc.Name, th); loaded {
			return nil, api.NewError(api.KindObject, "facade.New", "duplicate thread").WithContext("thread", tc.Name)
		}
		n.metrics.RegisterThread(th)
		n.probes.RegisterThread(th)
	}
	for _, pc := range cfg.Pools {
		p, err := n.pools.Create(pc.Name, pool.Config{BlockSize: pc.BlockSize, NumBlocks: pc.NumBlocks, MaxBlocks: pc.MaxBlocks})
		if err != nil {
			return nil, err
		}
		n.metrics.RegisterPool(p)
		n.probes.RegisterPool(p)
	}
	return n, nil
}

// Start launches every thread. Repeated calls have no effect; a stopped
// node cannot be restarted.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return concurrency.ErrThreadClosed
	}
	if n.started {
		return nil
	}
	var err error
	n.threads.Range(func(name string, th *concurrency.Thread) bool {
		if err = th.Start(); err != nil {
			err = api.Wrap(api.KindObject, "facade.Start", err)
			return false
		}
		return true
	})
	if err != nil {
		return err
	}
	n.started = true
	n.log.Info("node started", zap.Int("threads", n.threads.Size()), zap.Int("pools", len(n.pools.Stats())))
	return nil
}

// Thread returns the named thread.
func (n *Node) Thread(name string) (*concurrency.Thread, bool) { return n.threads.Load(name) }

// Pool returns the named pool.
func (n *Node) Pool(name string) (*pool.MemoryPool, bool) { return n.pools.Get(name) }

// Pools returns the pool registry.
func (n *Node) Pools() *pool.Manager { return n.pools }

// Transport returns the named transport.
func (n *Node) Transport(name string) (*transport.Transport, bool) { return n.transports.Load(name) }

// Metrics returns the node's metric collector.
func (n *Node) Metrics() *control.Collector { return n.metrics }

// Probes returns the node's debug probes.
func (n *Node) Probes() *control.DebugProbes { return n.probes }

// TransportConfig converts the configured transport section.
func (n *Node) TransportConfig() transport.Config {
	tc := n.cfg.Transport
	return transport.Config{
		InputQueue:     tc.InputQueue,
		OutputQueue:    tc.OutputQueue,
		InlineDataSize: tc.InlineDataSize,
		UseAckn:        tc.UseAckn,
		BufferSize:     tc.BufferSize,
	}
}

// AddTransport creates and starts a transport over iface on the configured
// pool and thread. The transport is removed from the node once it closes.
func (n *Node) AddTransport(name string, iface transport.NetworkInterface) (*transport.Transport, error) {
	n.mu.Lock()
	running := n.started && !n.stopped
	n.mu.Unlock()
	if !running {
		return nil, api.NewError(api.KindObject, "facade.AddTransport", "node not running")
	}
	tc := n.cfg.Transport
	p, ok := n.pools.Get(tc.Pool)
	if !ok {
		return nil, api.NewError(api.KindPool, "facade.AddTransport", "unknown pool").WithContext("pool", tc.Pool)
	}
	th, ok := n.threads.Load(tc.Thread)
	if !ok {
		return nil, api.NewError(api.KindObject, "facade.AddTransport", "unknown thread").WithContext("thread", tc.Thread)
	}
	tr, err := transport.New(name, n.TransportConfig(), iface, p, transport.WithLogger(n.log))
	if err != nil {
		return nil, err
	}
	if _, loaded := n.transports.LoadOrStore(name, tr); loaded {
		return nil, api.NewError(api.KindObject, "facade.AddTransport", "duplicate transport").WithContext("transport", name)
	}
	if err := tr.Start(th); err != nil {
		n.transports.Delete(name)
		return nil, err
	}
	n.metrics.RegisterTransport(tr)
	n.probes.RegisterTransport(tr)
	go func() {
		<-tr.Done()
		n.transports.Compute(name, func(cur *transport.Transport, loaded bool) (*transport.Transport, bool) {
			return cur, !loaded || cur == tr
		})
	}()
	return tr, nil
}

// Stop closes all transports, then stops all threads, each within timeout.
func (n *Node) Stop(timeout time.Duration) error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	n.mu.Unlock()

	n.transports.Range(func(_ string, tr *transport.Transport) bool {
		_ = tr.Close()
		return true
	})
	var errs []error
	n.threads.Range(func(_ string, th *concurrency.Thread) bool {
		if err := th.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
		return true
	})
	n.log.Info("node stopped")
	return errors.Join(errs...)
}
