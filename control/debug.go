// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named probes returning component snapshots for ad-hoc inspection.

package control

import (
	"runtime"
	"sync"

	"github.com/momentics/hioload-daq/affinity"
)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry with the platform probes.
func NewDebugProbes() *DebugProbes {
	dp := &DebugProbes{
		probes: make(map[string]func() any),
	}
	dp.RegisterProbe("platform.cpus", func() any { return runtime.NumCPU() })
	dp.RegisterProbe("platform.affinity", func() any {
		if !affinity.Supported() {
			return "unsupported"
		}
		cpus, err := affinity.Allowed()
		if err != nil {
			return err.Error()
		}
		return cpus
	})
	return dp
}

// RegisterProbe inserts a named debug hook, replacing any previous one.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// RegisterThread exposes th under "thread.<name>".
func (dp *DebugProbes) RegisterThread(th ThreadSource) {
	dp.RegisterProbe("thread."+th.Stats().Name, func() any { return th.Stats() })
}

// RegisterPool exposes p under "pool.<name>".
func (dp *DebugProbes) RegisterPool(p PoolSource) {
	dp.RegisterProbe("pool."+p.Stats().Name, func() any { return p.Stats() })
}

// RegisterTransport exposes tr under "transport.<name>".
func (dp *DebugProbes) RegisterTransport(tr TransportSource) {
	dp.RegisterProbe("transport."+tr.Stats().Name, func() any { return tr.Stats() })
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any, len(dp.probes))
	for k, fn := range dp.probes {
		out[k] = fn()
	}
	return out
}
