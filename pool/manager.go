// File: pool/manager.go
// Author: momentics <momentics@gmail.com>
//
// Named registry of memory pools shared by the components of one node.

package pool

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/momentics/hioload-daq/api"
)

// Manager provides named pools for one node.
type Manager struct {
	pools *xsync.MapOf[string, *MemoryPool]
	log   *zap.Logger
}

// NewManager creates and initializes a new manager.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		pools: xsync.NewMapOf[string, *MemoryPool](),
		log:   log,
	}
}

// Create builds a pool and registers it under name.
func (m *Manager) Create(name string, cfg Config) (*MemoryPool, error) {
	p, err := New(name, cfg, WithLogger(m.log))
	if err != nil {
		return nil, err
	}
	if _, loaded := m.pools.LoadOrStore(name, p); loaded {
		return nil, api.NewError(api.KindPool, "pool.Create", "pool already exists").WithContext("pool", name)
	}
	m.log.Info("memory pool created",
		zap.String("pool", name), zap.Int("block_size", cfg.BlockSize), zap.Int("blocks", cfg.NumBlocks))
	return p, nil
}

// Get returns the named pool.
func (m *Manager) Get(name string) (*MemoryPool, bool) {
	return m.pools.Load(name)
}

// Each calls fn for every pool in name order.
func (m *Manager) Each(fn func(*MemoryPool)) {
	names := make([]string, 0, m.pools.Size())
	m.pools.Range(func(name string, _ *MemoryPool) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	for _, n := range names {
		if p, ok := m.pools.Load(n); ok {
			fn(p)
		}
	}
}

// Stats returns snapshots of all pools in name order.
func (m *Manager) Stats() []api.PoolStats {
	var out []api.PoolStats
	m.Each(func(p *MemoryPool) { out = append(out, p.Stats()) })
	return out
}
