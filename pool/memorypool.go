// File: pool/memorypool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-block memory pool with generation-checked blocks and requester wake-up.

package pool

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/internal/debug"
)

// Config sizes a memory pool. MaxBlocks bounds Expand; zero means NumBlocks.
type Config struct {
	BlockSize int
	NumBlocks int
	MaxBlocks int
}

var (
	// ErrInvalidRequest reports negative sizes or a header region larger than
	// one block. Such a request never succeeds.
	ErrInvalidRequest = api.NewError(api.KindPool, "", "invalid buffer request")

	// ErrRequestTooLarge reports a request needing more blocks than the pool
	// can ever hold, even after Expand up to MaxBlocks.
	ErrRequestTooLarge = api.NewError(api.KindPool, "", "request exceeds pool capacity")
)

// Option customizes a MemoryPool.
type Option func(*MemoryPool)

// WithLogger sets the logger used for pool diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(p *MemoryPool) {
		if log != nil {
			p.log = log
		}
	}
}

type block struct {
	data []byte
	refs int32
	gen  uint32
}

type pendingRequest struct {
	req    api.PoolRequester
	blocks int
}

// MemoryPool owns a set of fixed-size blocks for one named pool.
type MemoryPool struct {
	name string
	cfg  Config
	log  *zap.Logger

	mu         sync.Mutex
	blocks     []block
	free       []int // stack of free block ids
	requesters []pendingRequest
	changes    uint64
	requests   uint64
	failures   uint64
}

// New creates a pool of cfg.NumBlocks blocks of cfg.BlockSize bytes.
func New(name string, cfg Config, opts ...Option) (*MemoryPool, error) {
	if cfg.BlockSize <= 0 || cfg.NumBlocks <= 0 {
		return nil, api.NewError(api.KindPool, "pool.New", "block size and count must be positive").
			WithContext("pool", name)
	}
	if cfg.MaxBlocks == 0 {
		cfg.MaxBlocks = cfg.NumBlocks
	}
	if cfg.MaxBlocks < cfg.NumBlocks {
		return nil, api.NewError(api.KindPool, "pool.New", "max blocks below initial block count").
			WithContext("pool", name)
	}
	p := &MemoryPool{
		name: name,
		cfg:  cfg,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(zap.String("pool", name))
	p.addBlocksLocked(cfg.NumBlocks)
	return p, nil
}

// Name returns the pool name.
func (p *MemoryPool) Name() string { return p.name }

// BlockSize returns the size of every block.
func (p *MemoryPool) BlockSize() int { return p.cfg.BlockSize }

// NumBlocks returns the current number of blocks.
func (p *MemoryPool) NumBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}

// FreeBlocks returns the number of blocks on the free list.
func (p *MemoryPool) FreeBlocks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// ChangeCounter is incremented whenever the block layout changes. Consumers
// caching per-block metadata (registered memory keys) refresh on change.
func (p *MemoryPool) ChangeCounter() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changes
}

// Stats returns an accounting snapshot.
func (p *MemoryPool) Stats() api.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return api.PoolStats{
		Name:          p.name,
		BlockSize:     p.cfg.BlockSize,
		NumBlocks:     len(p.blocks),
		FreeBlocks:    len(p.free),
		Requests:      p.requests,
		Failures:      p.failures,
		Requesters:    len(p.requesters),
		ChangeCounter: p.changes,
	}
}

// BlocksFor returns how many blocks a request of size+headerReserve occupies.
func (p *MemoryPool) BlocksFor(size, headerReserve int) int {
	return (size + headerReserve + p.cfg.BlockSize - 1) / p.cfg.BlockSize
}

// Expand adds n blocks, bounded by MaxBlocks, and wakes waiting requesters.
func (p *MemoryPool) Expand(n int) error {
	if n <= 0 {
		return nil
	}
	p.mu.Lock()
	if len(p.blocks)+n > p.cfg.MaxBlocks {
		p.mu.Unlock()
		return api.NewError(api.KindPool, "pool.Expand", "pool would exceed max blocks").
			WithContext("pool", p.name).WithContext("max", p.cfg.MaxBlocks)
	}
	p.addBlocksLocked(n)
	wake := p.takeWakeableLocked()
	p.mu.Unlock()

	p.log.Debug("pool expanded", zap.Int("added", n))
	notify(p.name, wake)
	return nil
}

func (p *MemoryPool) addBlocksLocked(n int) {
	base := len(p.blocks)
	for i := 0; i < n; i++ {
		p.blocks = append(p.blocks, block{data: make([]byte, p.cfg.BlockSize)})
	}
	// push in reverse so low ids are handed out first
	for id := base + n - 1; id >= base; id-- {
		p.free = append(p.free, id)
	}
	p.changes++
}

// TakeEmptyBuffer returns a zero-length, non-null buffer used as an
// accumulation target for AddBuffer.
func (p *MemoryPool) TakeEmptyBuffer() *Buffer {
	return &Buffer{}
}

// CheckRequest reports whether a request of size payload bytes after a
// header region of headerReserve bytes can ever be served. A non-nil error
// wraps ErrInvalidRequest or ErrRequestTooLarge.
func (p *MemoryPool) CheckRequest(size, headerReserve int) error {
	if size < 0 || headerReserve < 0 || headerReserve > p.cfg.BlockSize {
		return api.NewError(api.KindPool, "pool.CheckRequest", ErrInvalidRequest.Msg).
			WithContext("pool", p.name).WithContext("size", size).WithContext("header", headerReserve)
	}
	if n := p.BlocksFor(size, headerReserve); n > p.cfg.MaxBlocks {
		return api.NewError(api.KindPool, "pool.CheckRequest", ErrRequestTooLarge.Msg).
			WithContext("pool", p.name).WithContext("blocks", n).WithContext("max", p.cfg.MaxBlocks)
	}
	return nil
}

// TakeBufferReq returns a buffer holding size payload bytes after a header
// region of headerReserve bytes. A nil result means the pool is momentarily
// exhausted; retry later or use TakeBufferReqFor. Requests rejected by
// CheckRequest also yield nil and are never retried successfully.
func (p *MemoryPool) TakeBufferReq(size, headerReserve int) *Buffer {
	return p.take(size, headerReserve, nil)
}

// TakeBufferReqFor behaves like TakeBufferReq and, when the pool is
// exhausted, registers req to be woken once enough blocks are free. Requests
// rejected by CheckRequest are never registered.
func (p *MemoryPool) TakeBufferReqFor(size, headerReserve int, req api.PoolRequester) *Buffer {
	return p.take(size, headerReserve, req)
}

// CancelRequester drops every pending registration of req.
func (p *MemoryPool) CancelRequester(req api.PoolRequester) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.requesters[:0]
	for _, r := range p.requesters {
		if r.req != req {
			kept = append(kept, r)
		}
	}
	for i := len(kept); i < len(p.requesters); i++ {
		p.requesters[i] = pendingRequest{}
	}
	p.requesters = kept
}

func (p *MemoryPool) take(size, headerReserve int, req api.PoolRequester) *Buffer {
	if err := p.CheckRequest(size, headerReserve); err != nil {
		p.mu.Lock()
		p.requests++
		p.failures++
		p.mu.Unlock()
		p.log.Error("buffer request rejected", zap.Error(err))
		return nil
	}
	if size+headerReserve == 0 {
		return p.TakeEmptyBuffer()
	}
	n := p.BlocksFor(size, headerReserve)

	p.mu.Lock()
	p.requests++
	if len(p.free) < n {
		p.failures++
		if req != nil {
			p.requesters = append(p.requesters, pendingRequest{req: req, blocks: n})
		}
		p.mu.Unlock()
		return nil
	}
	buf := &Buffer{segs: make([]segment, 0, n)}
	remaining := size
	for i := 0; i < n; i++ {
		id := p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
		b := &p.blocks[id]
		off := 0
		if i == 0 && headerReserve > 0 {
			b.refs++
			buf.hdr = segment{pool: p, id: id, gen: b.gen, data: b.data[:headerReserve]}
			buf.hdrSize = headerReserve
			off = headerReserve
		}
		l := min(remaining, len(b.data)-off)
		if l > 0 {
			b.refs++
			buf.segs = append(buf.segs, segment{pool: p, id: id, gen: b.gen, data: b.data[off : off+l]})
			remaining -= l
		}
	}
	p.mu.Unlock()
	return buf
}

// acquire adds one reference to every segment; it fails without side effects
// if any segment refers to a block that was already recycled.
func (p *MemoryPool) acquire(segs []segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range segs {
		if err := p.checkLocked(s); err != nil {
			return err
		}
	}
	for _, s := range segs {
		p.blocks[s.id].refs++
	}
	return nil
}

func (p *MemoryPool) validate(segs []segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range segs {
		if err := p.checkLocked(s); err != nil {
			return err
		}
	}
	return nil
}

func (p *MemoryPool) checkLocked(s segment) error {
	if s.id < 0 || s.id >= len(p.blocks) {
		return api.NewError(api.KindPointer, "pool", "segment refers to unknown block").
			WithContext("pool", p.name).WithContext("block", s.id)
	}
	b := &p.blocks[s.id]
	if b.gen != s.gen || b.refs <= 0 {
		return api.NewError(api.KindBuffer, "pool", "segment refers to a released block").
			WithContext("pool", p.name).WithContext("block", s.id)
	}
	return nil
}

// release drops one reference per segment and recycles blocks reaching zero.
func (p *MemoryPool) release(segs []segment) {
	p.mu.Lock()
	for _, s := range segs {
		if err := p.checkLocked(s); err != nil {
			debug.Assert(false, p.log, "double release", zap.Error(err))
			continue
		}
		b := &p.blocks[s.id]
		b.refs--
		if b.refs == 0 {
			b.gen++
			p.free = append(p.free, s.id)
		}
	}
	wake := p.takeWakeableLocked()
	p.mu.Unlock()

	notify(p.name, wake)
}

// takeWakeableLocked removes, in FIFO order, the requesters whose block
// demand fits into the current free list.
func (p *MemoryPool) takeWakeableLocked() []api.PoolRequester {
	if len(p.requesters) == 0 {
		return nil
	}
	avail := len(p.free)
	var wake []api.PoolRequester
	i := 0
	for ; i < len(p.requesters) && p.requesters[i].blocks <= avail; i++ {
		avail -= p.requesters[i].blocks
		wake = append(wake, p.requesters[i].req)
	}
	if i > 0 {
		n := copy(p.requesters, p.requesters[i:])
		for j := n; j < len(p.requesters); j++ {
			p.requesters[j] = pendingRequest{}
		}
		p.requesters = p.requesters[:n]
	}
	return wake
}

func notify(name string, wake []api.PoolRequester) {
	for _, r := range wake {
		r.PoolAvailable(name)
	}
}

// String implements fmt.Stringer.
func (p *MemoryPool) String() string {
	s := p.Stats()
	return fmt.Sprintf("pool %s: %d/%d free, %d B blocks", s.Name, s.FreeBlocks, s.NumBlocks, s.BlockSize)
}
