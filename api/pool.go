// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Pool-side contracts: requester wake-up and read-only accounting snapshots.

package api

// PoolRequester is woken once a pool that previously returned a null buffer
// has enough free blocks for the registered request. The call happens on the
// goroutine that released the blocks, with no pool lock held; implementations
// must not block and usually just post an event to their own worker.
type PoolRequester interface {
	PoolAvailable(poolName string)
}

// PoolRequesterFunc adapts a function to PoolRequester.
type PoolRequesterFunc func(poolName string)

// PoolAvailable implements PoolRequester.
func (f PoolRequesterFunc) PoolAvailable(poolName string) { f(poolName) }

// PoolStats aggregates block accounting of one memory pool.
type PoolStats struct {
	Name          string
	BlockSize     int
	NumBlocks     int
	FreeBlocks    int
	Requests      uint64
	Failures      uint64
	Requesters    int
	ChangeCounter uint64
}

// InUse returns the number of blocks referenced by live buffers.
func (s PoolStats) InUse() int { return s.NumBlocks - s.FreeBlocks }
