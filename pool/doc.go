// Package pool
// Author: momentics <momentics@gmail.com>
//
// Block-based memory pools and reference-counted, scatter-gather buffers.
//
// A MemoryPool owns a fixed set of equally sized blocks. TakeBufferReq carves
// as many blocks as a request needs and hands them out as the segments of one
// Buffer; several buffers can be merged into one without copying (AddBuffer),
// and Duplicate shares the same blocks between pipeline stages. A block goes
// back to the free list exactly once, when the last segment referencing it is
// released. An exhausted pool returns the null buffer (nil) and, if asked,
// remembers the requester to wake it once blocks are free again.
//
// Buffers carry no lock: hand them between goroutines by transfer of
// ownership only. The pool's block table is guarded by one mutex, so Release
// is safe from any goroutine.
package pool
