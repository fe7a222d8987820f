// File: core/concurrency/timers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import "time"

// timerEntry is one armed worker timeout. An entry whose seq no longer
// matches the worker's timer sequence was cancelled or re-armed.
type timerEntry struct {
	at  time.Time
	w   *Worker
	seq uint64
}

// timerHeap implements container/heap ordered by deadline.
type timerHeap []timerEntry

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(timerEntry)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = timerEntry{}
	*h = old[:n-1]
	return e
}
