// File: core/concurrency/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Multi-level FIFO of pending dispatch items. Not synchronized; the owning
// Thread guards it with its mutex.

package concurrency

import (
	"github.com/eapache/queue"

	"github.com/momentics/hioload-daq/core/command"
)

type itemKind uint8

const (
	itemEvent itemKind = iota
	itemCommand
	itemAssign
	itemHalt
)

type item struct {
	kind itemKind
	w    *Worker
	ev   Event
	cmd  *command.Command
	done chan struct{}
}

type levelQueue struct {
	levels [numLevels]*queue.Queue
	n      int
}

func newLevelQueue() *levelQueue {
	q := &levelQueue{}
	for i := range q.levels {
		q.levels[i] = queue.New()
	}
	return q
}

func (q *levelQueue) push(priority int, it *item) {
	q.levels[level(priority)].Add(it)
	q.n++
}

// pop returns the oldest item of the most urgent non-empty level.
func (q *levelQueue) pop() (*item, bool) {
	for _, l := range q.levels {
		if l.Length() > 0 {
			q.n--
			return l.Remove().(*item), true
		}
	}
	return nil, false
}

func (q *levelQueue) len() int { return q.n }

func (q *levelQueue) lenAt(priority int) int { return q.levels[level(priority)].Length() }
