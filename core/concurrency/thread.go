// Package concurrency implements the cooperative scheduler: a Thread runs one
// event loop on a locked OS thread and dispatches events, commands and
// timeouts for the Workers assigned to it.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"container/heap"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-daq/affinity"
	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/core/command"
)

// MaxExecuteDepth bounds nested cooperative Execute calls on one thread.
const MaxExecuteDepth = 16

// ThreadOption customizes a Thread.
type ThreadOption func(*Thread)

// WithLogger sets the thread logger.
func WithLogger(log *zap.Logger) ThreadOption {
	return func(t *Thread) {
		if log != nil {
			t.log = log
		}
	}
}

// WithCPU pins the thread to a logical CPU. Negative disables pinning.
func WithCPU(cpu int) ThreadOption {
	return func(t *Thread) { t.cpu = cpu }
}

// Thread is a single event loop hosting many workers.
type Thread struct {
	name string
	log  *zap.Logger
	cpu  int

	mu      sync.Mutex
	queue   *levelQueue
	timers  timerHeap
	workers map[uint32]*Worker
	nextID  uint32
	started bool
	closed  bool

	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	loopG   atomic.Int64 // goroutine id of the running loop
	timer   *time.Timer
	depth   int // nested Execute calls, loop only
	stopped sync.Once

	dispatched atomic.Uint64
	timeouts   atomic.Uint64
}

// NewThread creates a thread; call Start to run its loop.
func NewThread(name string, opts ...ThreadOption) *Thread {
	t := &Thread{
		name:    name,
		log:     zap.NewNop(),
		cpu:     -1,
		queue:   newLevelQueue(),
		workers: make(map[uint32]*Worker),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(zap.String("thread", name))
	return t
}

// Name returns the thread name.
func (t *Thread) Name() string { return t.name }

// Start launches the loop goroutine and returns once it runs.
func (t *Thread) Start() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrThreadClosed
	}
	if t.started {
		t.mu.Unlock()
		return ErrThreadRunning
	}
	t.started = true
	t.mu.Unlock()

	ready := make(chan struct{})
	go t.run(ready)
	<-ready
	return nil
}

// Stop terminates the loop and waits up to timeout for it to exit. Queued
// commands are failed with a stop error. Calling Stop from the loop itself
// does not wait.
func (t *Thread) Stop(timeout time.Duration) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	started := t.started
	t.mu.Unlock()

	close(t.quit)
	if !started {
		t.drain()
		return nil
	}
	if t.OnLoop() {
		return nil
	}
	if timeout <= 0 {
		<-t.done
		return nil
	}
	select {
	case <-t.done:
		return nil
	case <-time.After(timeout):
		return api.Wrap(api.KindTimeout, "thread.Stop", api.ErrTimeout)
	}
}

// Done is closed once the loop has exited.
func (t *Thread) Done() <-chan struct{} { return t.done }

// OnLoop reports whether the caller runs on this thread's loop.
func (t *Thread) OnLoop() bool {
	g := t.loopG.Load()
	return g != 0 && g == goid()
}

// NumWorkers returns the number of assigned workers.
func (t *Thread) NumWorkers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.workers)
}

// QueueLen returns the number of pending dispatch items.
func (t *Thread) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queue.len()
}

// Stats returns a counter snapshot.
func (t *Thread) Stats() api.ThreadStats {
	t.mu.Lock()
	workers, qlen := len(t.workers), t.queue.len()
	t.mu.Unlock()
	return api.ThreadStats{
		Name:       t.name,
		Workers:    workers,
		QueueLen:   qlen,
		Dispatched: t.dispatched.Load(),
		Timeouts:   t.timeouts.Load(),
	}
}

func (t *Thread) run(ready chan<- struct{}) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(t.done)
	defer t.drain()

	if t.cpu >= 0 {
		if err := affinity.Pin(t.cpu); err != nil {
			t.log.Warn("cpu pinning failed", zap.Int("cpu", t.cpu), zap.Error(err))
		}
	}
	t.loopG.Store(goid())
	t.timer = time.NewTimer(time.Hour)
	t.timer.Stop()
	close(ready)

	t.log.Debug("thread started", zap.Int("tid", affinity.ThreadID()))
	for !t.isQuitting() {
		t.serveOne(time.Time{}, nil)
	}
	t.log.Debug("thread stopped", zap.Uint64("dispatched", t.dispatched.Load()))
}

// signal wakes the loop if it is idle.
func (t *Thread) signal() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// enqueueLocked appends it and accounts it to its worker.
func (t *Thread) enqueueLocked(priority int, it *item) {
	t.queue.push(priority, it)
	it.w.pending++
}

// serveOne dispatches one due timeout or queued item. When there is nothing
// to do it waits for work, until the deadline passes or stop is closed.
// It returns false when the wait ended because of the deadline, stop or quit.
func (t *Thread) serveOne(until time.Time, stop <-chan struct{}) bool {
	select {
	case <-t.quit:
		return false
	default:
	}

	t.mu.Lock()
	now := time.Now()
	if w, last, ok := t.popDueTimerLocked(now); ok {
		t.mu.Unlock()
		t.fireTimeout(w, last, now)
		return true
	}
	if it, ok := t.queue.pop(); ok {
		it.w.pending--
		t.mu.Unlock()
		t.dispatch(it)
		return true
	}
	var next time.Time
	if len(t.timers) > 0 {
		next = t.timers[0].at
	}
	t.mu.Unlock()

	if !until.IsZero() && (next.IsZero() || until.Before(next)) {
		next = until
	}
	var timerC <-chan time.Time
	if !next.IsZero() {
		d := next.Sub(now)
		if d <= 0 {
			return false
		}
		t.timer.Reset(d)
		defer t.timer.Stop()
		timerC = t.timer.C
	}
	select {
	case <-t.wake:
		return true
	case <-timerC:
		return until.IsZero() || time.Now().Before(until)
	case <-stop:
		return false
	case <-t.quit:
		return false
	}
}

// serveUntil keeps dispatching until done is closed, the deadline passes or
// the thread quits. It reports whether done was closed.
func (t *Thread) serveUntil(done <-chan struct{}, until time.Time) bool {
	for {
		select {
		case <-done:
			return true
		default:
		}
		if !t.serveOne(until, done) {
			select {
			case <-done:
				return true
			default:
			}
			if t.isQuitting() || (!until.IsZero() && !time.Now().Before(until)) {
				return false
			}
		}
	}
}

func (t *Thread) isQuitting() bool {
	select {
	case <-t.quit:
		return true
	default:
		return false
	}
}

func (t *Thread) popDueTimerLocked(now time.Time) (*Worker, time.Time, bool) {
	for len(t.timers) > 0 && !t.timers[0].at.After(now) {
		e := heap.Pop(&t.timers).(timerEntry)
		w := e.w
		if e.seq != w.timerSeq || w.State() != WorkerActive || w.thread.Load() != t {
			continue
		}
		last := w.lastTimeout
		w.lastTimeout = now
		return w, last, true
	}
	return nil, time.Time{}, false
}

func (t *Thread) fireTimeout(w *Worker, last, now time.Time) {
	t.timeouts.Add(1)
	if w.timeouts == nil {
		return
	}
	var next float64
	func() {
		defer t.recoverHandler(w, nil)
		next = w.timeouts.ProcessTimeout(now.Sub(last).Seconds())
	}()
	if next >= 0 {
		w.ActivateTimeout(next)
	}
}

func (t *Thread) dispatch(it *item) {
	t.dispatched.Add(1)
	w := it.w
	switch it.kind {
	case itemEvent:
		if w.events != nil {
			defer t.recoverHandler(w, nil)
			w.events.ProcessEvent(it.ev)
		}
	case itemCommand:
		defer t.recoverHandler(w, it.cmd)
		w.runCommand(it.cmd)
	case itemAssign:
		if w.assign != nil {
			defer close(it.done)
			defer t.recoverHandler(w, nil)
			w.assign.OnThreadAssigned()
			return
		}
		close(it.done)
	case itemHalt:
		w.haltStep(t, it)
	}
}

// recoverHandler keeps a panicking handler from taking the loop down.
func (t *Thread) recoverHandler(w *Worker, cmd *command.Command) {
	r := recover()
	if r == nil {
		return
	}
	err := api.NewError(api.KindGeneric, "worker", fmt.Sprintf("handler panic: %v", r)).
		WithContext("worker", w.name)
	t.log.Error("handler panic", zap.String("worker", w.name), zap.Any("panic", r))
	if cmd != nil {
		cmd.Fail(err)
	}
}

// drain runs once the loop has exited, or from Stop on a never started
// thread. It fails queued commands and detaches every worker.
func (t *Thread) drain() {
	t.stopped.Do(func() {
		t.mu.Lock()
		var items []*item
		for {
			it, ok := t.queue.pop()
			if !ok {
				break
			}
			it.w.pending--
			items = append(items, it)
		}
		workers := make([]*Worker, 0, len(t.workers))
		for id, w := range t.workers {
			workers = append(workers, w)
			delete(t.workers, id)
		}
		t.timers = nil
		t.mu.Unlock()

		for _, it := range items {
			switch it.kind {
			case itemCommand:
				it.cmd.Fail(ErrThreadClosed)
			case itemAssign, itemHalt:
				close(it.done)
			}
		}
		for _, w := range workers {
			w.detach(t)
		}
	})
}

// String implements fmt.Stringer.
func (t *Thread) String() string {
	s := t.Stats()
	return fmt.Sprintf("thread %s: %d workers, %d queued", s.Name, s.Workers, s.QueueLen)
}
