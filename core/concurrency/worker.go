// File: core/concurrency/worker.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Worker is a schedulable unit bound to one Thread at a time. Cross-thread
// interaction only happens by enqueuing events and commands.

package concurrency

import (
	"container/heap"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/core/command"
)

// WorkerState is the lifecycle state of a worker.
type WorkerState int32

const (
	WorkerInactive WorkerState = iota
	WorkerActive
	WorkerHalting
)

func (s WorkerState) String() string {
	switch s {
	case WorkerActive:
		return "active"
	case WorkerHalting:
		return "halting"
	}
	return "inactive"
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(log *zap.Logger) WorkerOption {
	return func(w *Worker) {
		if log != nil {
			w.log = log
		}
	}
}

// WithPriority sets the default event priority used by Fire.
func WithPriority(p int) WorkerOption {
	return func(w *Worker) { w.priority = p }
}

// Worker dispatches events, commands and timeouts to a handler on the loop
// of its thread.
type Worker struct {
	name     string
	log      *zap.Logger
	priority int

	events   EventHandler
	commands CommandHandler
	timeouts TimeoutHandler
	assign   AssignHandler
	halt     HaltHandler

	state  atomic.Int32
	thread atomic.Pointer[Thread]
	id     atomic.Uint32

	// guarded by the mutex of the current thread
	pending     int
	timerSeq    uint64
	lastTimeout time.Time

	// loop only
	postponed []*command.Command
}

// NewWorker creates an inactive worker. handler may implement any subset of
// EventHandler, CommandHandler, TimeoutHandler, AssignHandler and HaltHandler.
func NewWorker(name string, handler any, opts ...WorkerOption) *Worker {
	w := &Worker{
		name:     name,
		log:      zap.NewNop(),
		priority: PriorityDefault,
	}
	w.events, _ = handler.(EventHandler)
	w.commands, _ = handler.(CommandHandler)
	w.timeouts, _ = handler.(TimeoutHandler)
	w.assign, _ = handler.(AssignHandler)
	w.halt, _ = handler.(HaltHandler)
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(zap.String("worker", name))
	return w
}

// Name returns the worker name.
func (w *Worker) Name() string { return w.name }

// ID returns the id assigned by the current thread, zero when inactive.
func (w *Worker) ID() uint32 { return w.id.Load() }

// State returns the lifecycle state.
func (w *Worker) State() WorkerState { return WorkerState(w.state.Load()) }

// Thread returns the current thread or nil.
func (w *Worker) Thread() *Thread { return w.thread.Load() }

// IsActive reports whether the worker accepts new events.
func (w *Worker) IsActive() bool { return w.State() == WorkerActive }

// AssignToThread activates the worker on t. With sync the call returns only
// after OnThreadAssigned ran; from t's own loop the wait keeps dispatching.
func (w *Worker) AssignToThread(t *Thread, sync bool) error {
	if t == nil {
		return api.NewError(api.KindPointer, "worker.AssignToThread", "nil thread")
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrThreadClosed
	}
	if !w.state.CompareAndSwap(int32(WorkerInactive), int32(WorkerActive)) {
		t.mu.Unlock()
		return ErrWorkerAssigned
	}
	t.nextID++
	w.id.Store(t.nextID)
	w.thread.Store(t)
	t.workers[t.nextID] = w
	it := &item{kind: itemAssign, w: w, done: make(chan struct{})}
	t.enqueueLocked(PriorityMagic, it)
	t.mu.Unlock()
	t.signal()

	w.log.Debug("assigned", zap.String("thread", t.name), zap.Uint32("id", w.ID()))
	if sync {
		return t.wait(it.done)
	}
	return nil
}

// wait blocks until done is closed, cooperatively when called on the loop.
func (t *Thread) wait(done <-chan struct{}) error {
	if t.OnLoop() {
		if !t.serveUntil(done, time.Time{}) {
			return ErrThreadClosed
		}
		return nil
	}
	select {
	case <-done:
		return nil
	case <-t.done:
		select {
		case <-done:
			return nil
		default:
			return ErrThreadClosed
		}
	}
}

// lockThread locks the current thread of w and returns it, or nil.
func (w *Worker) lockThread() *Thread {
	for {
		t := w.thread.Load()
		if t == nil {
			return nil
		}
		t.mu.Lock()
		if w.thread.Load() == t {
			return t
		}
		t.mu.Unlock()
	}
}

// post enqueues it unless the worker refuses new events or the priority
// has no queue level.
func (w *Worker) post(it *item, priority int) bool {
	if !ValidPriority(priority) {
		return false
	}
	t := w.lockThread()
	if t == nil {
		return false
	}
	st := w.State()
	if t.closed || !(st == WorkerActive || (st == WorkerHalting && priority == PriorityMagic)) {
		t.mu.Unlock()
		return false
	}
	t.enqueueLocked(priority, it)
	t.mu.Unlock()
	t.signal()
	return true
}

// FireEvent enqueues an event at priority. It returns false without side
// effects if the worker is not active or priority is out of range.
// PriorityMagic is also accepted while the worker is halting.
func (w *Worker) FireEvent(code int, arg any, priority int) bool {
	return w.post(&item{kind: itemEvent, w: w, ev: Event{Code: code, Arg: arg, Priority: priority}}, priority)
}

// Fire enqueues an event at the worker's default priority.
func (w *Worker) Fire(code int, arg any) bool {
	return w.FireEvent(code, arg, w.priority)
}

// Submit enqueues cmd for asynchronous execution and returns immediately.
// A refused command is failed right away.
func (w *Worker) Submit(cmd *command.Command) error {
	if !ValidPriority(cmd.Priority()) {
		cmd.Fail(ErrInvalidPriority)
		return ErrInvalidPriority
	}
	if w.post(&item{kind: itemCommand, w: w, cmd: cmd}, cmd.Priority()) {
		return nil
	}
	cmd.Fail(ErrWorkerInactive)
	return ErrWorkerInactive
}

func (w *Worker) runCommand(cmd *command.Command) {
	if cmd.Completed() {
		return
	}
	if w.commands == nil {
		cmd.Fail(api.ErrNotSupported)
		return
	}
	out := w.commands.ExecuteCommand(cmd)
	if out != api.OutcomePending {
		cmd.ReplyOutcome(out)
		return
	}
	if cmd.Completed() {
		return
	}
	kept := w.postponed[:0]
	for _, c := range w.postponed {
		if !c.Completed() {
			kept = append(kept, c)
		}
	}
	w.postponed = append(kept, cmd)
}

// ActivateTimeout arms the timeout handler after seconds (>0), on the next
// loop iteration (=0), or cancels it (<0). It returns false if the worker is
// not active.
func (w *Worker) ActivateTimeout(seconds float64) bool {
	t := w.lockThread()
	if t == nil {
		return false
	}
	if w.State() != WorkerActive {
		t.mu.Unlock()
		return false
	}
	w.timerSeq++
	if seconds >= 0 {
		now := time.Now()
		w.lastTimeout = now
		at := now.Add(time.Duration(seconds * float64(time.Second)))
		heap.Push(&t.timers, timerEntry{at: at, w: w, seq: w.timerSeq})
	}
	t.mu.Unlock()
	t.signal()
	return true
}

// Halt stops event acceptance, lets the thread drain the events already
// queued for the worker and then detaches it. Postponed commands are failed
// with a stop error. With sync the call waits for the detach.
func (w *Worker) Halt(sync bool) error {
	t := w.lockThread()
	if t == nil {
		return nil
	}
	if !w.state.CompareAndSwap(int32(WorkerActive), int32(WorkerHalting)) {
		t.mu.Unlock()
		return nil
	}
	w.timerSeq++
	it := &item{kind: itemHalt, w: w, done: make(chan struct{})}
	t.enqueueLocked(PriorityMagic, it)
	t.mu.Unlock()
	t.signal()

	if sync {
		return t.wait(it.done)
	}
	return nil
}

// haltStep runs on the loop. While events of w are still queued the halt
// item is requeued behind them at the lowest level.
func (w *Worker) haltStep(t *Thread, it *item) {
	t.mu.Lock()
	if w.pending > 0 {
		t.enqueueLocked(PriorityMinimum, it)
		t.mu.Unlock()
		return
	}
	delete(t.workers, w.ID())
	t.mu.Unlock()

	w.detach(t)
	if w.halt != nil {
		func() {
			defer t.recoverHandler(w, nil)
			w.halt.OnHalt()
		}()
	}
	w.log.Debug("halted")
	close(it.done)
}

// detach makes w inactive and fails its postponed commands.
func (w *Worker) detach(t *Thread) {
	if !w.thread.CompareAndSwap(t, nil) {
		return
	}
	w.id.Store(0)
	w.state.Store(int32(WorkerInactive))
	for _, c := range w.postponed {
		c.Fail(api.ErrStopped)
	}
	w.postponed = nil
}

// String implements fmt.Stringer.
func (w *Worker) String() string {
	return fmt.Sprintf("worker %s (%s)", w.name, w.State())
}
