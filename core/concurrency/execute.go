// File: core/concurrency/execute.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Request/reply on top of Submit. Execute blocks a goroutine that is not a
// scheduler loop; ExecuteFrom keeps the caller's loop dispatching while the
// reply is outstanding.

package concurrency

import (
	"time"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/core/command"
)

func effectiveTimeout(cmd *command.Command, timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return cmd.Timeout()
	}
	return timeout
}

// Execute submits cmd and blocks until it is replied or timeout elapses.
// A zero timeout falls back to the command's own timeout; when both are zero
// the wait is unbounded. Calling Execute from the target's own loop is
// rejected, use ExecuteFrom there.
func (w *Worker) Execute(cmd *command.Command, timeout time.Duration) error {
	if t := w.Thread(); t != nil && t.OnLoop() {
		cmd.Fail(ErrWouldDeadlock)
		return ErrWouldDeadlock
	}
	timeout = effectiveTimeout(cmd, timeout)
	if err := w.Submit(cmd); err != nil {
		return err
	}
	if timeout <= 0 {
		<-cmd.Done()
		return cmd.Err()
	}
	tm := time.NewTimer(timeout)
	defer tm.Stop()
	select {
	case <-cmd.Done():
	case <-tm.C:
		cmd.Abandon(api.ErrTimeout)
	}
	return cmd.Err()
}

// ExecuteFrom submits cmd to w on behalf of caller, a worker whose handler
// is running right now. The caller's thread keeps dispatching its queue
// until the reply arrives or timeout elapses. Nesting is bounded by
// MaxExecuteDepth per thread.
func (w *Worker) ExecuteFrom(caller *Worker, cmd *command.Command, timeout time.Duration) error {
	var t *Thread
	if caller != nil {
		t = caller.Thread()
	}
	if t == nil || !t.OnLoop() {
		return w.Execute(cmd, timeout)
	}
	if t.depth >= MaxExecuteDepth {
		cmd.Fail(ErrExecuteDepth)
		return ErrExecuteDepth
	}
	timeout = effectiveTimeout(cmd, timeout)
	if err := w.Submit(cmd); err != nil {
		return err
	}

	var until time.Time
	if timeout > 0 {
		until = time.Now().Add(timeout)
	}
	t.depth++
	replied := t.serveUntil(cmd.Done(), until)
	t.depth--

	if !replied {
		if t.isQuitting() {
			cmd.Abandon(ErrThreadClosed)
		} else {
			cmd.Abandon(api.ErrTimeout)
		}
	}
	return cmd.Err()
}
