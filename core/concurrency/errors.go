// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import "github.com/momentics/hioload-daq/api"

var (
	// ErrThreadClosed indicates the thread has been stopped.
	ErrThreadClosed = api.NewError(api.KindStop, "", "thread is closed")

	// ErrThreadRunning indicates Start was called twice.
	ErrThreadRunning = api.NewError(api.KindObject, "", "thread already started")

	// ErrWorkerInactive indicates the worker accepts no events.
	ErrWorkerInactive = api.NewError(api.KindObject, "", "worker is not active")

	// ErrWorkerAssigned indicates an assignment of a worker that is still active.
	ErrWorkerAssigned = api.NewError(api.KindObject, "", "worker already assigned")

	// ErrExecuteDepth indicates too many nested Execute calls on one thread.
	ErrExecuteDepth = api.NewError(api.KindCommand, "", "nested execute depth exceeded")

	// ErrInvalidPriority indicates a priority outside PriorityMagic..PriorityMinimum.
	ErrInvalidPriority = api.NewError(api.KindCommand, "", "priority out of range")

	// ErrWouldDeadlock indicates a blocking wait on the thread that must serve it.
	ErrWouldDeadlock = api.NewError(api.KindCommand, "", "blocking execute from the target thread")
)
