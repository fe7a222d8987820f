// File: core/concurrency/handler.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Capabilities a worker handler may implement. NewWorker resolves them once.

package concurrency

import (
	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/core/command"
)

// Event is a user event delivered to a worker.
type Event struct {
	Code     int
	Arg      any
	Priority int
}

// EventHandler consumes events fired at the worker.
type EventHandler interface {
	ProcessEvent(ev Event)
}

// CommandHandler executes commands submitted to the worker. Returning
// api.OutcomePending keeps the command open until the handler replies.
type CommandHandler interface {
	ExecuteCommand(cmd *command.Command) api.Outcome
}

// TimeoutHandler is invoked when an activated timeout expires. last is the
// number of seconds since the previous invocation or since activation. The
// return value re-arms the timeout; a negative value leaves it off.
type TimeoutHandler interface {
	ProcessTimeout(last float64) float64
}

// AssignHandler runs on the thread right after the worker is assigned.
type AssignHandler interface {
	OnThreadAssigned()
}

// HaltHandler runs on the thread once the worker has drained its events.
type HaltHandler interface {
	OnHalt()
}

// EventFunc adapts a function to EventHandler.
type EventFunc func(ev Event)

// ProcessEvent calls f(ev).
func (f EventFunc) ProcessEvent(ev Event) { f(ev) }

// CommandFunc adapts a function to CommandHandler.
type CommandFunc func(cmd *command.Command) api.Outcome

// ExecuteCommand calls f(cmd).
func (f CommandFunc) ExecuteCommand(cmd *command.Command) api.Outcome { return f(cmd) }
