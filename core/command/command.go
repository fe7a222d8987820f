// Package command defines the request/reply record exchanged between workers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// A Command is created by any caller, consumed by the command handler of the
// target worker and replied exactly once. Late replies to an abandoned
// command (for example after the caller timed out) are dropped.

package command

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-daq/api"
)

const (
	stateOpen int32 = iota
	stateReplied
	stateAbandoned
)

// Command is a named record of typed fields with a reply continuation.
type Command struct {
	name     string
	id       uuid.UUID
	priority int
	timeout  time.Duration

	mu      sync.Mutex
	fields  map[string]Value
	onReply func(*Command)

	state atomic.Int32
	err   error
	done  chan struct{}
}

// New creates a command with a fresh id.
func New(name string) *Command {
	return &Command{
		name:     name,
		id:       uuid.New(),
		priority: 1,
		fields:   make(map[string]Value),
		done:     make(chan struct{}),
	}
}

// Name returns the command name.
func (c *Command) Name() string { return c.name }

// ID returns the unique command id.
func (c *Command) ID() uuid.UUID { return c.id }

// Priority returns the event priority used when the command is submitted.
func (c *Command) Priority() int { return c.priority }

// SetPriority sets the submission priority.
func (c *Command) SetPriority(p int) *Command {
	c.priority = p
	return c
}

// Timeout returns the per-command timeout; zero means the caller decides.
func (c *Command) Timeout() time.Duration { return c.timeout }

// SetTimeout sets the per-command timeout.
func (c *Command) SetTimeout(d time.Duration) *Command {
	c.timeout = d
	return c
}

// Set stores a field.
func (c *Command) Set(name string, v Value) *Command {
	c.mu.Lock()
	c.fields[name] = v
	c.mu.Unlock()
	return c
}

// SetInt stores an integer field.
func (c *Command) SetInt(name string, v int64) *Command { return c.Set(name, Int(v)) }

// SetDouble stores a floating point field.
func (c *Command) SetDouble(name string, v float64) *Command { return c.Set(name, Double(v)) }

// SetString stores a string field.
func (c *Command) SetString(name string, v string) *Command { return c.Set(name, String(v)) }

// SetBool stores a boolean field.
func (c *Command) SetBool(name string, v bool) *Command { return c.Set(name, Bool(v)) }

// SetBinary stores an opaque byte field.
func (c *Command) SetBinary(name string, v []byte) *Command { return c.Set(name, Binary(v)) }

// Get returns a field.
func (c *Command) Get(name string) (Value, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.fields[name]
	return v, ok
}

// Has reports whether a field is present.
func (c *Command) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Remove deletes a field.
func (c *Command) Remove(name string) {
	c.mu.Lock()
	delete(c.fields, name)
	c.mu.Unlock()
}

// Fields returns the field names in sorted order.
func (c *Command) Fields() []string {
	c.mu.Lock()
	names := make([]string, 0, len(c.fields))
	for k := range c.fields {
		names = append(names, k)
	}
	c.mu.Unlock()
	sort.Strings(names)
	return names
}

// GetInt returns an integer field or def when missing.
// A field of another kind is a command error.
func (c *Command) GetInt(name string, def int64) (int64, error) {
	v, ok := c.Get(name)
	if !ok {
		return def, nil
	}
	i, ok := v.AsInt()
	if !ok {
		return def, c.kindError(name, KindInt, v.Kind())
	}
	return i, nil
}

// GetDouble returns a floating point field or def when missing.
func (c *Command) GetDouble(name string, def float64) (float64, error) {
	v, ok := c.Get(name)
	if !ok {
		return def, nil
	}
	f, ok := v.AsDouble()
	if !ok {
		return def, c.kindError(name, KindDouble, v.Kind())
	}
	return f, nil
}

// GetString returns a string field or def when missing.
func (c *Command) GetString(name string, def string) (string, error) {
	v, ok := c.Get(name)
	if !ok {
		return def, nil
	}
	s, ok := v.AsString()
	if !ok {
		return def, c.kindError(name, KindString, v.Kind())
	}
	return s, nil
}

// GetBool returns a boolean field or def when missing.
func (c *Command) GetBool(name string, def bool) (bool, error) {
	v, ok := c.Get(name)
	if !ok {
		return def, nil
	}
	b, ok := v.AsBool()
	if !ok {
		return def, c.kindError(name, KindBool, v.Kind())
	}
	return b, nil
}

// GetBinary returns a byte field or nil when missing.
func (c *Command) GetBinary(name string) ([]byte, error) {
	v, ok := c.Get(name)
	if !ok {
		return nil, nil
	}
	b, ok := v.AsBinary()
	if !ok {
		return nil, c.kindError(name, KindBinary, v.Kind())
	}
	return b, nil
}

func (c *Command) kindError(field string, want, got Kind) error {
	return api.NewError(api.KindCommand, c.name, fmt.Sprintf("field %q is %s, not %s", field, got, want))
}

// OnReply registers the continuation invoked once the command completes,
// on the goroutine that completes it. Must be set before submission.
func (c *Command) OnReply(fn func(*Command)) *Command {
	c.mu.Lock()
	c.onReply = fn
	c.mu.Unlock()
	return c
}

// Reply completes the command as succeeded or failed. It returns false if
// the command was already completed or abandoned.
func (c *Command) Reply(ok bool) bool {
	if ok {
		return c.complete(stateReplied, nil)
	}
	return c.complete(stateReplied, api.ErrCommandFailed)
}

// ReplyOutcome completes the command for a final outcome; Pending is ignored.
func (c *Command) ReplyOutcome(o api.Outcome) bool {
	if o == api.OutcomePending {
		return false
	}
	return c.Reply(o == api.OutcomeTrue)
}

// Fail completes the command with err.
func (c *Command) Fail(err error) bool {
	if err == nil {
		err = api.ErrCommandFailed
	}
	return c.complete(stateReplied, err)
}

// Abandon completes the command on behalf of the caller, e.g. on timeout.
// A reply arriving afterwards is dropped.
func (c *Command) Abandon(err error) bool {
	return c.complete(stateAbandoned, err)
}

func (c *Command) complete(state int32, err error) bool {
	if !c.state.CompareAndSwap(stateOpen, state) {
		return false
	}
	c.err = err
	close(c.done)
	c.mu.Lock()
	fn := c.onReply
	c.mu.Unlock()
	if fn != nil {
		fn(c)
	}
	return true
}

// Done is closed once the command is replied or abandoned.
func (c *Command) Done() <-chan struct{} { return c.done }

// Completed reports whether the command was replied or abandoned.
func (c *Command) Completed() bool { return c.state.Load() != stateOpen }

// Abandoned reports whether the caller gave up on the command.
func (c *Command) Abandoned() bool { return c.state.Load() == stateAbandoned }

// Err returns nil for a successful reply, the failure otherwise.
// Only meaningful after Done is closed.
func (c *Command) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// String implements fmt.Stringer.
func (c *Command) String() string {
	return fmt.Sprintf("cmd %s (%s)", c.name, c.id.String()[:8])
}
