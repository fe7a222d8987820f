// File: transport/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/core/protocol"
)

// Config sizes one transport.
type Config struct {
	// InputQueue is the number of receive operations kept posted.
	InputQueue int
	// OutputQueue bounds sends queued or in flight.
	OutputQueue int
	// InlineDataSize is the payload size carried directly after the header.
	InlineDataSize int
	// UseAckn enables credit-based flow control. Both peers must agree.
	UseAckn bool
	// BufferSize is the payload capacity of every receive buffer.
	BufferSize int
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		InputQueue:     8,
		OutputQueue:    8,
		InlineDataSize: 64,
		UseAckn:        true,
		BufferSize:     64 * 1024,
	}
}

// Validate checks queue sizes and limits.
func (c Config) Validate() error {
	switch {
	case c.InputQueue <= 0:
		return api.NewError(api.KindGeneric, "transport.Config", "input queue must be positive")
	case c.OutputQueue <= 0:
		return api.NewError(api.KindGeneric, "transport.Config", "output queue must be positive")
	case c.InlineDataSize < 0:
		return api.NewError(api.KindGeneric, "transport.Config", "inline data size must not be negative")
	case c.BufferSize <= 0 || c.BufferSize > protocol.MaxPayload:
		return api.NewError(api.KindGeneric, "transport.Config", "buffer size out of range").
			WithContext("size", c.BufferSize)
	}
	return nil
}

// NumRecords is the record array size: every input and output slot plus
// one for the outstanding credit grant.
func (c Config) NumRecords() int { return c.InputQueue + c.OutputQueue + 1 }

// State is the transport lifecycle state.
type State int32

const (
	StateInit State = iota
	StateFillingRecvQueue
	StateSteady
	StateClosing
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateFillingRecvQueue:
		return "filling"
	case StateSteady:
		return "steady"
	case StateClosing:
		return "closing"
	case StateError:
		return "error"
	}
	return "unknown"
}

// running reports whether traffic may flow.
func (s State) running() bool { return s == StateFillingRecvQueue || s == StateSteady }
