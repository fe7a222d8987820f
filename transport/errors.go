// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for the transport engine.

package transport

import (
	"errors"

	"github.com/momentics/hioload-daq/api"
)

var (
	// ErrBackpressure means the output queue is full. It is transient: retry
	// after the send-ready notification.
	ErrBackpressure = api.NewError(api.KindGeneric, "", "output queue full")

	// ErrRecordsExhausted means no free operation record was found. The record
	// array is sized for the configured queues, so this is a capacity bug and
	// fatal for the transport.
	ErrRecordsExhausted = api.NewError(api.KindOutput, "", "operation records exhausted")

	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = api.NewError(api.KindStop, "", "transport closed")
)

// IsBackpressure reports whether err is the transient output-full condition.
func IsBackpressure(err error) bool { return errors.Is(err, ErrBackpressure) }
