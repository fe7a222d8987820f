// File: transport/interface.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import "github.com/momentics/hioload-daq/pool"

// NetworkInterface performs the I/O of a transport. It reports every
// completion back through ProcessSendCompl, ProcessRecvCompl or
// ProcessError, from any goroutine, possibly from within the Submit call.
type NetworkInterface interface {
	// AllocateNet is called once before any submission with the maximum
	// number of concurrently submitted sends and receives.
	AllocateNet(t *Transport, fullOutputQueue, fullInputQueue int) error
	// SubmitSend transmits the segments returned by t.SendSegments(id).
	SubmitSend(id int) error
	// SubmitRecv receives one packet: HeaderSize bytes into t.RecvHeader(id),
	// then the payload into t.RecvTargets(id).
	SubmitRecv(id int) error
	// Close stops all I/O. Once it returns no record is accessed anymore.
	Close() error
}

// BufferSink consumes received buffers on the transport's thread. Returning
// false refuses the buffer; delivery resumes after ResumeDelivery.
type BufferSink interface {
	DeliverBuffer(buf *pool.Buffer) bool
}

// SinkFunc adapts a function to BufferSink.
type SinkFunc func(buf *pool.Buffer) bool

// DeliverBuffer calls f(buf).
func (f SinkFunc) DeliverBuffer(buf *pool.Buffer) bool { return f(buf) }
