// Package fake
// Author: momentics <momentics@gmail.com>
//
// Scriptable NetworkInterface for tests. Submissions are recorded; the test
// decides when and how each one completes.

package fake

import (
	"sync"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/core/protocol"
	"github.com/momentics/hioload-daq/transport"
)

// Interface is a fake transport.NetworkInterface.
type Interface struct {
	mu         sync.Mutex
	t          *transport.Transport
	sends      []int
	recvs      []int
	closed     bool
	fullOut    int
	fullIn     int
	allocErr   error
	sendError  error
	recvError  error
	closeError error
}

// NewInterface creates an idle fake interface.
func NewInterface() *Interface {
	return &Interface{}
}

// AllocateNet implements transport.NetworkInterface.
func (f *Interface) AllocateNet(t *transport.Transport, fullOut, fullIn int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allocErr != nil {
		return f.allocErr
	}
	f.t, f.fullOut, f.fullIn = t, fullOut, fullIn
	return nil
}

// SubmitSend implements transport.NetworkInterface.
func (f *Interface) SubmitSend(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	if f.sendError != nil {
		return f.sendError
	}
	f.sends = append(f.sends, id)
	return nil
}

// SubmitRecv implements transport.NetworkInterface.
func (f *Interface) SubmitRecv(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return transport.ErrClosed
	}
	if f.recvError != nil {
		return f.recvError
	}
	f.recvs = append(f.recvs, id)
	return nil
}

// Close implements transport.NetworkInterface.
func (f *Interface) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return f.closeError
}

// Closed reports whether Close was called.
func (f *Interface) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Limits returns the queue sizes passed to AllocateNet.
func (f *Interface) Limits() (fullOut, fullIn int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fullOut, f.fullIn
}

// SetAllocateError makes AllocateNet fail.
func (f *Interface) SetAllocateError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocErr = err
}

// SetSendError makes SubmitSend fail.
func (f *Interface) SetSendError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendError = err
}

// SetRecvError makes SubmitRecv fail.
func (f *Interface) SetRecvError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recvError = err
}

// SetCloseError makes Close return err.
func (f *Interface) SetCloseError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeError = err
}

// TakeSends returns and clears the submitted send record ids.
func (f *Interface) TakeSends() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sends
	f.sends = nil
	return s
}

// TakeRecvs returns and clears the submitted receive record ids.
func (f *Interface) TakeRecvs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.recvs
	f.recvs = nil
	return r
}

// SentPacket decodes a submitted send into its header and payload.
func (f *Interface) SentPacket(id int) (protocol.Header, []byte, error) {
	segs := f.transport().SendSegments(id)
	if len(segs) == 0 {
		return protocol.Header{}, nil, api.NewError(api.KindPointer, "fake.SentPacket", "no submitted send").
			WithContext("rec", id)
	}
	var raw []byte
	for _, s := range segs {
		raw = append(raw, s...)
	}
	h, err := protocol.Decode(raw)
	if err != nil {
		return h, nil, err
	}
	return h, raw[protocol.HeaderSize:], nil
}

// CompleteSend reports a submitted send as done.
func (f *Interface) CompleteSend(id int) {
	f.transport().ProcessSendCompl(id)
}

// Deliver writes a packet into a posted receive and completes it.
func (f *Interface) Deliver(id int, h protocol.Header, payload []byte) error {
	t := f.transport()
	hdr := t.RecvHeader(id)
	if hdr == nil {
		return api.NewError(api.KindPointer, "fake.Deliver", "no posted receive").WithContext("rec", id)
	}
	if err := protocol.Encode(hdr, h); err != nil {
		return err
	}
	targets, err := t.RecvTargets(id)
	if err != nil {
		return err
	}
	for _, dst := range targets {
		n := copy(dst, payload)
		payload = payload[n:]
	}
	t.ProcessRecvCompl(id)
	return nil
}

// Fail reports an I/O error to the transport.
func (f *Interface) Fail(err error) {
	f.transport().ProcessError(err)
}

func (f *Interface) transport() *transport.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}
