// File: transport/mem/pair.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package mem links two transports inside one process. Each end copies its
// sends straight into the receives posted by the other end, so the full
// framing and credit path runs without a socket.
package mem

import (
	"bytes"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/transport"
)

// ErrPeerClosed is reported to an end whose peer closed the link.
var ErrPeerClosed = api.NewError(api.KindDisconnect, "", "peer closed")

type link struct {
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// End is one side of a pair. It implements transport.NetworkInterface.
type End struct {
	name string
	link *link
	peer *End
	log  *zap.Logger

	mu    sync.Mutex
	t     *transport.Transport
	sends chan int
	recvs chan int
	ready chan struct{}
}

// NewPair returns two connected ends.
func NewPair(log *zap.Logger) (*End, *End) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &link{done: make(chan struct{})}
	a := &End{name: "a", link: l, ready: make(chan struct{})}
	b := &End{name: "b", link: l, ready: make(chan struct{})}
	a.peer, b.peer = b, a
	a.log = log.With(zap.String("end", a.name))
	b.log = log.With(zap.String("end", b.name))
	return a, b
}

// AllocateNet implements transport.NetworkInterface.
func (e *End) AllocateNet(t *transport.Transport, fullOut, fullIn int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.t != nil {
		return api.NewError(api.KindObject, "mem.AllocateNet", "end already bound").WithContext("end", e.name)
	}
	if e.closed() {
		return ErrPeerClosed
	}
	e.t = t
	e.sends = make(chan int, fullOut)
	e.recvs = make(chan int, fullIn)
	close(e.ready)
	e.link.wg.Add(1)
	go e.pump()
	return nil
}

// SubmitSend implements transport.NetworkInterface.
func (e *End) SubmitSend(id int) error { return e.submit(e.sends, id) }

// SubmitRecv implements transport.NetworkInterface.
func (e *End) SubmitRecv(id int) error { return e.submit(e.recvs, id) }

func (e *End) submit(ch chan int, id int) error {
	if e.closed() {
		return transport.ErrClosed
	}
	select {
	case ch <- id:
		return nil
	default:
		return api.NewError(api.KindOutput, "mem.submit", "submission queue overflow").WithContext("rec", id)
	}
}

// Close tears the link down for both ends. The peer transport sees
// ErrPeerClosed.
func (e *End) Close() error {
	first := false
	e.link.once.Do(func() {
		first = true
		close(e.link.done)
	})
	e.link.wg.Wait()
	if !first {
		return nil
	}
	e.log.Debug("link closed")
	e.peer.mu.Lock()
	pt := e.peer.t
	e.peer.mu.Unlock()
	if pt != nil {
		pt.ProcessError(ErrPeerClosed)
	}
	return nil
}

func (e *End) closed() bool {
	select {
	case <-e.link.done:
		return true
	default:
		return false
	}
}

// pump moves every send of e into the next receive posted by the peer.
func (e *End) pump() {
	defer e.link.wg.Done()
	peer := e.peer
	select {
	case <-peer.ready:
	case <-e.link.done:
		return
	}
	for {
		var id, rid int
		select {
		case <-e.link.done:
			return
		case id = <-e.sends:
		}
		segs := e.t.SendSegments(id)
		if len(segs) == 0 {
			continue
		}
		select {
		case <-e.link.done:
			return
		case rid = <-peer.recvs:
		}
		if err := copyPacket(peer.t, rid, segs); err != nil {
			e.log.Debug("delivery failed", zap.Error(err))
			return
		}
		e.t.ProcessSendCompl(id)
	}
}

func copyPacket(t *transport.Transport, rid int, segs [][]byte) error {
	hdr := t.RecvHeader(rid)
	if hdr == nil {
		return transport.ErrClosed
	}
	readers := make([]io.Reader, len(segs))
	for i, s := range segs {
		readers[i] = bytes.NewReader(s)
	}
	src := io.MultiReader(readers...)
	if _, err := io.ReadFull(src, hdr); err != nil {
		return err
	}
	targets, err := t.RecvTargets(rid)
	if err != nil {
		return err
	}
	for _, dst := range targets {
		if _, err := io.ReadFull(src, dst); err != nil {
			err = api.Wrap(api.KindInput, "mem.copy", err)
			t.ProcessError(err)
			return err
		}
	}
	t.ProcessRecvCompl(rid)
	return nil
}
