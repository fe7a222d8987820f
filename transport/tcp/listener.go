// File: transport/tcp/listener.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package tcp

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/momentics/hioload-daq/api"
)

// Dial connects to addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	d := net.Dialer{KeepAlive: DefaultKeepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, api.Wrap(api.KindConnect, "tcp.Dial", err)
	}
	return New(conn, opts...), nil
}

// Listener accepts transport connections.
type Listener struct {
	ln   net.Listener
	opts []Option
	log  *zap.Logger
}

// Listen binds addr. opts apply to every accepted Conn.
func Listen(addr string, opts ...Option) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, api.Wrap(api.KindConnect, "tcp.Listen", err)
	}
	l := &Listener{ln: ln, opts: opts, log: zap.NewNop()}
	base := &Conn{}
	for _, opt := range opts {
		opt(base)
	}
	if base.log != nil {
		l.log = base.log
	}
	l.log.Info("listening", zap.String("addr", ln.Addr().String()))
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Accept waits for the next peer.
func (l *Listener) Accept() (*Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, api.Wrap(api.KindConnect, "tcp.Accept", err)
	}
	l.log.Debug("accepted", zap.String("remote", conn.RemoteAddr().String()))
	return New(conn, l.opts...), nil
}

// AcceptContext is Accept that gives up when ctx is done.
func (l *Listener) AcceptContext(ctx context.Context) (*Conn, error) {
	type result struct {
		c   *Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.Accept()
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		return r.c, r.err
	case <-ctx.Done():
		_ = l.ln.Close()
		r := <-ch
		if r.c != nil {
			_ = r.c.Close()
		}
		return nil, api.Wrap(api.KindTimeout, "tcp.Accept", ctx.Err())
	}
}

// Close stops listening.
func (l *Listener) Close() error { return l.ln.Close() }
