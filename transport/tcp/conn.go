// File: transport/tcp/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn implements transport.NetworkInterface on a net.Conn with one writer
// and one reader goroutine.

package tcp

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/transport"
)

const (
	// DefaultWriteTimeout bounds one vectored write.
	DefaultWriteTimeout = 10 * time.Second
	// DefaultKeepAlive is the TCP keepalive probe period.
	DefaultKeepAlive = 30 * time.Second
)

// Option customizes a Conn.
type Option func(*Conn)

// WithLogger sets the connection logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Conn) {
		if log != nil {
			c.log = log
		}
	}
}

// WithWriteTimeout overrides DefaultWriteTimeout. Zero disables it.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) { c.writeTimeout = d }
}

// Conn is the socket side of one transport.
type Conn struct {
	conn         net.Conn
	log          *zap.Logger
	writeTimeout time.Duration

	mu    sync.Mutex
	t     *transport.Transport
	sends chan int
	recvs chan int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New wraps an established connection.
func New(conn net.Conn, opts ...Option) *Conn {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(DefaultKeepAlive)
	}
	c := &Conn{
		conn:         conn,
		log:          zap.NewNop(),
		writeTimeout: DefaultWriteTimeout,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("remote", conn.RemoteAddr().String()))
	return c
}

// LocalAddr returns the local socket address.
func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// AllocateNet implements transport.NetworkInterface and starts the I/O
// goroutines.
func (c *Conn) AllocateNet(t *transport.Transport, fullOut, fullIn int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.t != nil {
		return api.NewError(api.KindObject, "tcp.AllocateNet", "connection already bound").
			WithContext("transport", c.t.Name())
	}
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	c.t = t
	c.sends = make(chan int, fullOut)
	c.recvs = make(chan int, fullIn)
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return nil
}

// SubmitSend implements transport.NetworkInterface.
func (c *Conn) SubmitSend(id int) error {
	return c.submit(c.sends, id, "tcp.SubmitSend")
}

// SubmitRecv implements transport.NetworkInterface.
func (c *Conn) SubmitRecv(id int) error {
	return c.submit(c.recvs, id, "tcp.SubmitRecv")
}

// submit never blocks: the transport never has more operations outstanding
// than it allocated, so a full channel is a bookkeeping error.
func (c *Conn) submit(ch chan int, id int, op string) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	select {
	case ch <- id:
		return nil
	default:
		return api.NewError(api.KindOutput, op, "submission queue overflow").WithContext("rec", id)
	}
}

// Close stops both goroutines and closes the socket. No record is touched
// after it returns.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
		c.wg.Wait()
		c.log.Debug("connection closed")
	})
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (c *Conn) closing() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// fail reports err unless it was caused by Close.
func (c *Conn) fail(kind api.Kind, op string, err error) {
	if c.closing() {
		return
	}
	c.log.Debug("connection failed", zap.String("op", op), zap.Error(err))
	c.t.ProcessError(api.Wrap(kind, op, err))
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		var id int
		select {
		case <-c.done:
			return
		case id = <-c.sends:
		}
		segs := c.t.SendSegments(id)
		if len(segs) == 0 {
			continue
		}
		if c.writeTimeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		// WriteTo consumes the slice header, keep the record's own intact
		bufs := net.Buffers(append([][]byte(nil), segs...))
		if _, err := bufs.WriteTo(c.conn); err != nil {
			c.fail(api.KindOutput, "tcp.write", err)
			return
		}
		c.t.ProcessSendCompl(id)
	}
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	for {
		var id int
		select {
		case <-c.done:
			return
		case id = <-c.recvs:
		}
		hdr := c.t.RecvHeader(id)
		if hdr == nil {
			continue
		}
		if _, err := io.ReadFull(c.conn, hdr); err != nil {
			c.fail(readKind(err), "tcp.read", err)
			return
		}
		targets, err := c.t.RecvTargets(id)
		if err != nil {
			return
		}
		for _, dst := range targets {
			if _, err := io.ReadFull(c.conn, dst); err != nil {
				c.fail(readKind(err), "tcp.read", err)
				return
			}
		}
		c.t.ProcessRecvCompl(id)
	}
}

func readKind(err error) api.Kind {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return api.KindDisconnect
	}
	return api.KindInput
}
