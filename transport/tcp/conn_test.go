// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package tcp_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/core/concurrency"
	"github.com/momentics/hioload-daq/pool"
	"github.com/momentics/hioload-daq/transport"
	"github.com/momentics/hioload-daq/transport/tcp"
)

type endpoint struct {
	tr   *transport.Transport
	pool *pool.MemoryPool
}

func startEndpoint(t *testing.T, name string, conn *tcp.Conn) *endpoint {
	t.Helper()
	p, err := pool.New(name, pool.Config{BlockSize: 512, NumBlocks: 128})
	require.NoError(t, err)
	th := concurrency.NewThread(name)
	require.NoError(t, th.Start())
	t.Cleanup(func() { _ = th.Stop(time.Second) })

	cfg := transport.DefaultConfig()
	cfg.BufferSize = 2048
	cfg.InlineDataSize = 32
	tr, err := transport.New(name, cfg, conn, p)
	require.NoError(t, err)
	require.NoError(t, tr.Start(th))
	t.Cleanup(func() { _ = tr.Close() })
	return &endpoint{tr: tr, pool: p}
}

func connect(t *testing.T) (client, server *tcp.Conn) {
	t.Helper()
	ln, err := tcp.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *tcp.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	client, err = tcp.Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	server = <-accepted
	require.NotNil(t, server)
	return client, server
}

// payload builds a buffer of size bytes tagged with its sequence number.
func payload(t *testing.T, p *pool.MemoryPool, seq, size int) *pool.Buffer {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(seq + i)
	}
	binary.LittleEndian.PutUint32(data, uint32(seq))
	var buf *pool.Buffer
	require.Eventually(t, func() bool {
		buf = p.TakeBufferReq(size, 0)
		return buf != nil
	}, time.Second, time.Millisecond)
	buf.CopyFrom(data)
	buf.SetTypeID(uint32(seq % 7))
	return buf
}

func sendAll(t *testing.T, tr *transport.Transport, bufs []*pool.Buffer) {
	t.Helper()
	ready := make(chan struct{}, 1)
	tr.OnSendReady(func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	})
	deadline := time.After(5 * time.Second)
	for _, buf := range bufs {
		for {
			err := tr.Send(buf)
			if err == nil {
				break
			}
			require.True(t, transport.IsBackpressure(err), "send: %v", err)
			select {
			case <-ready:
			case <-time.After(5 * time.Millisecond):
			case <-deadline:
				t.Fatal("sender stalled")
			}
		}
	}
}

func TestLoopbackStream(t *testing.T) {
	client, server := connect(t)
	tx := startEndpoint(t, "tx", client)
	rx := startEndpoint(t, "rx", server)

	const count = 50
	got := make(chan *pool.Buffer, count)
	rx.tr.SetSink(transport.SinkFunc(func(buf *pool.Buffer) bool {
		got <- buf
		return true
	}))

	sizes := []int{0, 4, 32, 33, 511, 512, 1500, 2048}
	var bufs []*pool.Buffer
	for i := 0; i < count; i++ {
		size := sizes[i%len(sizes)]
		if size < 4 {
			size = 4
		}
		bufs = append(bufs, payload(t, tx.pool, i, size))
	}
	want := make([][]byte, count)
	for i, b := range bufs {
		want[i] = b.Bytes()
	}
	// the sink never blocks, so sending from the test goroutine cannot stall
	sendAll(t, tx.tr, bufs)

	for i := 0; i < count; i++ {
		select {
		case buf := <-got:
			assert.Equal(t, uint32(i%7), buf.TypeID())
			assert.Equal(t, want[i], buf.Bytes(), "packet %d", i)
			buf.Release()
		case <-time.After(5 * time.Second):
			t.Fatalf("packet %d not received", i)
		}
	}

	require.Eventually(t, func() bool { return tx.tr.Stats().SentBuffers == count }, time.Second, time.Millisecond)
	// only the posted receives of the sender still hold blocks
	assert.Equal(t, tx.pool.NumBlocks()-8*4, tx.pool.FreeBlocks())
	assert.Positive(t, rx.tr.Stats().AcksSent)
	assert.Positive(t, tx.tr.Stats().AcksRecv)
}

func TestPeerCloseIsDisconnect(t *testing.T) {
	client, server := connect(t)
	tx := startEndpoint(t, "tx", client)
	rx := startEndpoint(t, "rx", server)

	require.Eventually(t, func() bool { return tx.tr.Stats().AcksRecv == 1 }, time.Second, time.Millisecond)
	require.NoError(t, tx.tr.Close())

	select {
	case <-rx.tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not notice the close")
	}
	assert.Equal(t, api.KindDisconnect, api.KindOf(rx.tr.Err()))
	assert.Equal(t, rx.pool.NumBlocks(), rx.pool.FreeBlocks())
}

func TestDialRefused(t *testing.T) {
	ln, err := tcp.Listen("127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = tcp.Dial(ctx, addr)
	require.Error(t, err)
	assert.Equal(t, api.KindConnect, api.KindOf(err))
}

func TestAcceptContextCancelled(t *testing.T) {
	ln, err := tcp.Listen("127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = ln.AcceptContext(ctx)
	assert.True(t, api.IsTimeout(err))
}

func TestConnBindsOnce(t *testing.T) {
	client, _ := connect(t)
	startEndpoint(t, "tx", client)

	p, err := pool.New("other", pool.Config{BlockSize: 512, NumBlocks: 8})
	require.NoError(t, err)
	other, err := transport.New("other", transport.DefaultConfig(), client, p)
	require.NoError(t, err)
	th := concurrency.NewThread("other")
	require.NoError(t, th.Start())
	defer func() { _ = th.Stop(time.Second) }()

	err = other.Start(th)
	require.Error(t, err)
	assert.Equal(t, api.KindConnect, api.KindOf(err))
}
