// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package mem_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/core/concurrency"
	"github.com/momentics/hioload-daq/pool"
	"github.com/momentics/hioload-daq/transport"
	"github.com/momentics/hioload-daq/transport/mem"
)

func newTransport(t *testing.T, name string, iface transport.NetworkInterface, th *concurrency.Thread, cfg transport.Config) (*transport.Transport, *pool.MemoryPool) {
	t.Helper()
	p, err := pool.New(name, pool.Config{BlockSize: 256, NumBlocks: 64})
	require.NoError(t, err)
	tr, err := transport.New(name, cfg, iface, p)
	require.NoError(t, err)
	require.NoError(t, tr.Start(th))
	t.Cleanup(func() { _ = tr.Close() })
	return tr, p
}

func startThread(t *testing.T) *concurrency.Thread {
	t.Helper()
	th := concurrency.NewThread("mem")
	require.NoError(t, th.Start())
	t.Cleanup(func() { _ = th.Stop(time.Second) })
	return th
}

func config(ackn bool) transport.Config {
	cfg := transport.DefaultConfig()
	cfg.InputQueue = 4
	cfg.OutputQueue = 4
	cfg.BufferSize = 512
	cfg.InlineDataSize = 16
	cfg.UseAckn = ackn
	return cfg
}

func exchange(t *testing.T, ackn bool) {
	th := startThread(t)
	a, b := mem.NewPair(nil)
	tx, txPool := newTransport(t, "tx", a, th, config(ackn))
	rx, _ := newTransport(t, "rx", b, th, config(ackn))

	const count = 40
	for i := 0; i < count; i++ {
		msg := []byte(fmt.Sprintf("packet-%03d-%s", i, string(make([]byte, i*10))))
		buf := txPool.TakeBufferReq(len(msg), 0)
		require.NotNil(t, buf)
		buf.CopyFrom(msg)
		var sendErr error
		require.Eventually(t, func() bool {
			sendErr = tx.Send(buf)
			return !transport.IsBackpressure(sendErr)
		}, time.Second, time.Millisecond)
		require.NoError(t, sendErr)

		var got *pool.Buffer
		require.Eventually(t, func() bool {
			var ok bool
			got, ok = rx.Recv()
			return ok
		}, time.Second, time.Millisecond)
		assert.Equal(t, msg, got.Bytes())
		got.Release()
	}
	assert.Equal(t, uint64(count), rx.Stats().RecvBuffers)
}

func TestPairWithCredit(t *testing.T) { exchange(t, true) }

func TestPairWithoutCredit(t *testing.T) { exchange(t, false) }

func TestCloseReachesPeer(t *testing.T) {
	th := startThread(t)
	a, b := mem.NewPair(nil)
	tx, _ := newTransport(t, "tx", a, th, config(true))
	rx, rxPool := newTransport(t, "rx", b, th, config(true))

	require.NoError(t, tx.Close())
	select {
	case <-rx.Done():
	case <-time.After(time.Second):
		t.Fatal("peer not closed")
	}
	assert.ErrorIs(t, rx.Err(), mem.ErrPeerClosed)
	assert.Equal(t, api.KindDisconnect, api.KindOf(rx.Err()))
	assert.Equal(t, rxPool.NumBlocks(), rxPool.FreeBlocks())
}

func TestEndBindsOnce(t *testing.T) {
	th := startThread(t)
	a, _ := mem.NewPair(nil)
	newTransport(t, "tx", a, th, config(true))

	p, err := pool.New("dup", pool.Config{BlockSize: 256, NumBlocks: 8})
	require.NoError(t, err)
	dup, err := transport.New("dup", config(true), a, p)
	require.NoError(t, err)
	assert.Error(t, dup.Start(th))
}
