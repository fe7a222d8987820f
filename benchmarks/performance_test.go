// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-daq components.

package benchmarks

import (
	"testing"
	"time"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/core/command"
	"github.com/momentics/hioload-daq/core/concurrency"
	"github.com/momentics/hioload-daq/core/protocol"
	"github.com/momentics/hioload-daq/pool"
	"github.com/momentics/hioload-daq/transport"
	"github.com/momentics/hioload-daq/transport/mem"
)

// BenchmarkPoolTakeRelease measures buffer allocation from a shared pool.
func BenchmarkPoolTakeRelease(b *testing.B) {
	p, err := pool.New("bench", pool.Config{BlockSize: 4096, NumBlocks: 1024})
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := p.TakeBufferReq(4096, 0)
			if buf != nil {
				buf.Release()
			}
		}
	})
}

// BenchmarkHeaderCodec measures packet header encode and decode.
func BenchmarkHeaderCodec(b *testing.B) {
	raw := make([]byte, protocol.HeaderSize)
	h := protocol.NewData(3, 1500)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = protocol.Encode(raw, h)
		if _, err := protocol.Decode(raw); err != nil {
			b.Fatal(err)
		}
	}
}

type echo struct{}

func (echo) ExecuteCommand(*command.Command) api.Outcome { return api.OutcomeTrue }

// BenchmarkExecuteRoundTrip measures a blocking command round trip to a
// worker on another thread.
func BenchmarkExecuteRoundTrip(b *testing.B) {
	th := concurrency.NewThread("bench")
	if err := th.Start(); err != nil {
		b.Fatal(err)
	}
	defer th.Stop(time.Second)
	w := concurrency.NewWorker("echo", echo{})
	if err := w.AssignToThread(th, true); err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := w.Execute(command.New("ping"), time.Second); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkMemPairThroughput streams 64 KiB buffers through two transports
// linked in memory, credit flow control included.
func BenchmarkMemPairThroughput(b *testing.B) {
	const size = 64 * 1024
	th := concurrency.NewThread("net")
	if err := th.Start(); err != nil {
		b.Fatal(err)
	}
	defer th.Stop(time.Second)

	cfg := transport.DefaultConfig()
	cfg.BufferSize = size
	newEnd := func(name string, iface transport.NetworkInterface) (*transport.Transport, *pool.MemoryPool) {
		p, err := pool.New(name, pool.Config{BlockSize: size, NumBlocks: 64})
		if err != nil {
			b.Fatal(err)
		}
		tr, err := transport.New(name, cfg, iface, p)
		if err != nil {
			b.Fatal(err)
		}
		if err := tr.Start(th); err != nil {
			b.Fatal(err)
		}
		return tr, p
	}
	a, z := mem.NewPair(nil)
	tx, txPool := newEnd("tx", a)
	rx, _ := newEnd("rx", z)
	defer tx.Close()
	defer rx.Close()

	received := make(chan struct{}, 64)
	rx.SetSink(transport.SinkFunc(func(buf *pool.Buffer) bool {
		buf.Release()
		received <- struct{}{}
		return true
	}))

	b.SetBytes(size)
	b.ResetTimer()
	go func() {
		for i := 0; i < b.N; i++ {
			buf := txPool.TakeBufferReq(size, 0)
			for buf == nil {
				time.Sleep(10 * time.Microsecond)
				buf = txPool.TakeBufferReq(size, 0)
			}
			for transport.IsBackpressure(tx.Send(buf)) {
				time.Sleep(10 * time.Microsecond)
			}
		}
	}()
	for i := 0; i < b.N; i++ {
		<-received
	}
}
