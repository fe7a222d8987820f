// Package datagen produces and checks synthetic event payloads for load
// runs between two nodes.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Payload layout, little endian:
//
//	seq (8) | digest (8) | body
//
// digest is the xxhash64 of body. The body is derived from seq so a
// receiver can detect reordering, loss and corruption.
package datagen

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/pool"
)

// HeaderSize is the fixed prefix of every payload.
const HeaderSize = 16

// TypeEvent tags generated buffers.
const TypeEvent = pool.TypeUser + 1

// Generator fills buffers with consecutive payloads.
type Generator struct {
	size    int
	seq     uint64
	scratch []byte
}

// NewGenerator returns a generator of size-byte payloads.
func NewGenerator(size int) (*Generator, error) {
	if size < HeaderSize {
		return nil, api.NewError(api.KindGeneric, "datagen.NewGenerator", "payload smaller than its header").
			WithContext("size", size)
	}
	return &Generator{size: size, scratch: make([]byte, size)}, nil
}

// Size returns the payload size.
func (g *Generator) Size() int { return g.size }

// Seq returns the sequence number of the next payload.
func (g *Generator) Seq() uint64 { return g.seq }

// Fits reports whether p can ever serve payloads of this generator's size.
func (g *Generator) Fits(p *pool.MemoryPool) error {
	return p.CheckRequest(g.size, 0)
}

// Next takes a buffer from p and fills it with the next payload. It returns
// nil when the pool is exhausted; the sequence number is not consumed then.
func (g *Generator) Next(p *pool.MemoryPool) *pool.Buffer {
	buf := p.TakeBufferReq(g.size, 0)
	if buf == nil {
		return nil
	}
	g.encode(g.scratch)
	buf.CopyFrom(g.scratch)
	buf.SetTypeID(TypeEvent)
	g.seq++
	return buf
}

func (g *Generator) encode(dst []byte) {
	body := dst[HeaderSize:]
	fillBody(body, g.seq)
	binary.LittleEndian.PutUint64(dst[0:], g.seq)
	binary.LittleEndian.PutUint64(dst[8:], xxhash.Sum64(body))
}

func fillBody(body []byte, seq uint64) {
	x := seq*0x9E3779B97F4A7C15 + 1
	for i := range body {
		// xorshift keeps every payload distinct and cheap to produce
		x ^= x << 13
		x ^= x >> 7
		x ^= x << 17
		body[i] = byte(x)
	}
}

// Verifier checks payloads in arrival order.
type Verifier struct {
	next     uint64
	received uint64
	bytes    uint64
	errors   uint64
}

// Check validates buf. Sequence gaps and digest mismatches are reported as
// KindInput errors; checking continues after the received sequence number.
func (v *Verifier) Check(buf *pool.Buffer) error {
	data := buf.Bytes()
	v.received++
	v.bytes += uint64(len(data))
	if len(data) < HeaderSize {
		v.errors++
		return api.NewError(api.KindInput, "datagen.Check", "payload shorter than header").
			WithContext("size", len(data))
	}
	seq := binary.LittleEndian.Uint64(data[0:])
	digest := binary.LittleEndian.Uint64(data[8:])
	expected := v.next
	v.next = seq + 1
	if got := xxhash.Sum64(data[HeaderSize:]); got != digest {
		v.errors++
		return api.NewError(api.KindInput, "datagen.Check", "digest mismatch").
			WithContext("seq", seq).WithContext("digest", fmt.Sprintf("%016x", got))
	}
	if seq != expected {
		v.errors++
		return api.NewError(api.KindInput, "datagen.Check", "sequence gap").
			WithContext("expected", expected).WithContext("seq", seq)
	}
	return nil
}

// Stats returns payloads and bytes seen and the number of failed checks.
func (v *Verifier) Stats() (received, bytes, errors uint64) {
	return v.received, v.bytes, v.errors
}
