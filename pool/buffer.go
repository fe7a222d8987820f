// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Reference-counted scatter-gather buffer over pool blocks.

package pool

import (
	"github.com/momentics/hioload-daq/api"
)

// Buffer type ids understood by the core. Applications use TypeUser and above.
const (
	TypeGeneric    uint32 = 0
	TypeInt64      uint32 = 1
	TypeTimeSync   uint32 = 2
	TypeAckCounter uint32 = 3
	TypeRawData    uint32 = 4
	TypeEOF        uint32 = 5
	TypeEOL        uint32 = 6
	TypeUser       uint32 = 100
)

type segment struct {
	pool *MemoryPool
	id   int
	gen  uint32
	data []byte
}

// Buffer is an owning handle on one or more pool segments plus an optional
// header region. The nil *Buffer is the null buffer; every method accepts it.
// A Buffer must not be mutated from two goroutines at once.
type Buffer struct {
	segs    []segment
	hdr     segment
	hdrSize int
	typeID  uint32
	null    bool
}

// IsNull reports whether b carries no data handle at all.
func (b *Buffer) IsNull() bool { return b == nil || b.null }

// IsEmpty reports whether b has no payload segments.
func (b *Buffer) IsEmpty() bool { return b.IsNull() || len(b.segs) == 0 }

// NumSegments returns the number of payload segments.
func (b *Buffer) NumSegments() int {
	if b.IsNull() {
		return 0
	}
	return len(b.segs)
}

// Segment returns the memory of payload segment i (GetDataLocation).
func (b *Buffer) Segment(i int) []byte {
	if b.IsNull() || i < 0 || i >= len(b.segs) {
		return nil
	}
	return b.segs[i].data
}

// SegmentSize returns the length of payload segment i.
func (b *Buffer) SegmentSize(i int) int { return len(b.Segment(i)) }

// Segments returns all payload segments, suitable for vectored I/O.
func (b *Buffer) Segments() [][]byte {
	if b.IsEmpty() {
		return nil
	}
	out := make([][]byte, len(b.segs))
	for i, s := range b.segs {
		out[i] = s.data
	}
	return out
}

// TotalSize returns the sum of all segment lengths.
func (b *Buffer) TotalSize() int {
	if b.IsNull() {
		return 0
	}
	n := 0
	for _, s := range b.segs {
		n += len(s.data)
	}
	return n
}

// SetTotalSize shrinks the payload to n bytes, releasing segments that fall
// entirely beyond n. Growing is not possible.
func (b *Buffer) SetTotalSize(n int) error {
	total := b.TotalSize()
	if n < 0 || n > total {
		return api.NewError(api.KindBuffer, "buffer.SetTotalSize", "size outside buffer capacity").
			WithContext("size", n).WithContext("capacity", total)
	}
	if n == total {
		return nil
	}
	keep, acc := 0, 0
	for keep < len(b.segs) && acc < n {
		l := len(b.segs[keep].data)
		if acc+l > n {
			b.segs[keep].data = b.segs[keep].data[:n-acc]
			l = n - acc
		}
		acc += l
		keep++
	}
	releaseSegments(b.segs[keep:])
	clear(b.segs[keep:])
	b.segs = b.segs[:keep]
	return nil
}

// TypeID returns the application payload kind.
func (b *Buffer) TypeID() uint32 {
	if b.IsNull() {
		return TypeGeneric
	}
	return b.typeID
}

// SetTypeID sets the application payload kind.
func (b *Buffer) SetTypeID(t uint32) {
	if !b.IsNull() {
		b.typeID = t
	}
}

// Header returns the current header region.
func (b *Buffer) Header() []byte {
	if b.IsNull() || b.hdr.pool == nil {
		return nil
	}
	return b.hdr.data[:b.hdrSize]
}

// HeaderCapacity returns the reserved header size.
func (b *Buffer) HeaderCapacity() int {
	if b.IsNull() {
		return 0
	}
	return len(b.hdr.data)
}

// SetHeaderSize resizes the header within the reserved region.
func (b *Buffer) SetHeaderSize(n int) error {
	if n < 0 || n > b.HeaderCapacity() {
		return api.NewError(api.KindBuffer, "buffer.SetHeaderSize", "header size outside reserved region").
			WithContext("size", n).WithContext("reserved", b.HeaderCapacity())
	}
	b.hdrSize = n
	return nil
}

// CopyFrom copies src into the payload segments and returns the byte count,
// at most TotalSize.
func (b *Buffer) CopyFrom(src []byte) int {
	if b.IsNull() {
		return 0
	}
	n := 0
	for _, s := range b.segs {
		if n == len(src) {
			break
		}
		n += copy(s.data, src[n:])
	}
	return n
}

// CopyTo copies the payload into dst and returns the byte count.
func (b *Buffer) CopyTo(dst []byte) int {
	if b.IsNull() {
		return 0
	}
	n := 0
	for _, s := range b.segs {
		if n == len(dst) {
			break
		}
		n += copy(dst[n:], s.data)
	}
	return n
}

// Bytes returns a copy of the whole payload.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, b.TotalSize())
	b.CopyTo(out)
	return out
}

// Duplicate returns a second handle on the same segments. Each handle must
// be released separately.
func (b *Buffer) Duplicate() (*Buffer, error) {
	if b.IsNull() {
		return nil, nil
	}
	all := b.allSegments()
	if err := acquireSegments(all); err != nil {
		return nil, err
	}
	dup := &Buffer{
		segs:    append([]segment(nil), b.segs...),
		hdr:     b.hdr,
		hdrSize: b.hdrSize,
		typeID:  b.typeID,
	}
	return dup, nil
}

// AddBuffer appends src's payload segments to b. With adopt the segments
// move and src becomes null; its header region is released. Without adopt
// b gains its own references and src is left untouched.
func (b *Buffer) AddBuffer(src *Buffer, adopt bool) error {
	if src.IsNull() {
		return nil
	}
	if b.IsNull() {
		return api.NewError(api.KindBuffer, "buffer.AddBuffer", "target buffer is null")
	}
	if b == src {
		return api.NewError(api.KindBuffer, "buffer.AddBuffer", "buffer cannot be added to itself")
	}
	before, added := b.TotalSize(), src.TotalSize()
	if adopt {
		if err := validateSegments(src.segs); err != nil {
			return api.Wrap(api.KindBuffer, "buffer.AddBuffer", err)
		}
	} else if err := acquireSegments(src.segs); err != nil {
		return api.Wrap(api.KindBuffer, "buffer.AddBuffer", err)
	}
	if len(b.segs) == 0 && b.typeID == TypeGeneric {
		b.typeID = src.typeID
	}
	b.segs = append(b.segs, src.segs...)
	if adopt {
		if src.hdr.pool != nil {
			releaseSegments([]segment{src.hdr})
		}
		src.reset()
	}
	if b.TotalSize() != before+added {
		return api.NewError(api.KindBuffer, "buffer.AddBuffer", "inconsistent size bookkeeping").
			WithContext("before", before).WithContext("added", added).WithContext("after", b.TotalSize())
	}
	return nil
}

// Release returns every referenced block to its pool; the handle becomes
// null. Releasing a null buffer is a no-op.
func (b *Buffer) Release() {
	if b.IsNull() {
		return
	}
	releaseSegments(b.allSegments())
	b.reset()
}

func (b *Buffer) allSegments() []segment {
	all := b.segs
	if b.hdr.pool != nil {
		all = append(append(make([]segment, 0, len(b.segs)+1), b.segs...), b.hdr)
	}
	return all
}

func (b *Buffer) reset() {
	*b = Buffer{null: true}
}

// groupByPool splits segments into runs per owning pool, preserving order.
func groupByPool(segs []segment) map[*MemoryPool][]segment {
	groups := make(map[*MemoryPool][]segment, 1)
	for _, s := range segs {
		groups[s.pool] = append(groups[s.pool], s)
	}
	return groups
}

func releaseSegments(segs []segment) {
	if len(segs) == 0 {
		return
	}
	for p, run := range groupByPool(segs) {
		p.release(run)
	}
}

func acquireSegments(segs []segment) error {
	groups := groupByPool(segs)
	done := make([]*MemoryPool, 0, len(groups))
	for p, run := range groups {
		if err := p.acquire(run); err != nil {
			for _, q := range done {
				q.release(groups[q])
			}
			return err
		}
		done = append(done, p)
	}
	return nil
}

func validateSegments(segs []segment) error {
	for p, run := range groupByPool(segs) {
		if err := p.validate(run); err != nil {
			return err
		}
	}
	return nil
}
