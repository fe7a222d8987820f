// File: transport/records.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed array of operation records guarded by the transport mutex.

package transport

import (
	"go.uber.org/zap"

	"github.com/momentics/hioload-daq/core/protocol"
	"github.com/momentics/hioload-daq/internal/debug"
	"github.com/momentics/hioload-daq/pool"
)

// record is one send, receive or credit operation. header holds the encoded
// header followed by the inline payload region.
type record struct {
	used   bool
	kind   uint32
	buf    *pool.Buffer
	header []byte
	inline int
	segs   [][]byte
}

type recordArray struct {
	recs   []record
	cursor int
	inUse  int
}

func newRecordArray(n, inline int) recordArray {
	a := recordArray{recs: make([]record, n)}
	for i := range a.recs {
		a.recs[i].header = make([]byte, protocol.HeaderSize+inline)
	}
	return a
}

// take scans from the rotating cursor for a free record and attaches buf.
func (a *recordArray) take(buf *pool.Buffer, kind uint32) (int, error) {
	n := len(a.recs)
	for i := 0; i < n; i++ {
		id := (a.cursor + i) % n
		rec := &a.recs[id]
		if rec.used {
			continue
		}
		a.cursor = (id + 1) % n
		rec.used = true
		rec.kind = kind
		rec.buf = buf
		rec.inline = 0
		a.inUse++
		return id, nil
	}
	return -1, ErrRecordsExhausted
}

// release frees a record. Its buffer must have been detached already; a
// buffer still attached is reported and handed back so the caller can
// release it outside the lock.
func (a *recordArray) release(id int, log *zap.Logger) *pool.Buffer {
	if id < 0 || id >= len(a.recs) || !a.recs[id].used {
		return nil
	}
	rec := &a.recs[id]
	leaked := rec.buf
	debug.Assert(leaked == nil, log, "record released with attached buffer", zap.Int("rec", id))
	rec.used = false
	rec.kind = 0
	rec.buf = nil
	rec.inline = 0
	rec.segs = rec.segs[:0]
	a.inUse--
	return leaked
}

// get returns the record if id is valid and in use.
func (a *recordArray) get(id int) *record {
	if id < 0 || id >= len(a.recs) || !a.recs[id].used {
		return nil
	}
	return &a.recs[id]
}
