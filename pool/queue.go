// Package pool
// Author: momentics <momentics@gmail.com>
//
// Bounded FIFO of buffer handles. Not thread-safe; owners guard it.

package pool

// BufferQueue is a fixed-capacity ring of buffer handles.
type BufferQueue struct {
	items []*Buffer
	head  int
	n     int
}

// NewBufferQueue allocates a queue holding up to capacity buffers.
func NewBufferQueue(capacity int) *BufferQueue {
	return &BufferQueue{items: make([]*Buffer, max(capacity, 1))}
}

// Push appends buf; returns false if full.
func (q *BufferQueue) Push(buf *Buffer) bool {
	if q.n == len(q.items) {
		return false
	}
	q.items[(q.head+q.n)%len(q.items)] = buf
	q.n++
	return true
}

// PushFront puts buf back at the head; returns false if full.
func (q *BufferQueue) PushFront(buf *Buffer) bool {
	if q.n == len(q.items) {
		return false
	}
	q.head = (q.head - 1 + len(q.items)) % len(q.items)
	q.items[q.head] = buf
	q.n++
	return true
}

// Pop removes the oldest buffer; ok false if empty.
func (q *BufferQueue) Pop() (buf *Buffer, ok bool) {
	if q.n == 0 {
		return nil, false
	}
	buf = q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.n--
	return buf, true
}

// Peek returns the oldest buffer without removing it.
func (q *BufferQueue) Peek() (*Buffer, bool) {
	if q.n == 0 {
		return nil, false
	}
	return q.items[q.head], true
}

// Len returns number of queued buffers.
func (q *BufferQueue) Len() int { return q.n }

// Cap returns logical queue capacity.
func (q *BufferQueue) Cap() int { return len(q.items) }

// Full reports whether Push would fail.
func (q *BufferQueue) Full() bool { return q.n == len(q.items) }

// Drain releases every queued buffer.
func (q *BufferQueue) Drain() {
	for {
		buf, ok := q.Pop()
		if !ok {
			return
		}
		buf.Release()
	}
}
