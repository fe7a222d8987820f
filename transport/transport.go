// File: transport/transport.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Transport drives one connection: it frames sends, keeps receives posted,
// grants and consumes credit, and hands completed receives to a consumer.
// All state is guarded by one mutex. Buffers are never released and the
// interface is never called while that mutex is held.

package transport

import (
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/core/concurrency"
	"github.com/momentics/hioload-daq/core/protocol"
	"github.com/momentics/hioload-daq/pool"
)

// worker event codes
const (
	evPoolReady = 1 << iota
	evDeliver
	evSendReady
	evClose
)

// Option customizes a Transport.
type Option func(*Transport)

// WithLogger sets the transport logger.
func WithLogger(log *zap.Logger) Option {
	return func(t *Transport) {
		if log != nil {
			t.log = log
		}
	}
}

type submission struct {
	id   int
	send bool
}

type counters struct {
	sentBuffers  uint64
	recvBuffers  uint64
	sentBytes    uint64
	recvBytes    uint64
	acksSent     uint64
	acksRecv     uint64
	backpressure uint64
}

// Transport is one point-to-point buffer stream.
type Transport struct {
	name   string
	cfg    Config
	iface  NetworkInterface
	pool   *pool.MemoryPool
	log    *zap.Logger
	worker *concurrency.Worker

	mu       sync.Mutex
	state    State
	err      error
	recs     recordArray
	subs     []submission
	flushing bool
	garbage  []*pool.Buffer
	events   int

	// sending side
	outputLen     int
	pending       *queue.Queue
	allowedOps    int
	wantSendReady bool
	onSendReady   func()

	// receiving side
	outstandRecvs  int
	inTransit      int
	recvQueue      *pool.BufferQueue
	poolWait       bool
	readyCounter   int
	ackThreshold   int
	ackOutstanding bool
	sink           BufferSink

	stats     counters
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a transport over iface taking receive buffers from p.
func New(name string, cfg Config, iface NetworkInterface, p *pool.MemoryPool, opts ...Option) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if iface == nil || p == nil {
		return nil, api.NewError(api.KindPointer, "transport.New", "interface and pool are required").
			WithContext("transport", name)
	}
	if err := p.CheckRequest(cfg.BufferSize, 0); err != nil {
		return nil, err
	}
	t := &Transport{
		name:         name,
		cfg:          cfg,
		iface:        iface,
		pool:         p,
		log:          zap.NewNop(),
		recs:         newRecordArray(cfg.NumRecords(), cfg.InlineDataSize),
		pending:      queue.New(),
		recvQueue:    pool.NewBufferQueue(cfg.InputQueue),
		ackThreshold: cfg.InputQueue,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(zap.String("transport", name))
	t.worker = concurrency.NewWorker(name, concurrency.EventFunc(t.processEvent),
		concurrency.WithWorkerLogger(t.log))
	return t, nil
}

// Name returns the transport name.
func (t *Transport) Name() string { return t.name }

// Config returns the transport configuration.
func (t *Transport) Config() Config { return t.cfg }

// Worker returns the worker that runs the transport's deferred work.
func (t *Transport) Worker() *concurrency.Worker { return t.worker }

// Start binds the transport to th, allocates the interface and posts the
// initial receives.
func (t *Transport) Start(th *concurrency.Thread) error {
	t.mu.Lock()
	if t.state != StateInit {
		t.mu.Unlock()
		return api.NewError(api.KindObject, "transport.Start", "transport already started").
			WithContext("state", t.state.String())
	}
	t.mu.Unlock()

	if err := t.worker.AssignToThread(th, false); err != nil {
		return err
	}
	if err := t.iface.AllocateNet(t, t.cfg.OutputQueue+1, t.cfg.InputQueue); err != nil {
		err = api.Wrap(api.KindConnect, "transport.Start", err)
		t.mu.Lock()
		t.failLocked(err)
		t.finish()
		return err
	}

	t.mu.Lock()
	if t.state == StateInit {
		t.state = StateFillingRecvQueue
		t.fillRecvQueueLocked()
	}
	t.finish()
	t.log.Debug("transport started",
		zap.Int("input_queue", t.cfg.InputQueue), zap.Int("output_queue", t.cfg.OutputQueue),
		zap.Bool("ackn", t.cfg.UseAckn))
	return nil
}

// State returns the lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the error that moved the transport into StateError.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Done is closed once the transport released all its resources.
func (t *Transport) Done() <-chan struct{} { return t.done }

// finish releases the mutex, then runs the work collected under it.
func (t *Transport) finish() {
	garbage, events := t.garbage, t.events
	t.garbage, t.events = nil, 0
	t.mu.Unlock()

	for _, buf := range garbage {
		buf.Release()
	}
	t.flush()
	t.post(events)
}

func (t *Transport) post(events int) {
	if events == 0 {
		return
	}
	if events&evClose != 0 {
		if !t.worker.FireEvent(evClose, nil, concurrency.PriorityMaximum) {
			go t.shutdown()
		}
	}
	for _, ev := range []int{evPoolReady, evDeliver, evSendReady} {
		if events&ev != 0 {
			t.worker.Fire(ev, nil)
		}
	}
}

func (t *Transport) processEvent(ev concurrency.Event) {
	switch ev.Code {
	case evPoolReady:
		t.mu.Lock()
		t.poolWait = false
		t.fillRecvQueueLocked()
		t.finish()
	case evDeliver:
		t.deliver()
	case evSendReady:
		t.mu.Lock()
		cb := t.onSendReady
		t.mu.Unlock()
		if cb != nil {
			cb()
		}
	case evClose:
		t.shutdown()
	}
}

// flush hands collected submissions to the interface in order. A flush
// started while another one runs leaves its entries to the running one.
func (t *Transport) flush() {
	t.mu.Lock()
	if t.flushing {
		t.mu.Unlock()
		return
	}
	t.flushing = true
	var err error
	for len(t.subs) > 0 && err == nil {
		if !t.state.running() {
			t.subs = nil
			break
		}
		subs := t.subs
		t.subs = nil
		t.mu.Unlock()
		for _, s := range subs {
			if s.send {
				err = t.iface.SubmitSend(s.id)
			} else {
				err = t.iface.SubmitRecv(s.id)
			}
			if err != nil {
				break
			}
		}
		t.mu.Lock()
	}
	t.flushing = false
	if err != nil {
		t.failLocked(api.Wrap(api.KindOutput, "transport.submit", err))
		t.subs = nil
	}
	garbage, events := t.garbage, t.events
	t.garbage, t.events = nil, 0
	t.mu.Unlock()

	for _, buf := range garbage {
		buf.Release()
	}
	t.post(events)
}

// failLocked moves a live transport into StateError and schedules close.
func (t *Transport) failLocked(err error) {
	if t.state == StateClosing || t.state == StateError {
		return
	}
	t.state = StateError
	t.err = err
	t.events |= evClose
	t.log.Error("transport failed", zap.Error(err))
}

// ProcessError reports an interface failure. The transport closes.
func (t *Transport) ProcessError(err error) {
	if err == nil {
		return
	}
	if api.KindOf(err) == api.KindGeneric {
		err = api.Wrap(api.KindDisconnect, "transport", err)
	}
	t.mu.Lock()
	t.failLocked(err)
	t.finish()
}

// Close shuts the transport down. Queued and posted buffers are released.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.state != StateError && t.state != StateClosing {
		t.state = StateClosing
	}
	t.mu.Unlock()
	t.shutdown()
	return nil
}

func (t *Transport) shutdown() {
	t.closeOnce.Do(func() {
		if err := t.iface.Close(); err != nil {
			t.log.Warn("interface close", zap.Error(err))
		}
		t.pool.CancelRequester(t)

		t.mu.Lock()
		var garbage []*pool.Buffer
		for id := range t.recs.recs {
			rec := &t.recs.recs[id]
			if !rec.used {
				continue
			}
			if rec.buf != nil {
				garbage = append(garbage, rec.buf)
				rec.buf = nil
			}
			t.releaseRecLocked(id)
		}
		for t.pending.Length() > 0 {
			garbage = append(garbage, t.pending.Remove().(*pool.Buffer))
		}
		for {
			buf, ok := t.recvQueue.Pop()
			if !ok {
				break
			}
			garbage = append(garbage, buf)
		}
		garbage = append(garbage, t.garbage...)
		t.garbage = nil
		t.subs = nil
		t.outputLen, t.outstandRecvs, t.allowedOps = 0, 0, 0
		state, err := t.state, t.err
		t.mu.Unlock()

		for _, buf := range garbage {
			buf.Release()
		}
		_ = t.worker.Halt(false)
		t.log.Info("transport closed", zap.String("state", state.String()), zap.Error(err))
		close(t.done)
	})
}

// PoolAvailable implements api.PoolRequester; the refill runs on the worker.
func (t *Transport) PoolAvailable(string) {
	t.worker.Fire(evPoolReady, nil)
}

// fillRecvQueueLocked posts fresh receive buffers until every input slot is
// either posted, in transit or queued for the consumer.
func (t *Transport) fillRecvQueueLocked() {
	for t.state.running() && !t.poolWait &&
		t.outstandRecvs+t.inTransit+t.recvQueue.Len() < t.cfg.InputQueue {
		buf := t.pool.TakeBufferReqFor(t.cfg.BufferSize, 0, t)
		if buf == nil {
			t.poolWait = true
			break
		}
		id, err := t.recs.take(buf, protocol.KindRecv)
		if err != nil {
			t.garbage = append(t.garbage, buf)
			t.failLocked(err)
			return
		}
		t.outstandRecvs++
		t.readyCounter++
		t.subs = append(t.subs, submission{id: id})
	}
	if t.state == StateFillingRecvQueue && t.outstandRecvs+t.inTransit+t.recvQueue.Len() == t.cfg.InputQueue {
		t.state = StateSteady
	}
	t.checkAckLocked()
}

// checkAckLocked emits a credit grant once enough fresh receives are posted
// and no grant is outstanding.
func (t *Transport) checkAckLocked() {
	if !t.cfg.UseAckn || t.ackOutstanding || !t.state.running() || t.readyCounter < t.ackThreshold {
		return
	}
	id, err := t.recs.take(nil, protocol.KindHeaderSend)
	if err != nil {
		t.failLocked(err)
		return
	}
	_ = protocol.Encode(t.recs.recs[id].header, protocol.NewCredit(t.readyCounter))
	t.log.Debug("credit granted", zap.Int("credit", t.readyCounter))
	t.ackOutstanding = true
	t.readyCounter = 0
	t.ackThreshold = max(t.cfg.InputQueue/2, 1)
	t.stats.acksSent++
	t.subs = append(t.subs, submission{id: id, send: true})
}

// releaseRecLocked frees record id and queues a buffer it still owned.
func (t *Transport) releaseRecLocked(id int) {
	if leaked := t.recs.release(id, t.log); leaked != nil {
		t.garbage = append(t.garbage, leaked)
	}
}

// Send queues buf for transmission and takes ownership of it on success.
// ErrBackpressure means the output queue is full; the caller keeps buf and
// retries after the send-ready notification.
func (t *Transport) Send(buf *pool.Buffer) error {
	if buf.IsNull() {
		return api.NewError(api.KindBuffer, "transport.Send", "null buffer")
	}
	if buf.TotalSize() > protocol.MaxPayload {
		return api.NewError(api.KindBuffer, "transport.Send", "buffer exceeds maximum payload").
			WithContext("size", buf.TotalSize())
	}
	t.mu.Lock()
	if !t.state.running() {
		err := t.closedErrLocked()
		t.mu.Unlock()
		return err
	}
	if t.outputLen >= t.cfg.OutputQueue {
		t.wantSendReady = true
		t.stats.backpressure++
		t.mu.Unlock()
		return ErrBackpressure
	}
	t.outputLen++
	var err error
	if t.cfg.UseAckn && (t.allowedOps <= 0 || t.pending.Length() > 0) {
		t.pending.Add(buf)
	} else if err = t.submitSendLocked(buf); err != nil {
		t.outputLen--
	}
	t.finish()
	return err
}

// CanSend reports whether Send would accept a buffer right now.
func (t *Transport) CanSend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.running() && t.outputLen < t.cfg.OutputQueue
}

// OnSendReady registers fn, called on the transport's thread when room
// frees up after Send reported backpressure.
func (t *Transport) OnSendReady(fn func()) {
	t.mu.Lock()
	t.onSendReady = fn
	t.mu.Unlock()
}

func (t *Transport) closedErrLocked() error {
	if t.err != nil {
		return api.Wrap(api.KindStop, "transport", t.err)
	}
	if t.state == StateInit {
		return api.NewError(api.KindStop, "transport", "transport not started")
	}
	return ErrClosed
}

func (t *Transport) submitSendLocked(buf *pool.Buffer) error {
	id, err := t.recs.take(buf, protocol.KindSend)
	if err != nil {
		t.failLocked(err)
		return err
	}
	rec := &t.recs.recs[id]
	size := buf.TotalSize()
	_ = protocol.Encode(rec.header, protocol.NewData(buf.TypeID(), size))
	if size > 0 && size <= t.cfg.InlineDataSize {
		rec.inline = buf.CopyTo(rec.header[protocol.HeaderSize:])
	}
	if t.cfg.UseAckn {
		t.allowedOps--
	}
	t.subs = append(t.subs, submission{id: id, send: true})
	return nil
}

func (t *Transport) drainPendingLocked() {
	for t.allowedOps > 0 && t.pending.Length() > 0 {
		buf := t.pending.Remove().(*pool.Buffer)
		if err := t.submitSendLocked(buf); err != nil {
			t.garbage = append(t.garbage, buf)
			t.outputLen--
			return
		}
	}
}

// SendSegments returns the memory to transmit for a submitted send: the
// header with any inline payload, then the payload segments.
func (t *Transport) SendSegments(id int) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.recs.get(id)
	if rec == nil || rec.kind&(protocol.KindSend|protocol.KindHeaderSend) == 0 {
		return nil
	}
	segs := append(rec.segs[:0], rec.header[:protocol.HeaderSize+rec.inline])
	if rec.inline == 0 && rec.buf != nil {
		for i := 0; i < rec.buf.NumSegments(); i++ {
			segs = append(segs, rec.buf.Segment(i))
		}
	}
	rec.segs = segs
	return segs
}

// ProcessSendCompl completes a submitted send.
func (t *Transport) ProcessSendCompl(id int) {
	t.mu.Lock()
	rec := t.recs.get(id)
	if rec == nil || rec.kind&(protocol.KindSend|protocol.KindHeaderSend) == 0 {
		t.mu.Unlock()
		return
	}
	if rec.kind == protocol.KindHeaderSend {
		t.releaseRecLocked(id)
		t.ackOutstanding = false
		t.checkAckLocked()
		t.finish()
		return
	}
	buf := rec.buf
	rec.buf = nil
	t.releaseRecLocked(id)
	t.stats.sentBuffers++
	t.stats.sentBytes += uint64(buf.TotalSize())
	t.garbage = append(t.garbage, buf)
	t.outputLen--
	if t.wantSendReady && t.outputLen < t.cfg.OutputQueue {
		t.wantSendReady = false
		t.events |= evSendReady
	}
	t.finish()
}

// RecvHeader returns where the header of a posted receive goes.
func (t *Transport) RecvHeader(id int) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec := t.recs.get(id)
	if rec == nil || rec.kind != protocol.KindRecv {
		return nil
	}
	return rec.header[:protocol.HeaderSize]
}

// RecvTargets decodes the received header and returns where its payload
// goes. A framing error fails the transport.
func (t *Transport) RecvTargets(id int) ([][]byte, error) {
	t.mu.Lock()
	rec := t.recs.get(id)
	if rec == nil || rec.kind != protocol.KindRecv {
		t.mu.Unlock()
		return nil, api.NewError(api.KindPointer, "transport.RecvTargets", "no posted receive").WithContext("rec", id)
	}
	h, err := protocol.Decode(rec.header)
	if err != nil {
		t.failLocked(err)
		t.finish()
		return nil, err
	}
	n := h.PayloadLen()
	switch {
	case n == 0:
		t.mu.Unlock()
		return nil, nil
	case n <= t.cfg.InlineDataSize:
		t.mu.Unlock()
		return [][]byte{rec.header[protocol.HeaderSize : protocol.HeaderSize+n]}, nil
	case n > rec.buf.TotalSize():
		err = api.NewError(api.KindInput, "transport.RecvTargets", "payload exceeds receive buffer").
			WithContext("size", n).WithContext("capacity", rec.buf.TotalSize())
		t.failLocked(err)
		t.finish()
		return nil, err
	}
	segs := rec.segs[:0]
	for i := 0; n > 0; i++ {
		seg := rec.buf.Segment(i)
		if len(seg) > n {
			seg = seg[:n]
		}
		segs = append(segs, seg)
		n -= len(seg)
	}
	rec.segs = segs
	t.mu.Unlock()
	return segs, nil
}

// ProcessRecvCompl completes a posted receive whose header and payload
// were written.
func (t *Transport) ProcessRecvCompl(id int) {
	t.mu.Lock()
	rec := t.recs.get(id)
	if rec == nil || rec.kind != protocol.KindRecv {
		t.mu.Unlock()
		return
	}
	if !t.state.running() {
		t.garbage = append(t.garbage, rec.buf)
		rec.buf = nil
		t.releaseRecLocked(id)
		t.outstandRecvs--
		t.finish()
		return
	}
	h, err := protocol.Decode(rec.header)
	if err != nil {
		t.failLocked(err)
		t.finish()
		return
	}
	if h.IsCredit() {
		t.allowedOps += int(h.Size)
		t.stats.acksRecv++
		t.drainPendingLocked()
		// the record keeps its buffer and is posted again
		t.subs = append(t.subs, submission{id: id})
		t.finish()
		return
	}

	buf := rec.buf
	rec.buf = nil
	n := h.PayloadLen()
	if n > 0 && n <= t.cfg.InlineDataSize {
		buf.CopyFrom(rec.header[protocol.HeaderSize : protocol.HeaderSize+n])
	}
	t.releaseRecLocked(id)
	t.outstandRecvs--
	t.inTransit++
	t.mu.Unlock()

	err = buf.SetTotalSize(n)
	buf.SetTypeID(h.TypeID)

	t.mu.Lock()
	t.inTransit--
	switch {
	case err != nil:
		t.garbage = append(t.garbage, buf)
		t.failLocked(api.Wrap(api.KindInput, "transport.ProcessRecvCompl", err))
	case !t.state.running():
		t.garbage = append(t.garbage, buf)
	default:
		t.recvQueue.Push(buf)
		t.stats.recvBuffers++
		t.stats.recvBytes += uint64(n)
		if t.sink != nil {
			t.events |= evDeliver
		}
		t.fillRecvQueueLocked()
	}
	t.finish()
}

// Recv returns the next received buffer. It is not available while a sink
// is installed.
func (t *Transport) Recv() (*pool.Buffer, bool) {
	t.mu.Lock()
	if t.sink != nil {
		t.mu.Unlock()
		return nil, false
	}
	buf, ok := t.recvQueue.Pop()
	if ok {
		t.fillRecvQueueLocked()
	}
	t.finish()
	return buf, ok
}

// SetSink installs the consumer of received buffers. Delivery happens on
// the transport's thread.
func (t *Transport) SetSink(s BufferSink) {
	t.mu.Lock()
	t.sink = s
	if s != nil {
		t.events |= evDeliver
	}
	t.finish()
}

// ResumeDelivery retries delivery after the sink refused a buffer.
func (t *Transport) ResumeDelivery() {
	t.worker.Fire(evDeliver, nil)
}

func (t *Transport) deliver() {
	for {
		t.mu.Lock()
		sink := t.sink
		if sink == nil || !t.state.running() {
			t.mu.Unlock()
			return
		}
		buf, ok := t.recvQueue.Pop()
		if !ok {
			t.mu.Unlock()
			return
		}
		t.inTransit++
		t.mu.Unlock()

		accepted := sink.DeliverBuffer(buf)

		t.mu.Lock()
		t.inTransit--
		switch {
		case accepted:
			t.fillRecvQueueLocked()
		case t.state.running():
			t.recvQueue.PushFront(buf)
		default:
			t.garbage = append(t.garbage, buf)
		}
		t.finish()
		if !accepted {
			return
		}
	}
}

// Stats returns a counter snapshot.
func (t *Transport) Stats() api.TransportStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return api.TransportStats{
		Name:          t.name,
		State:         t.state.String(),
		SentBuffers:   t.stats.sentBuffers,
		RecvBuffers:   t.stats.recvBuffers,
		SentBytes:     t.stats.sentBytes,
		RecvBytes:     t.stats.recvBytes,
		AcksSent:      t.stats.acksSent,
		AcksRecv:      t.stats.acksRecv,
		Backpressure:  t.stats.backpressure,
		RecsInUse:     t.recs.inUse,
		PendingSends:  t.pending.Length(),
		AllowedOps:    t.allowedOps,
		OutstandRecvs: t.outstandRecvs,
	}
}
