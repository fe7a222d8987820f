// Package api
// Author: momentics <momentics@gmail.com>
//
// Plain snapshot structs consumed by the monitoring layer.

package api

// ThreadStats is a snapshot of one event-loop thread.
type ThreadStats struct {
	Name       string
	Workers    int
	QueueLen   int
	Dispatched uint64
	Timeouts   uint64
}

// TransportStats is a snapshot of one network transport.
type TransportStats struct {
	Name          string
	State         string
	SentBuffers   uint64
	RecvBuffers   uint64
	SentBytes     uint64
	RecvBytes     uint64
	AcksSent      uint64
	AcksRecv      uint64
	Backpressure  uint64
	RecsInUse     int
	PendingSends  int
	AllowedOps    int
	OutstandRecvs int
}
