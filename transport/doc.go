// Package transport
// Author: momentics <momentics@gmail.com>
//
// Per-connection engine moving pool buffers through a bounded array of
// operation records. Every packet starts with a protocol.Header; a receiver
// paces its sender with credit grants carried by header-only packets.
//
// The actual I/O is delegated to a NetworkInterface. Implementations live in
// subpackages: tcp for stream sockets and mem for in-process pairs.
package transport
