// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Implements the network header that precedes every buffer exchanged by a
// transport.
//
// Layout (16 bytes, host byte order, no padding):
//
//	offset 0  uint32 chkword  always ChkWord
//	offset 4  uint32 kind     KindSend or KindHeaderSend
//	offset 8  uint32 typeid   buffer type id
//	offset 12 uint32 size     payload length, or granted credit for KindHeaderSend
//
// A packet may carry up to the negotiated inline size of payload directly
// after the header.
package protocol
