// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Network header wire constants

package protocol

const (
	// ChkWord marks every valid header. Anything else is a corrupted stream.
	ChkWord uint32 = 123

	// HeaderSize is the encoded header length.
	HeaderSize = 16

	// Operation kinds. They are bit flags so a record can be tested for
	// any send variant with KindSend|KindHeaderSend.
	KindSend       uint32 = 0x1
	KindRecv       uint32 = 0x2
	KindHeaderSend uint32 = 0x4

	// TypeAckCredit tags header-only packets that grant send credit.
	TypeAckCredit uint32 = 3

	// MaxPayload bounds the size field of a data packet.
	MaxPayload = 1 << 30
)
