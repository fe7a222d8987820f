// File: core/protocol/header.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Header encode/decode with chkword and size enforcement.

package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/momentics/hioload-daq/api"
)

// order is the host byte order; peers are expected to share it.
var order = binary.NativeEndian

// Header is the fixed prefix of every packet.
type Header struct {
	ChkWord uint32
	Kind    uint32
	TypeID  uint32
	Size    uint32
}

// NewData returns the header of a payload packet.
func NewData(typeID uint32, size int) Header {
	return Header{ChkWord: ChkWord, Kind: KindSend, TypeID: typeID, Size: uint32(size)}
}

// NewCredit returns the header-only packet granting credit sends.
func NewCredit(credit int) Header {
	return Header{ChkWord: ChkWord, Kind: KindHeaderSend, TypeID: TypeAckCredit, Size: uint32(credit)}
}

// IsCredit reports whether h grants send credit instead of carrying data.
func (h Header) IsCredit() bool { return h.Kind == KindHeaderSend }

// PayloadLen is the number of payload bytes following the header.
func (h Header) PayloadLen() int {
	if h.IsCredit() {
		return 0
	}
	return int(h.Size)
}

// Encode writes h into dst, which must hold HeaderSize bytes.
func Encode(dst []byte, h Header) error {
	if len(dst) < HeaderSize {
		return api.NewError(api.KindOutput, "protocol.Encode", "header region too small").
			WithContext("len", len(dst))
	}
	order.PutUint32(dst[0:], h.ChkWord)
	order.PutUint32(dst[4:], h.Kind)
	order.PutUint32(dst[8:], h.TypeID)
	order.PutUint32(dst[12:], h.Size)
	return nil
}

// Decode parses a header. A wrong chkword, unknown kind or oversized
// payload is a framing error of kind api.KindInput.
func Decode(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, api.NewError(api.KindInput, "protocol.Decode", "short header").
			WithContext("len", len(src))
	}
	h := Header{
		ChkWord: order.Uint32(src[0:]),
		Kind:    order.Uint32(src[4:]),
		TypeID:  order.Uint32(src[8:]),
		Size:    order.Uint32(src[12:]),
	}
	if h.ChkWord != ChkWord {
		return h, api.NewError(api.KindInput, "protocol.Decode", "bad chkword").
			WithContext("chkword", h.ChkWord)
	}
	switch h.Kind {
	case KindSend:
		if h.Size > MaxPayload {
			return h, api.NewError(api.KindInput, "protocol.Decode", "payload exceeds maximum size").
				WithContext("size", h.Size)
		}
	case KindHeaderSend:
	default:
		return h, api.NewError(api.KindInput, "protocol.Decode", "unknown packet kind").
			WithContext("kind", h.Kind)
	}
	return h, nil
}

// String implements fmt.Stringer.
func (h Header) String() string {
	if h.IsCredit() {
		return fmt.Sprintf("credit(%d)", h.Size)
	}
	return fmt.Sprintf("data(type=%d size=%d)", h.TypeID, h.Size)
}
