// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-daq/api"
	"github.com/momentics/hioload-daq/core/protocol"
)

func TestHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, protocol.HeaderSize)
	for _, h := range []protocol.Header{
		protocol.NewData(4, 0),
		protocol.NewData(101, 65536),
		protocol.NewCredit(8),
	} {
		require.NoError(t, protocol.Encode(buf, h))
		got, err := protocol.Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestCorruptedChkwordByteDetected(t *testing.T) {
	buf := make([]byte, protocol.HeaderSize)
	require.NoError(t, protocol.Encode(buf, protocol.NewData(1, 10)))
	for i := 0; i < 4; i++ {
		bad := append([]byte(nil), buf...)
		bad[i] ^= 0xff
		_, err := protocol.Decode(bad)
		require.Error(t, err, "byte %d", i)
		assert.Equal(t, api.KindInput, api.KindOf(err))
		assert.True(t, api.IsFatal(err))
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := protocol.Decode(make([]byte, protocol.HeaderSize-1))
	assert.Error(t, err)

	buf := make([]byte, protocol.HeaderSize)
	require.NoError(t, protocol.Encode(buf, protocol.Header{ChkWord: protocol.ChkWord, Kind: protocol.KindRecv}))
	_, err = protocol.Decode(buf)
	assert.Error(t, err, "recv is not a wire kind")

	require.NoError(t, protocol.Encode(buf, protocol.Header{ChkWord: protocol.ChkWord, Kind: protocol.KindSend, Size: protocol.MaxPayload + 1}))
	_, err = protocol.Decode(buf)
	assert.Error(t, err)

	assert.Error(t, protocol.Encode(make([]byte, 4), protocol.NewCredit(1)))
}

func TestPayloadLen(t *testing.T) {
	assert.Equal(t, 0, protocol.NewCredit(12).PayloadLen())
	assert.Equal(t, 12, protocol.NewData(0, 12).PayloadLen())
	assert.True(t, protocol.NewCredit(1).IsCredit())
	assert.Equal(t, "credit(5)", protocol.NewCredit(5).String())
}
