// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package api_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/momentics/hioload-daq/api"
)

func TestSentinelSurvivesWrapping(t *testing.T) {
	err := api.Wrap(api.KindTimeout, "thread.Execute", api.ErrTimeout)
	assert.True(t, errors.Is(err, api.ErrTimeout))
	assert.True(t, api.IsTimeout(err))

	err = fmt.Errorf("outer: %w", err)
	assert.True(t, errors.Is(err, api.ErrTimeout))
	assert.Equal(t, api.KindTimeout, api.KindOf(err))
}

func TestIsMatchesKindAndMessage(t *testing.T) {
	a := api.NewError(api.KindInput, "protocol.Decode", "bad chkword")
	assert.False(t, errors.Is(a, api.ErrStopped))
	assert.True(t, errors.Is(a, api.NewError(api.KindInput, "", "bad chkword")))
	assert.False(t, errors.Is(a, api.NewError(api.KindInput, "other", "bad chkword")))
}

func TestKindOfLooksThroughGenericWrappers(t *testing.T) {
	inner := api.NewError(api.KindDisconnect, "tcp.read", "eof")
	outer := api.Wrap(api.KindGeneric, "transport", inner)
	assert.Equal(t, api.KindDisconnect, api.KindOf(outer))
	assert.Equal(t, api.KindGeneric, api.KindOf(errors.New("plain")))
	assert.Nil(t, api.Wrap(api.KindInput, "x", nil))
}

func TestIsFatal(t *testing.T) {
	assert.False(t, api.IsFatal(nil))
	assert.False(t, api.IsFatal(api.ErrTimeout))
	assert.False(t, api.IsFatal(api.ErrStopped))
	assert.True(t, api.IsFatal(api.NewError(api.KindOutput, "send", "broken pipe")))
	assert.True(t, api.IsFatal(api.Wrap(api.KindDisconnect, "read", errors.New("reset"))))
}

func TestErrorString(t *testing.T) {
	err := api.NewError(api.KindPool, "pool.New", "bad size").WithContext("pool", "rx")
	assert.Equal(t, "[pool] pool.New: bad size (context: map[pool:rx])", err.Error())
	assert.Equal(t, "kind(99)", api.Kind(99).String())
	assert.Equal(t, "pending", api.OutcomePending.String())
	assert.Equal(t, api.OutcomeTrue, api.OutcomeOf(true))
}
