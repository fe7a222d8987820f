// Copyright 2025 momentics@gmail.com
// Licensed under the Apache License, Version 2.0.

package affinity_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-daq/affinity"
	"github.com/momentics/hioload-daq/api"
)

func TestPinRejectsOutOfRange(t *testing.T) {
	assert.Error(t, affinity.Pin(-1))
	assert.Error(t, affinity.Pin(affinity.MaxCPU))
}

func TestPinFailureCarriesCPU(t *testing.T) {
	cpu := affinity.MaxCPU - 1
	if affinity.Supported() {
		cpus, err := affinity.Allowed()
		require.NoError(t, err)
		for _, c := range cpus {
			if c == cpu {
				t.Skip("every cpu id is available")
			}
		}
	}

	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		done <- affinity.Pin(cpu)
	}()
	err := <-done
	require.Error(t, err)
	var e *api.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "affinity.Pin", e.Op)
	assert.Equal(t, cpu, e.Context["cpu"])
	assert.NotNil(t, errors.Unwrap(err))
}

func TestPinAllowedCPU(t *testing.T) {
	if !affinity.Supported() {
		t.Skip("affinity not supported on this platform")
	}
	cpus, err := affinity.Allowed()
	require.NoError(t, err)
	require.NotEmpty(t, cpus)

	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		done <- affinity.Pin(cpus[0])
	}()
	assert.NoError(t, <-done)
}

func TestThreadIDStableWhileLocked(t *testing.T) {
	if !affinity.Supported() {
		t.Skip("thread ids not available on this platform")
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	id := affinity.ThreadID()
	assert.NotZero(t, id)
	runtime.Gosched()
	assert.Equal(t, id, affinity.ThreadID())
}
