//go:build !linux && !windows

// File: affinity/affinity_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package affinity

import "github.com/momentics/hioload-daq/api"

const supported = false

func setAffinityPlatform(int) error {
	return api.ErrNotSupported
}

// Allowed is not available on this platform.
func Allowed() ([]int, error) {
	return nil, api.ErrNotSupported
}

// ThreadID is unknown on this platform and reports 0.
func ThreadID() int { return 0 }
