// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// CPU pinning for scheduler threads. Platform-specific implementations are
// located in separate files guarded by build tags.

package affinity

import "github.com/momentics/hioload-daq/api"

// MaxCPU bounds accepted cpu ids, matching the kernel CPU_SETSIZE.
const MaxCPU = 1024

// Pin binds the calling OS thread to cpuID. The caller must hold the thread
// via runtime.LockOSThread, otherwise the pin applies to whatever goroutine
// the runtime schedules next on that thread.
func Pin(cpuID int) error {
	if cpuID < 0 || cpuID >= MaxCPU {
		return api.NewError(api.KindGeneric, "affinity.Pin", "cpu id out of range").
			WithContext("cpu", cpuID)
	}
	if err := setAffinityPlatform(cpuID); err != nil {
		return &api.Error{Kind: api.KindGeneric, Op: "affinity.Pin", Err: err, Context: map[string]any{"cpu": cpuID}}
	}
	return nil
}

// Supported reports whether Pin can succeed on this platform.
func Supported() bool { return supported }
