//go:build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows implementation over SetThreadAffinityMask.

package affinity

import (
	"runtime"

	"golang.org/x/sys/windows"
)

const supported = true

var procSetThreadAffinityMask = windows.NewLazySystemDLL("kernel32.dll").NewProc("SetThreadAffinityMask")

func setAffinityPlatform(cpuID int) error {
	mask := uintptr(1) << cpuID
	ret, _, err := procSetThreadAffinityMask.Call(uintptr(windows.CurrentThread()), mask)
	if ret == 0 {
		return err
	}
	return nil
}

// Allowed returns every logical CPU; per-thread masks are not queried.
func Allowed() ([]int, error) {
	cpus := make([]int, runtime.NumCPU())
	for i := range cpus {
		cpus[i] = i
	}
	return cpus, nil
}

// ThreadID returns the id of the calling thread.
func ThreadID() int { return int(windows.GetCurrentThreadId()) }
