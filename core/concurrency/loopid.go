// File: core/concurrency/loopid.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop identity. A thread records the goroutine running its loop so that
// blocking calls made from inside a handler can be detected on every
// platform, independent of OS thread ids.

package concurrency

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// goid returns the id of the calling goroutine, or 0 if it cannot be parsed.
// The first line of a goroutine trace is "goroutine N [state]:".
func goid() int64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b = bytes.TrimPrefix(b, goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
