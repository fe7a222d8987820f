// Package debug holds invariant assertions. Built with -tags debug they panic;
// release builds log the violation and let the caller contain it.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package debug

import (
	"fmt"

	"go.uber.org/zap"
)

// Assert reports a violated invariant when cond is false and returns cond,
// so callers can bail out in release builds:
//
//	if !debug.Assert(rec.buf == nil, log, "record still owns a buffer") { return }
func Assert(cond bool, log *zap.Logger, msg string, fields ...zap.Field) bool {
	if cond {
		return true
	}
	if Enabled {
		panic(fmt.Sprintf("assertion failed: %s", msg))
	}
	if log != nil {
		log.Error("invariant violated: "+msg, fields...)
	}
	return false
}
