//go:build !debug

package debug

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAssertReleaseLogsAndContinues(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	log := zap.New(core)

	assert.True(t, Assert(true, log, "never logged"))
	assert.False(t, Assert(false, log, "double release", zap.Int("block", 3)))

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		assert.Contains(t, entries[0].Message, "double release")
		assert.Equal(t, int64(3), entries[0].ContextMap()["block"])
	}
	assert.False(t, Assert(false, nil, "nil logger is tolerated"))
}
