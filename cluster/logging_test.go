package cluster

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"dbcluster/action"
	"dbcluster/log"
	"dbcluster/sink"
)

func quarantineLogs(t *testing.T, quiet bool) int {
	core, logs := observer.New(zapcore.DebugLevel)
	log.SetCore(core)
	defer log.SetCore(zapcore.NewNopCore())

	a, _ := memMember(t, "a", sink.MemoryOptions{})
	b, bDB := memMember(t, "b", sink.MemoryOptions{})
	cfg := testConfig("quiet")
	cfg.QuietErrors = quiet
	c := newCluster(t, cfg, a, b)
	defer c.Dismantle()

	bDB.FailOn(errBoom, action.Insert)
	require.NoError(t, c.Insert("items", action.Row{"id": 1}))
	require.Equal(t, 1, c.Size())

	n := 0
	for _, e := range logs.All() {
		if e.Level == zapcore.WarnLevel && strings.Contains(e.Message, "quarantined") {
			n++
		}
	}
	return n
}

func TestQuarantineLogging(t *testing.T) {
	assert.Equal(t, 1, quarantineLogs(t, false))
	assert.Equal(t, 0, quarantineLogs(t, true))
}
