package health

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestStateTransitions(t *testing.T) {
	tr := NewTracker(Config{DegradedThreshold: 3, UnhealthyThreshold: 6}, newTestLogger())

	assert.Equal(t, StateHealthy, tr.StateOf("openai"))

	tr.RecordFailure("openai")
	tr.RecordFailure("openai")
	assert.Equal(t, StateHealthy, tr.StateOf("openai"))

	tr.RecordFailure("openai")
	assert.Equal(t, StateDegraded, tr.StateOf("openai"))

	tr.RecordFailure("openai")
	tr.RecordFailure("openai")
	assert.Equal(t, StateDegraded, tr.StateOf("openai"))

	tr.RecordFailure("openai")
	assert.Equal(t, StateUnhealthy, tr.StateOf("openai"))
}

func TestSuccessResetsToHealthy(t *testing.T) {
	tr := NewTracker(Config{DegradedThreshold: 2, UnhealthyThreshold: 4}, newTestLogger())

	for i := 0; i < 4; i++ {
		tr.RecordFailure("openai")
	}
	require.Equal(t, StateUnhealthy, tr.StateOf("openai"))

	tr.RecordSuccess("openai")
	assert.Equal(t, StateHealthy, tr.StateOf("openai"))

	status, ok := tr.Status("openai")
	require.True(t, ok)
	assert.Equal(t, 0, status.ConsecutiveFailures)
}

func TestStatusUnknownProvider(t *testing.T) {
	tr := NewTracker(Config{}, newTestLogger())

	_, ok := tr.Status("nobody")
	assert.False(t, ok)
	assert.Equal(t, StateHealthy, tr.StateOf("nobody"))
}

func TestSweepStaleFlagsInactive(t *testing.T) {
	tr := NewTracker(Config{StaleAfter: time.Nanosecond}, newTestLogger())

	tr.RecordSuccess("openai")
	time.Sleep(time.Millisecond)

	flagged := tr.SweepStale()
	assert.Equal(t, []string{"openai"}, flagged)

	// Already flagged, not reported again.
	flagged = tr.SweepStale()
	assert.Empty(t, flagged)

	status, ok := tr.Status("openai")
	require.True(t, ok)
	assert.True(t, status.Stale)
	assert.Equal(t, StateHealthy, status.State)
}

func TestSweepStaleLeavesFailureCounterAlone(t *testing.T) {
	tr := NewTracker(Config{DegradedThreshold: 3, StaleAfter: time.Nanosecond}, newTestLogger())

	tr.RecordFailure("openai")
	tr.RecordFailure("openai")
	time.Sleep(time.Millisecond)

	tr.SweepStale()

	status, ok := tr.Status("openai")
	require.True(t, ok)
	assert.Equal(t, 2, status.ConsecutiveFailures)
	assert.Equal(t, StateHealthy, status.State)
}

func TestActivityClearsStale(t *testing.T) {
	tr := NewTracker(Config{StaleAfter: time.Nanosecond}, newTestLogger())

	tr.RecordSuccess("openai")
	time.Sleep(time.Millisecond)
	tr.SweepStale()

	tr.RecordSuccess("openai")

	status, ok := tr.Status("openai")
	require.True(t, ok)
	assert.False(t, status.Stale)
}

func TestSnapshotCoversAllProviders(t *testing.T) {
	tr := NewTracker(Config{}, newTestLogger())

	tr.RecordSuccess("openai")
	tr.RecordFailure("anthropic")

	snap := tr.Snapshot()
	assert.Len(t, snap, 2)
	assert.Contains(t, snap, "openai")
	assert.Contains(t, snap, "anthropic")
}
