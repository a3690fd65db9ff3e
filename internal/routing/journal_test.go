package routing

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRecordsDecisions(t *testing.T) {
	j := NewJournal(JournalConfig{Enabled: true, FlushInterval: 10 * time.Millisecond}, newTestLogger())

	j.Record(&Decision{ID: "d1", Provider: "openai", Service: "chat", Score: 0.9})
	j.Record(&Decision{ID: "d2", Provider: "anthropic", Service: "chat", Score: 0.8})
	j.Stop()

	recorded, dropped := j.Counts()
	assert.Equal(t, int64(2), recorded)
	assert.Equal(t, int64(0), dropped)

	recent := j.Recent(10)
	require.Len(t, recent, 2)
	assert.Equal(t, "d2", recent[0].ID)
	assert.Equal(t, "d1", recent[1].ID)
}

func TestJournalDisabled(t *testing.T) {
	j := NewJournal(JournalConfig{Enabled: false}, newTestLogger())

	j.Record(&Decision{ID: "d1"})
	j.Stop()

	recorded, _ := j.Counts()
	assert.Equal(t, int64(0), recorded)
	assert.Empty(t, j.Recent(10))
}

func TestJournalRetentionBound(t *testing.T) {
	j := NewJournal(JournalConfig{Enabled: true, Retained: 5, FlushInterval: 5 * time.Millisecond}, newTestLogger())

	for i := 0; i < 20; i++ {
		j.Record(&Decision{ID: fmt.Sprintf("d%d", i)})
	}
	j.Stop()

	recent := j.Recent(0)
	require.Len(t, recent, 5)
	assert.Equal(t, "d19", recent[0].ID)
}

func TestJournalRecordAfterStop(t *testing.T) {
	j := NewJournal(JournalConfig{Enabled: true}, newTestLogger())
	j.Stop()

	j.Record(&Decision{ID: "late"})

	recorded, _ := j.Counts()
	assert.Equal(t, int64(0), recorded)
}

func TestJournalRecentLimit(t *testing.T) {
	j := NewJournal(JournalConfig{Enabled: true}, newTestLogger())

	for i := 0; i < 4; i++ {
		j.Record(&Decision{ID: fmt.Sprintf("d%d", i)})
	}
	j.Stop()

	recent := j.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "d3", recent[0].ID)
	assert.Equal(t, "d2", recent[1].ID)
}
