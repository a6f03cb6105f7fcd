package campaign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusScheduled.IsTerminal())
	assert.False(t, StatusStarting.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.False(t, StatusPaused.IsTerminal())
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusScheduled, StatusStarting, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusStarting, StatusPaused, true},
		{StatusProcessing, StatusPaused, true},
		{StatusProcessing, StatusCancelled, true},
		{StatusPaused, StatusProcessing, true},
		{StatusPaused, StatusCancelled, true},
		{StatusCompleted, StatusProcessing, false},
		{StatusCancelled, StatusProcessing, false},
		{StatusFailed, StatusPaused, false},
		{StatusScheduled, StatusProcessing, false},
		{StatusProcessing, StatusStarting, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestRecordOutcomeProgressInvariant(t *testing.T) {
	s := &State{Status: StatusProcessing, Total: 10}
	now := time.Now()

	for i := 0; i < 4; i++ {
		s.RecordOutcome(false, 0.10, now)
	}
	for i := 0; i < 2; i++ {
		s.RecordOutcome(true, 0.10, now)
	}

	assert.Equal(t, 4, s.Completed)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 6, s.Processed)
	assert.Equal(t, s.Completed+s.Failed, s.Processed)
	assert.Equal(t, StatusProcessing, s.Status)
}

func TestRecordOutcomeCompletesUnderThreshold(t *testing.T) {
	// 1 failure out of 10 is exactly the 10% threshold; the rate must be
	// strictly above it to fail the campaign.
	s := &State{Status: StatusProcessing, Total: 10, Completed: 9, Failed: 0, Processed: 9}
	now := time.Now()

	s.RecordOutcome(true, 0.10, now)

	assert.Equal(t, StatusCompleted, s.Status)
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, now, *s.CompletedAt)
}

func TestRecordOutcomeFailsOverThreshold(t *testing.T) {
	s := &State{Status: StatusProcessing, Total: 10, Completed: 8, Failed: 1, Processed: 9}
	now := time.Now()

	s.RecordOutcome(true, 0.10, now)

	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, StatusFailed, s.Status)
	require.NotNil(t, s.CompletedAt)
}

func TestRecordOutcomePausedIsSticky(t *testing.T) {
	s := &State{Status: StatusPaused, Total: 2, Completed: 1, Processed: 1}

	s.RecordOutcome(false, 0.10, time.Now())

	assert.Equal(t, StatusPaused, s.Status, "counters move but paused status stays")
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 2, s.Processed)
	assert.Nil(t, s.CompletedAt)
}

func TestRecordOutcomeCancelledIsSticky(t *testing.T) {
	s := &State{Status: StatusCancelled, Total: 1}

	s.RecordOutcome(false, 0.10, time.Now())

	assert.Equal(t, StatusCancelled, s.Status)
	assert.Equal(t, 1, s.Processed)
}

func TestRecordOutcomeStartingMovesToProcessing(t *testing.T) {
	s := &State{Status: StatusStarting, Total: 5}

	s.RecordOutcome(false, 0.10, time.Now())

	assert.Equal(t, StatusProcessing, s.Status)
}

func TestRecordOutcomeUnknownTotalStaysProcessing(t *testing.T) {
	s := &State{Status: StatusProcessing, Total: 0}

	for i := 0; i < 50; i++ {
		s.RecordOutcome(false, 0.10, time.Now())
	}

	assert.Equal(t, StatusProcessing, s.Status, "without a known total the campaign never self-terminates")
}

func TestRecordOutcomeCompletedAtSetOnce(t *testing.T) {
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := &State{Status: StatusProcessing, Total: 1}

	s.RecordOutcome(false, 0.10, first)
	require.NotNil(t, s.CompletedAt)
	assert.Equal(t, first, *s.CompletedAt)

	// Late duplicate outcome must not move the completion timestamp.
	s.RecordOutcome(false, 0.10, first.Add(time.Hour))
	assert.Equal(t, first, *s.CompletedAt)
	assert.Equal(t, StatusCompleted, s.Status)
}

func TestRecordOutcomeNeverExceedsTotal(t *testing.T) {
	s := &State{Status: StatusProcessing, Total: 3}

	for i := 0; i < 10; i++ {
		s.RecordOutcome(false, 0.10, time.Now())
		assert.LessOrEqual(t, s.Processed, s.Total)
		assert.Equal(t, s.Completed+s.Failed, s.Processed)
	}

	assert.Equal(t, 3, s.Processed)
	assert.Equal(t, 3, s.Completed)
}
