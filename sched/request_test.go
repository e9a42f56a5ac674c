package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequest_InitialState(t *testing.T) {
	req := NewRequest("r1", "A", 3, 100, 20)

	assert.Equal(t, PhaseWaiting, req.Phase)
	assert.Equal(t, int64(100), req.RemainingPrefill())
	assert.Equal(t, int64(0), req.ProcessedTokens())
	assert.Equal(t, int64(-1), req.ScheduledTick)
	assert.Equal(t, int64(-1), req.FirstTokenTick)
	assert.Equal(t, int64(-1), req.FinishedTick)
	assert.False(t, req.IsDone())
}

func TestNewRequest_InvalidLengths_Panic(t *testing.T) {
	assert.Panics(t, func() { NewRequest("r", "A", 0, 0, 1) })
	assert.Panics(t, func() { NewRequest("r", "A", 0, 10, -1) })
	assert.NotPanics(t, func() { NewRequest("r", "A", 0, 10, 0) })
}

func TestAdvancePhase_Monotone(t *testing.T) {
	req := NewRequest("r", "A", 0, 10, 1)
	req.advancePhase(PhasePrefilling)
	req.advancePhase(PhaseDecoding)
	assert.Panics(t, func() { req.advancePhase(PhasePrefilling) })
	req.advancePhase(PhaseDone)
	assert.True(t, req.IsDone())
}

func TestFail_MarksDone(t *testing.T) {
	req := NewRequest("r", "A", 0, 10, 1)
	req.fail(9, "aborted")
	assert.True(t, req.IsDone())
	assert.True(t, req.Failed)
	assert.Equal(t, "aborted", req.FailureReason)
	assert.Equal(t, int64(9), req.FinishedTick)
}

func TestRequest_String(t *testing.T) {
	req := NewRequest("r7", "tenant-1", 0, 10, 1)
	assert.Contains(t, req.String(), "r7")
	assert.Contains(t, req.String(), "tenant-1")
}
