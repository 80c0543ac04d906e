package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateStatusArchivesPrevious(t *testing.T) {
	var ts TaskStatus

	ts.UpdateStatus("Queued")
	ts.UpdateStatus("Downloading")
	ts.UpdateStatus("Completed")

	assert.Equal(t, "Completed", ts.Status)
	require.Len(t, ts.StatusHistory, 2)
	assert.Equal(t, "Queued", ts.StatusHistory[0].Status)
	assert.Equal(t, "Downloading", ts.StatusHistory[1].Status)
}

func TestUpdateStatusSkipsEmptyInitial(t *testing.T) {
	var ts TaskStatus
	ts.UpdateStatus("First")

	assert.Empty(t, ts.StatusHistory, "empty initial status must not be archived")
}

func TestMarkCompletedClearsFailure(t *testing.T) {
	var ts TaskStatus
	ts.MarkStarted("task-1")
	ts.FailureReason = FailureImage
	ts.MarkFailed()
	require.True(t, ts.IsFailed())

	ts.MarkCompleted()

	assert.True(t, ts.IsCompleted())
	assert.False(t, ts.IsFailed())
	assert.Equal(t, FailureNone, ts.FailureReason)
	assert.Equal(t, "Completed", ts.Status)
}

func TestResetForRetryArchivesFailure(t *testing.T) {
	var ts TaskStatus
	ts.UpdateStatus("Download failed: connection reset")
	ts.FailureReason = FailureImage
	ts.MarkFailed()

	ok := ts.ResetForRetry()

	require.True(t, ok)
	assert.False(t, ts.IsFailed())
	assert.Equal(t, FailureNone, ts.FailureReason)
	assert.Equal(t, 1, ts.RetryCount)
	assert.Equal(t, "Retrying", ts.Status)

	require.Len(t, ts.FailureHistory, 1)
	assert.Equal(t, FailureImage, ts.FailureHistory[0].FailureReason)
	assert.Equal(t, "Download failed: connection reset", ts.FailureHistory[0].Status)
	assert.NotNil(t, ts.FailureHistory[0].FailedAt)
}

func TestResetForRetryOnUnfailedRecord(t *testing.T) {
	var ts TaskStatus
	ts.UpdateStatus("Running")

	ok := ts.ResetForRetry()

	assert.False(t, ok)
	assert.Equal(t, 0, ts.RetryCount)
	assert.Empty(t, ts.FailureHistory)
	// The refusal is visible in the status trail rather than silent.
	assert.Contains(t, ts.Status, "not failed")
}

func TestMarkStartedSetsTaskID(t *testing.T) {
	var ts TaskStatus
	ts.MarkStarted("abc-123")

	require.NotNil(t, ts.LastStarted)
	assert.Equal(t, "abc-123", ts.TaskID)
}
