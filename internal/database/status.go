package database

import "time"

// FailureReason classifies why a task-status record last failed.
type FailureReason string

const (
	// FailureNone means the record has no recorded failure class.
	FailureNone FailureReason = ""
	// FailureImage marks a download/storage/checksum failure eligible for
	// the application-level retry policy.
	FailureImage FailureReason = "image"
	// FailureRetries marks a record whose image retries were exhausted.
	FailureRetries FailureReason = "retries"
)

// StatusEntry is one archived status message.
type StatusEntry struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureEntry is one archived failure snapshot.
type FailureEntry struct {
	FailedAt      *time.Time    `json:"failed_at"`
	FailureReason FailureReason `json:"failure_reason"`
	Status        string        `json:"status"`
}

// TaskStatus tracks lifecycle timestamps, status history, failure history and
// retry bookkeeping for one unit of pipeline work. It is embedded by every
// import/verify/download record rather than inherited.
//
// Invariant: at most one of Completed/Failed is set after a run; a record
// with Completed set must never be re-executed.
type TaskStatus struct {
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	LastStarted    *time.Time     `json:"last_started"`
	Completed      *time.Time     `json:"completed"`
	Failed         *time.Time     `json:"failed"`
	Status         string         `json:"status"`
	TaskID         string         `json:"task_id"`
	FailureReason  FailureReason  `json:"failure_reason"`
	RetryCount     int            `json:"retry_count"`
	FailureHistory []FailureEntry `json:"failure_history"`
	StatusHistory  []StatusEntry  `json:"status_history"`
}

// UpdateStatus archives the previous status message with its last-modified
// time, then overwrites the current status.
func (ts *TaskStatus) UpdateStatus(status string) {
	if ts.Status != "" {
		ts.StatusHistory = append(ts.StatusHistory, StatusEntry{
			Status:    ts.Status,
			Timestamp: ts.UpdatedAt,
		})
	}
	ts.Status = status
	ts.UpdatedAt = time.Now()
}

// RecordFailure appends the current failure snapshot onto the failure
// history. It does not clear the current failure fields; that is
// ResetForRetry's job.
func (ts *TaskStatus) RecordFailure() {
	ts.FailureHistory = append(ts.FailureHistory, FailureEntry{
		FailedAt:      ts.Failed,
		FailureReason: ts.FailureReason,
		Status:        ts.Status,
	})
	ts.UpdatedAt = time.Now()
}

// ResetForRetry archives the current failure, clears the failure fields,
// bumps the retry count and sets the status to "Retrying". Returns false
// without touching history or the retry count when the record is not failed;
// the no-op is reported through the status message rather than silently
// ignored.
func (ts *TaskStatus) ResetForRetry() bool {
	if ts.Failed == nil {
		ts.UpdateStatus("Retry requested for a record that is not failed")
		return false
	}

	ts.RecordFailure()
	ts.Failed = nil
	ts.FailureReason = FailureNone
	ts.UpdateStatus("Retrying")
	ts.RetryCount++
	return true
}

// MarkStarted records the start of an execution attempt.
func (ts *TaskStatus) MarkStarted(taskID string) {
	now := time.Now()
	ts.LastStarted = &now
	ts.TaskID = taskID
	ts.UpdatedAt = now
}

// MarkCompleted records terminal success and clears any failure state.
func (ts *TaskStatus) MarkCompleted() {
	now := time.Now()
	ts.Completed = &now
	ts.Failed = nil
	ts.FailureReason = FailureNone
	ts.UpdateStatus("Completed")
}

// MarkFailed records terminal failure of the current attempt.
func (ts *TaskStatus) MarkFailed() {
	now := time.Now()
	ts.Failed = &now
	ts.UpdatedAt = now
}

// IsCompleted reports whether the record reached terminal success.
func (ts *TaskStatus) IsCompleted() bool { return ts.Completed != nil }

// IsFailed reports whether the record is currently failed.
func (ts *TaskStatus) IsFailed() bool { return ts.Failed != nil }
