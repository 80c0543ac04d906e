package taskqueue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Task types understood by the worker pool. Payloads are the *Payload
// structs in internal/importer, internal/verify and internal/batch.
const (
	TaskTypeImportJob     = "import_job"
	TaskTypeImportItem    = "import_item"
	TaskTypeMaterialize   = "materialize_item_assets"
	TaskTypeImportAsset   = "import_asset"
	TaskTypeItemComplete  = "item_assets_complete"
	TaskTypeThumbnail     = "populate_thumbnail"
	TaskTypeVerifyImage   = "verify_asset_image"
	TaskTypeDownloadImage = "download_asset_image"
	TaskTypeBatchWave     = "batch_wave"
	TaskTypeBatchCallback = "batch_wave_complete"
	TaskTypeCleanup       = "cleanup"
)

type Task struct {
	ID           uuid.UUID       `db:"id"`
	TaskType     string          `db:"task_type"`
	Payload      json.RawMessage `db:"payload"`
	Priority     int             `db:"priority"`
	Status       TaskStatus      `db:"status"`
	ScheduledFor time.Time       `db:"scheduled_for"`
	StartedAt    *time.Time      `db:"started_at"`
	CompletedAt  *time.Time      `db:"completed_at"`
	FailedAt     *time.Time      `db:"failed_at"`
	WorkerID     *string         `db:"worker_id"`
	RetryCount   int             `db:"retry_count"`
	MaxRetries   int             `db:"max_retries"`
	ErrorMessage *string         `db:"error_message"`
	Result       json.RawMessage `db:"result"`
	GroupID      *uuid.UUID      `db:"group_id"`
	CreatedAt    time.Time       `db:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"`
}

type ClaimedTask struct {
	ID         uuid.UUID       `db:"id"`
	TaskType   string          `db:"task_type"`
	Payload    json.RawMessage `db:"payload"`
	RetryCount int             `db:"retry_count"`
	GroupID    *uuid.UUID      `db:"group_id"`
}

// ChordPayload is what a chord callback task receives: the group id, the
// payload given at chord creation, and one result slot per member in enqueue
// order. A member that failed terminally contributes a null result.
type ChordPayload struct {
	Group   uuid.UUID         `json:"group"`
	Payload json.RawMessage   `json:"payload"`
	Results []json.RawMessage `json:"results"`
}
