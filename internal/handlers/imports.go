package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"

	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/importer"
	"github.com/concordia/import-service/internal/taskqueue"
)

// CreateImportRequest represents the request for starting an import job
type CreateImportRequest struct {
	ProjectID  int64  `json:"projectId" binding:"required"`
	URL        string `json:"url" binding:"required"`
	CreatedBy  string `json:"createdBy"`
	Redownload bool   `json:"redownload"`
}

// ImportJobResponse represents an import job with live progress counts
type ImportJobResponse struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"projectId"`
	SourceURL   string     `json:"sourceUrl"`
	CreatedBy   string     `json:"createdBy"`
	Status      string     `json:"status"`
	TaskID      string     `json:"taskId"`
	LastStarted *time.Time `json:"lastStarted"`
	Completed   *time.Time `json:"completed"`
	Failed      *time.Time `json:"failed"`
	Items       int        `json:"items"`
	ItemsDone   int        `json:"itemsDone"`
	ItemsFailed int        `json:"itemsFailed"`
}

func importJobResponse(job *database.ImportJob, total, completed, failed int) ImportJobResponse {
	return ImportJobResponse{
		ID:          job.ID,
		ProjectID:   job.ProjectID,
		SourceURL:   job.SourceURL,
		CreatedBy:   job.CreatedBy,
		Status:      job.Status,
		TaskID:      job.TaskID,
		LastStarted: job.LastStarted,
		Completed:   job.Completed,
		Failed:      job.Failed,
		Items:       total,
		ItemsDone:   completed,
		ItemsFailed: failed,
	}
}

// CreateImport creates an import job for a collection or item URL and
// enqueues the discovery task that fans it out.
// POST /internal/imports
func (a *API) CreateImport(c *gin.Context) {
	var req CreateImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be an absolute http(s) URL"})
		return
	}

	ctx := c.Request.Context()

	if _, err := a.store.GetProject(ctx, req.ProjectID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load project"})
		return
	}

	job, err := a.store.CreateImportJob(ctx, req.ProjectID, req.URL, req.CreatedBy)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create import job"})
		return
	}

	taskID, err := a.queue.ScheduleTask(ctx, taskqueue.ScheduleTaskInput{
		TaskType: taskqueue.TaskTypeImportJob,
		Payload:  importer.ImportJobPayload{JobID: job.ID, Redownload: req.Redownload},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue import job"})
		return
	}

	job.TaskID = taskID.String()
	job.UpdateStatus("Queued")
	if err := a.store.SaveTaskStatus(ctx, job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save import job"})
		return
	}

	c.JSON(http.StatusCreated, importJobResponse(job, 0, 0, 0))
}

// GetImport returns one import job with its per-item progress counts.
// GET /internal/imports/:importId
func (a *API) GetImport(c *gin.Context) {
	jobID, err := strconv.ParseInt(c.Param("importId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "importId must be an integer"})
		return
	}

	ctx := c.Request.Context()

	job, err := a.store.GetImportJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Import job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch import job"})
		return
	}

	total, completed, failed, err := a.store.ImportJobProgress(ctx, jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch import progress"})
		return
	}

	c.JSON(http.StatusOK, importJobResponse(job, total, completed, failed))
}

// StaleImportResponse represents one import item stuck mid-flight
type StaleImportResponse struct {
	ID          int64      `json:"id"`
	JobID       int64      `json:"jobId"`
	URL         string     `json:"url"`
	Status      string     `json:"status"`
	LastStarted *time.Time `json:"lastStarted"`
}

// ListStaleImports returns import items that started but never finished,
// older than the given age (default one hour).
// GET /internal/imports/stale
func (a *API) ListStaleImports(c *gin.Context) {
	olderThan := time.Hour
	if raw := c.Query("olderThan"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid olderThan duration"})
			return
		}
		olderThan = d
	}

	items, err := a.store.StaleImportItems(c.Request.Context(), olderThan)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch stale imports"})
		return
	}

	stale := []StaleImportResponse{}
	for _, item := range items {
		stale = append(stale, StaleImportResponse{
			ID:          item.ID,
			JobID:       item.JobID,
			URL:         item.URL,
			Status:      item.Status,
			LastStarted: item.LastStarted,
		})
	}

	c.JSON(http.StatusOK, gin.H{"items": stale, "total": len(stale)})
}

// RetryAssetImport re-enqueues the most recent import task for an asset,
// resetting its retry bookkeeping. Used after an upstream outage exhausted
// the automatic retries.
// POST /internal/assets/:assetId/retry
func (a *API) RetryAssetImport(c *gin.Context) {
	assetID, err := strconv.ParseInt(c.Param("assetId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "assetId must be an integer"})
		return
	}

	ctx := c.Request.Context()

	ia, err := a.store.LatestImportAssetForAsset(ctx, assetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No import record for asset"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch import record"})
		return
	}

	if ia.IsCompleted() {
		c.JSON(http.StatusConflict, gin.H{"error": "Asset import already completed"})
		return
	}

	if ia.IsFailed() {
		// Archives the failure and clears the failed marker. The retry
		// budget re-opens for a fresh round of automatic retries.
		ia.ResetForRetry()
		ia.RetryCount = 0
	} else {
		ia.UpdateStatus("Retry requested")
	}

	taskID, err := a.queue.ScheduleTask(ctx, taskqueue.ScheduleTaskInput{
		TaskType: taskqueue.TaskTypeImportAsset,
		Payload:  importer.ImportAssetPayload{ImportItemAssetID: ia.ID},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to enqueue import task"})
		return
	}

	ia.TaskID = taskID.String()
	if err := a.store.SaveTaskStatus(ctx, ia); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save import record"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"assetId": assetID,
		"taskId":  taskID.String(),
	})
}
