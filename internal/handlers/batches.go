package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/concordia/import-service/internal/database"
)

// CreateBatchRequest represents the request for starting a verification batch
type CreateBatchRequest struct {
	// AssetIDs limits the batch to specific assets. Empty means every asset
	// with a stored image.
	AssetIDs []int64 `json:"assetIds"`
}

// CreateBatch bulk-creates verify jobs under a fresh batch id and starts the
// first verification wave.
// POST /internal/batches
func (a *API) CreateBatch(c *gin.Context) {
	var req CreateBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	assetIDs := req.AssetIDs
	if len(assetIDs) == 0 {
		var err error
		assetIDs, err = a.store.AssetIDsWithImages(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list assets"})
			return
		}
	}
	if len(assetIDs) == 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "No assets with stored images to verify"})
		return
	}

	batchID := uuid.New()
	created, err := a.scheduler.CreateVerifyBatch(ctx, assetIDs, batchID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create verification batch"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"batch": batchID.String(),
		"jobs":  created,
	})
}

// ListBatches returns recently active batches with unfinished work.
// GET /internal/batches
func (a *API) ListBatches(c *gin.Context) {
	batches, err := a.store.RecentIncompleteBatches(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch batches"})
		return
	}

	if batches == nil {
		batches = []database.BatchSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches, "total": len(batches)})
}

// GetBatch returns verify and repair-download counts for one batch.
// GET /internal/batches/:batchId
func (a *API) GetBatch(c *gin.Context) {
	batchID, err := uuid.Parse(c.Param("batchId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "batchId must be a UUID"})
		return
	}

	status, err := a.store.GetBatchStatus(c.Request.Context(), batchID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch batch status"})
		return
	}
	if status.Verify.Total == 0 && status.Download.Total == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}

	c.JSON(http.StatusOK, status)
}
