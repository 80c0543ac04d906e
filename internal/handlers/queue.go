package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetQueueDepth returns pending/processing task counts per task type.
// GET /internal/queue
func (a *API) GetQueueDepth(c *gin.Context) {
	depth, err := a.queue.QueueDepth(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch queue depth"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"queue": depth})
}
