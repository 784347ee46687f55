package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Data-Integrities/backend-ai/internal/middleware"
	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/Data-Integrities/backend-ai/internal/services"
)

// OperationHandler starts single and batch operations.
type OperationHandler struct {
	operations *services.OperationService
}

func NewOperationHandler(operations *services.OperationService) *OperationHandler {
	return &OperationHandler{operations: operations}
}

// streamURL is the execution stream path under the prefix set by middleware.PathPrefix.
func streamURL(c *gin.Context) string {
	return c.GetString(middleware.PathPrefixKey) + "/api/executions/stream"
}

// Start creates a pending execution and dispatches it to the target.
// POST /api/operations
func (h *OperationHandler) Start(c *gin.Context) {
	var req models.StartOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	exec, err := h.operations.StartOperation(c.Request.Context(), services.OperationRequest{
		ID:      req.ID,
		Target:  req.Target,
		Kind:    req.Kind,
		Command: req.Command,
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":         exec.ID,
		"status":     exec.Status,
		"stream_url": streamURL(c),
	})
}

// StartBatch runs the same action against several targets under one parent.
// POST /api/batches/:action
func (h *OperationHandler) StartBatch(c *gin.Context) {
	var req models.BatchOperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	parentID, childIDs, err := h.operations.StartBatch(c.Request.Context(), c.Param("action"), req.Targets, req.ParentID, req.Command)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"parent_id": parentID, "child_ids": childIDs})
}
