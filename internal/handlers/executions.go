package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/Data-Integrities/backend-ai/internal/services"
	"github.com/Data-Integrities/backend-ai/internal/validation"
)

// ExecutionHandler serves the execution records and the callback channel.
type ExecutionHandler struct {
	store   *services.ExecutionStore
	history *services.HistoryService
}

// NewExecutionHandler creates a new ExecutionHandler. history may be nil when
// archiving is disabled.
func NewExecutionHandler(store *services.ExecutionStore, history *services.HistoryService) *ExecutionHandler {
	return &ExecutionHandler{store: store, history: history}
}

// List returns the retained executions.
// GET /api/executions?status=PENDING&target=web
func (h *ExecutionHandler) List(c *gin.Context) {
	status := c.Query("status")
	target := c.Query("target")

	executions := make([]models.Execution, 0)
	for _, e := range h.store.List() {
		if status != "" && string(e.Status) != status {
			continue
		}
		if target != "" && e.Target != target {
			continue
		}
		executions = append(executions, e)
	}

	c.JSON(http.StatusOK, gin.H{"executions": executions})
}

// Get returns one execution.
// GET /api/executions/:id
func (h *ExecutionHandler) Get(c *gin.Context) {
	exec, err := h.store.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, exec)
}

// AppendLog adds a line to a pending or finished execution.
// POST /api/executions/:id/log
func (h *ExecutionHandler) AppendLog(c *gin.Context) {
	var req models.AppendLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	if err := h.store.AppendLog(c.Param("id"), validation.SanitizeLogLine(req.Line)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": c.Param("id"), "appended": true})
}

// Complete is the agent's success callback. Callbacks for unknown or finished
// executions are acknowledged with applied=false so agents never retry them.
// POST /api/executions/:id/complete
func (h *ExecutionHandler) Complete(c *gin.Context) {
	var req models.CompleteRequest
	if !bindOptional(c, &req) {
		return
	}
	id := c.Param("id")
	applied := h.store.Complete(id, req.Result, models.SourceCallback)
	c.JSON(http.StatusOK, h.callbackResponse(id, applied))
}

// Fail is the agent's failure callback.
// POST /api/executions/:id/fail
func (h *ExecutionHandler) Fail(c *gin.Context) {
	var req models.FailRequest
	if !bindOptional(c, &req) {
		return
	}
	id := c.Param("id")
	applied := h.store.Fail(id, req.Error, models.SourceCallback)
	c.JSON(http.StatusOK, h.callbackResponse(id, applied))
}

// History returns archived executions, newest first.
// GET /api/executions/history?limit=50
func (h *ExecutionHandler) History(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"records": []models.HistoryRecord{}})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.history.List(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *ExecutionHandler) callbackResponse(id string, applied bool) models.CallbackResponse {
	resp := models.CallbackResponse{ID: id, Applied: applied}
	if exec, err := h.store.Get(id); err == nil {
		resp.Status = exec.Status
	}
	return resp
}

// bindOptional binds a JSON body when one is present. An empty body is valid.
func bindOptional(c *gin.Context, obj any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		bindError(c, err)
		return false
	}
	return true
}
