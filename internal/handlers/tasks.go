package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Data-Integrities/backend-ai/internal/apperr"
	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/Data-Integrities/backend-ai/internal/services"
)

// TaskHandler serves one pull queue. The router mounts one per queue.
type TaskHandler struct {
	queue *services.TaskQueue
}

func NewTaskHandler(queue *services.TaskQueue) *TaskHandler {
	return &TaskHandler{queue: queue}
}

// Enqueue adds a task. With wait=true the request blocks until the task is
// resolved, expires, or the wait times out.
// POST /api/tasks?wait=true&timeout=30s
func (h *TaskHandler) Enqueue(c *gin.Context) {
	var req models.EnqueueTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	wait := c.Query("wait") == "true"
	timeout, err := parseWaitTimeout(c.Query("timeout"))
	if wait && err != nil {
		respondError(c, err)
		return
	}

	task, err := h.queue.Enqueue(req.Target, req.Action, req.Params, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		respondError(c, err)
		return
	}

	if !wait {
		c.JSON(http.StatusCreated, task)
		return
	}

	resolved, err := h.queue.WaitForResult(c.Request.Context(), task.ID, timeout)
	if err != nil {
		body := gin.H{"error": apperr.Message(err), "code": apperr.Code(err), "task": resolved}
		if resolved == nil {
			body["task"] = task
		}
		c.JSON(apperr.HTTPStatus(err), body)
		return
	}
	c.JSON(http.StatusOK, resolved)
}

// Pending claims the tasks addressed to the polling actor.
// GET /api/tasks/pending?actor=A
func (h *TaskHandler) Pending(c *gin.Context) {
	actor := c.Query("actor")
	if actor == "" {
		respondError(c, apperr.InvalidRequest("actor is required"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": h.queue.PollPending(actor)})
}

// PostResult resolves a claimed task.
// POST /api/tasks/:id/result
func (h *TaskHandler) PostResult(c *gin.Context) {
	var req models.TaskResultRequest
	if !bindOptional(c, &req) {
		return
	}

	task, err := h.queue.PostResult(c.Param("id"), req.Result, req.Error)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// Get returns one task.
// GET /api/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	task, err := h.queue.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// List returns every retained task of the queue.
// GET /api/tasks
func (h *TaskHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"queue": h.queue.Name(), "tasks": h.queue.List()})
}

// parseWaitTimeout accepts a Go duration or a number of seconds. Empty means
// the queue maximum.
func parseWaitTimeout(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.Atoi(s)
	if err != nil || secs < 0 {
		return 0, apperr.InvalidRequest("invalid timeout " + strconv.Quote(s))
	}
	return time.Duration(secs) * time.Second, nil
}
