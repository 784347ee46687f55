package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/Data-Integrities/backend-ai/internal/services"
)

// ActorHandler exposes observed actor state and the push-event channel.
type ActorHandler struct {
	poller *services.StatusPoller
	push   *services.PushReceiver
}

func NewActorHandler(poller *services.StatusPoller, push *services.PushReceiver) *ActorHandler {
	return &ActorHandler{poller: poller, push: push}
}

// List returns the last observation of every configured actor.
// GET /api/actors
func (h *ActorHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"actors":   h.poller.Statuses(),
		"interval": h.poller.Interval().String(),
	})
}

// Event accepts a lifecycle event pushed by an actor.
// POST /api/actors/:name/events
func (h *ActorHandler) Event(c *gin.Context) {
	var req models.ActorEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	res, err := h.push.HandleEvent(c.Param("name"), req.Event, req.Detail)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Poll runs a status check immediately instead of waiting for the next tick.
// POST /api/poller/run
func (h *ActorHandler) Poll(c *gin.Context) {
	finalized := h.poller.CheckNow(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"finalized": finalized})
}
