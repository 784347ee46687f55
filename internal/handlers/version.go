package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Data-Integrities/backend-ai/internal/services"
	"github.com/Data-Integrities/backend-ai/internal/version"
)

type VersionHandler struct {
	store       *services.ExecutionStore
	broadcaster *services.Broadcaster
}

func NewVersionHandler(store *services.ExecutionStore, broadcaster *services.Broadcaster) *VersionHandler {
	return &VersionHandler{store: store, broadcaster: broadcaster}
}

// Info returns build information.
// GET /api/version
func (h *VersionHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, version.Info())
}

// Health reports liveness with a few counters.
// GET /health
func (h *VersionHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok", "version": version.Version}
	if h.store != nil {
		body["executions"] = len(h.store.List())
	}
	if h.broadcaster != nil {
		body["subscribers"] = h.broadcaster.SubscriberCount()
	}
	c.JSON(http.StatusOK, body)
}
