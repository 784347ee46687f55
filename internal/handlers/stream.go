package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Data-Integrities/backend-ai/internal/logging"
	"github.com/Data-Integrities/backend-ai/internal/models"
	"github.com/Data-Integrities/backend-ai/internal/services"
)

// StreamHandler pushes execution changes to dashboards over SSE or WebSocket.
type StreamHandler struct {
	broadcaster *services.Broadcaster
	heartbeat   time.Duration
	upgrader    websocket.Upgrader
	log         *logging.Logger
}

func NewStreamHandler(broadcaster *services.Broadcaster, heartbeat time.Duration, log *logging.Logger) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	if log == nil {
		log = logging.Discard()
	}
	return &StreamHandler{
		broadcaster: broadcaster,
		heartbeat:   heartbeat,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log.Component("stream"),
	}
}

// backfillEvents wraps the subscription snapshot as backfill frames.
func backfillEvents(sub *services.Subscription) []models.TransitionEvent {
	snapshot := sub.Backfill()
	events := make([]models.TransitionEvent, 0, len(snapshot))
	for _, exec := range snapshot {
		events = append(events, models.TransitionEvent{Type: models.EventBackfill, To: exec.Status, Execution: exec})
	}
	return events
}

func writeSSE(w io.Writer, evt models.TransitionEvent) bool {
	data, err := json.Marshal(evt)
	if err != nil {
		return true
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err == nil
}

// SSE streams the current executions followed by every change.
// GET /api/executions/stream
func (h *StreamHandler) SSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	sub := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(sub)

	_, _ = fmt.Fprint(c.Writer, ": ok\n\n")
	for _, evt := range backfillEvents(sub) {
		if !writeSSE(c.Writer, evt) {
			return
		}
	}
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				return false
			}
			return writeSSE(w, evt)
		case <-ticker.C:
			_, err := fmt.Fprint(w, ": heartbeat\n\n")
			return err == nil
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// WebSocket streams the same frames as SSE, one JSON message per event.
// GET /api/executions/ws
func (h *StreamHandler) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sub := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(sub)

	readTimeout := 2 * h.heartbeat
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	// Client messages are ignored; reading keeps pongs flowing and detects close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, evt := range backfillEvents(sub) {
		if err := conn.WriteJSON(evt); err != nil {
			return
		}
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.Events():
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
