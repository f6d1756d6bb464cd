package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type streamEventPayload struct {
	DocumentIDs []string `json:"documentIds"`
	Timestamp   string   `json:"timestamp"`
	Source      string   `json:"source"`
}

// handleDocumentStream keeps a server-sent event stream open for the caller and
// forwards documents-changed notifications until the client disconnects.
func (h *httpHandler) handleDocumentStream(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	stream, cleanup := h.realtime.Subscribe(ctx, userID.String())
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(realtimeEventReady, streamEventPayload{
		DocumentIDs: []string{},
		Timestamp:   formatTimestamp(time.Now()),
		Source:      realtimeSourceBackend,
	})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, streamEventPayload{
				DocumentIDs: []string{},
				Timestamp:   formatTimestamp(time.Now()),
				Source:      realtimeSourceBackend,
			})
			c.Writer.Flush()
		case message, open := <-stream:
			if !open {
				h.logger.Debug("realtime stream closed", zap.String("user_id", userID.String()))
				return
			}
			documentIDs := message.DocumentIDs
			if documentIDs == nil {
				documentIDs = []string{}
			}
			c.SSEvent(message.EventType, streamEventPayload{
				DocumentIDs: documentIDs,
				Timestamp:   formatTimestamp(message.Timestamp),
				Source:      realtimeSourceBackend,
			})
			c.Writer.Flush()
		}
	}
}
