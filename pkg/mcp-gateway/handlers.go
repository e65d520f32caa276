package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ragon/ragon/pkg/logger"
	"github.com/ragon/ragon/pkg/sse"
)

const sessionQueryParam = "session_id"

// Handlers serves the stream and ingress endpoints.
type Handlers struct {
	sessions    *Registry
	dispatcher  *Dispatcher
	pool        *TaskPool
	metrics     *Metrics
	messagePath string
	heartbeat   time.Duration
	maxBody     int64
}

// endpointURL is the address announced in the endpoint event.
func (h *Handlers) endpointURL(id SessionID) string {
	return h.messagePath + "?" + sessionQueryParam + "=" + url.QueryEscape(id.String())
}

// StreamHandler serves GET /sse. The session lives exactly as long as this
// call; every return path destroys it.
func (h *Handlers) StreamHandler(c *gin.Context) {
	ctx := c.Request.Context()
	writer, err := sse.NewWriter(c.Writer)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	session := h.sessions.Create()
	h.metrics.sessionOpened()
	log := logger.FromContext(ctx).With("session_id", session.ID())
	defer func() {
		if h.sessions.Destroy(session.ID()) {
			h.metrics.sessionClosed()
		}
		log.Info("SSE session closed")
	}()

	sse.SetHeaders(c.Writer.Header())
	c.Status(http.StatusOK)
	if err := writer.WriteEvent("endpoint", h.endpointURL(session.ID())); err != nil {
		log.Warn("Failed to write endpoint event", "error", err)
		return
	}
	log.Info("SSE session opened")

	var tick <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		for {
			ev, ok := session.Pop()
			if !ok {
				break
			}
			if ev.Kind == EventShutdown {
				log.Debug("Shutdown sentinel received")
				return
			}
			data, err := json.Marshal(ev.Payload)
			if err != nil {
				log.Error("Failed to serialize outbound message", "error", err)
				continue
			}
			if err := writer.WriteEvent("message", string(data)); err != nil {
				log.Debug("Client stream unusable", "error", err)
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-session.Ready():
		case <-tick:
			if err := writer.WriteComment("ping"); err != nil {
				log.Debug("Client stream unusable", "error", err)
				return
			}
		}
	}
}

// MessageHandler serves POST /messages. It only validates and schedules;
// the response travels over the session's stream.
func (h *Handlers) MessageHandler(c *gin.Context) {
	log := logger.FromContext(c.Request.Context())
	id := SessionID(c.Query(sessionQueryParam))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	if !h.sessions.Exists(id) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown session: %s", id)})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	req, err := ParseRequest(body)
	if err != nil {
		log.Debug("Rejected message", "session_id", id, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = h.pool.Submit(func(taskCtx context.Context) {
		h.dispatcher.Dispatch(taskCtx, id, req)
	})
	if err != nil {
		log.Error("Failed to schedule dispatch", "session_id", id, "method", req.Method, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to schedule request"})
		return
	}
	c.String(http.StatusAccepted, "Accepted")
}
