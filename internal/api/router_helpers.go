package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/middleware"
	"github.com/persistorai/seovault/internal/models"
	"github.com/persistorai/seovault/internal/ws"
)

// wsHandler upgrades an authenticated request to the audit event stream.
// The actor must hold view_reports.
func wsHandler(appCtx context.Context, log *logrus.Logger, hub *ws.Hub, corsOrigins []string, lookup ws.ActorValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := actor(c)
		if !ok {
			return
		}
		if !a.Can(models.CapViewReports) {
			respondError(c, http.StatusForbidden, ErrCodeForbidden, "missing capability for this action")
			return
		}

		// Extract the raw API key for periodic re-validation.
		apiKey := middleware.ExtractBearerToken(c)

		// CORS origins are reused as WebSocket origin patterns. The config
		// validator ensures these are safe host patterns (no wildcards etc.).
		conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
			OriginPatterns:       corsOrigins,
			CompressionMode:      websocket.CompressionContextTakeover,
			CompressionThreshold: 128,
		})
		if err != nil {
			log.WithError(err).Error("websocket accept failed")

			return
		}

		client := ws.NewClient(hub, conn, lookup, a.ID, apiKey)
		hub.Register(client)

		// Derive a context that cancels when either the server shuts down or the request ends.
		wsCtx, wsCancel := context.WithCancel(appCtx)
		go func() {
			select {
			case <-c.Request.Context().Done():
				wsCancel()
			case <-wsCtx.Done():
			}
		}()

		go client.WritePump(wsCtx)
		client.ReadPump(wsCtx)
		wsCancel()
	}
}

// ginLogger writes one access log line per request. Server errors log at
// Error and other client errors at Warn; a 429 is normal flow control and
// stays at Info.
func ginLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		fields := logrus.Fields{
			"method":   c.Request.Method,
			"route":    c.FullPath(),
			"status":   status,
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}
		if rid, exists := c.Get(middleware.RequestIDKey); exists {
			fields["request_id"] = rid
		}
		if cid := c.GetString("client_request_id"); cid != "" {
			fields["client_request_id"] = cid
		}
		if a, ok := middleware.ActorFrom(c); ok {
			fields["actor"] = a.ID
		}

		entry := log.WithFields(fields)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("request")
		case status == http.StatusTooManyRequests:
			entry.Info("request")
		case status >= http.StatusBadRequest:
			entry.Warn("request")
		default:
			entry.Info("request")
		}
	}
}

// parseInt parses a positive integer query value, returning fallback when
// absent or malformed.
func parseInt(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return fallback
	}

	return v
}
