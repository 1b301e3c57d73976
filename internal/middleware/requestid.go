package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// RequestIDKey is the gin context key for the request ID.
	RequestIDKey = "request_id"

	// RequestIDHeader is the HTTP header used to propagate the request ID.
	RequestIDHeader = "X-Request-ID"

	clientRequestIDKey = "client_request_id"
	maxClientIDLen     = 64
)

// RequestID assigns a fresh server-side UUID to every request. A client
// supplied X-Request-ID is kept as "client_request_id" for correlation once
// it passes cleanClientID; it never becomes the canonical ID.
func RequestID(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.New().String()

		if clientID := cleanClientID(c.GetHeader(RequestIDHeader)); clientID != "" {
			log.WithFields(logrus.Fields{
				"request_id":       id,
				clientRequestIDKey: clientID,
			}).Debug("client request id mapped to server id")
			c.Set(clientRequestIDKey, clientID)
		}

		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// cleanClientID returns id if it is short and made only of [A-Za-z0-9._-],
// otherwise "". Anything else could forge log lines.
func cleanClientID(id string) string {
	if id == "" || len(id) > maxClientIDLen {
		return ""
	}
	for i := 0; i < len(id); i++ {
		ch := id[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '.', ch == '_', ch == '-':
		default:
			return ""
		}
	}
	return id
}
