package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/persistorai/seovault/internal/metrics"
)

// Metrics records request duration and count per route pattern. Routes in
// skip are not observed; the scrape endpoint and the long-lived audit stream
// would only distort the latency histogram.
func Metrics(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]bool, len(skip))
	for _, p := range skip {
		skipped[p] = true
	}

	return func(c *gin.Context) {
		path := c.FullPath()
		if skipped[path] {
			c.Next()
			return
		}
		if path == "" {
			path = "unmatched"
		}

		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.RequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		metrics.RequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
