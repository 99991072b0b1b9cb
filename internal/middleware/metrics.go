package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medstock/medstock-server/pkg/metrics"
)

// Metrics records request latency for each HTTP request, labelled by the
// registered route pattern so path parameters (user ids, medication ids)
// never become label values.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.APILatency.WithLabelValues(c.Request.Method, routeLabel(c), status).Observe(time.Since(start).Seconds())
	}
}

// routeLabel returns the matched route pattern. Requests that match no route
// share a single label to keep series cardinality bounded.
func routeLabel(c *gin.Context) string {
	if path := c.FullPath(); path != "" {
		return path
	}
	return "unmatched"
}
