package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/checkinbot/checkinbot/internal/logging"
	"github.com/checkinbot/checkinbot/internal/metrics"
)

// unmatchedRoute labels requests that hit no status route, so scanners cannot grow label cardinality.
const unmatchedRoute = "unmatched"

// routeLabel returns the registered route template for the request.
func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

// requestMiddleware records per-route HTTP metrics and logs each status request.
// Handler errors (history store failures) are logged once, at warn level, with the route.
func requestMiddleware(m *metrics.Metrics, logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		m.IncHTTPRequestsInFlight()
		c.Next()
		m.DecHTTPRequestsInFlight()

		elapsed := time.Since(start)
		route := routeLabel(c)
		status := strconv.Itoa(c.Writer.Status())
		m.RecordRequestLatency(route, c.Request.Method, status, elapsed.Seconds())
		m.RecordHTTPRequest(route, c.Request.Method, status)

		if len(c.Errors) > 0 {
			logger.Warn("status request failed",
				"route", route,
				"status", c.Writer.Status(),
				"error", c.Errors.String(),
			)
			return
		}
		logger.Debug("request completed",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"duration_seconds", elapsed.Seconds(),
		)
	}
}
