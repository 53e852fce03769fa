package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/service"
)

// unmatchedRoute is the path label for requests that match no registered route.
const unmatchedRoute = "unmatched"

// Metrics observes latency and status per route template. Routes listed in
// skip (for example the scrape endpoint itself) are not recorded.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, route := range skip {
		skipped[route] = struct{}{}
	}
	return func(c *gin.Context) {
		route := c.FullPath()
		if metricsSvc == nil {
			c.Next()
			return
		}
		if _, ok := skipped[route]; ok && route != "" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		if route == "" {
			route = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
