package middleware

import (
	"context"
	"strconv"
	"sync"
	"time"

	"trialsim/internal"
	"trialsim/internal/metrics"
	"trialsim/ports"

	"github.com/gin-gonic/gin"
)

// EnsureDefaultUser makes sure the single default owner exists before the
// first request touches the run log. A failed attempt is retried on the
// next request and never fails the current one.
func EnsureDefaultUser(users ports.UserRepository, logger *internal.Logger) gin.HandlerFunc {
	var (
		mu    sync.Mutex
		ready bool
	)
	return func(c *gin.Context) {
		if users == nil {
			c.Next()
			return
		}

		mu.Lock()
		if !ready {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
			user, err := users.GetOrCreateDefaultUser(ctx)
			cancel()
			if err != nil {
				logger.Warn("[EnsureDefaultUser] default user unavailable: %v", err)
			} else {
				logger.Info("[EnsureDefaultUser] default user %s ready", user.ID)
				ready = true
			}
		}
		mu.Unlock()

		c.Next()
	}
}

// RequestLogger logs each request at debug level, and server errors at error level
func RequestLogger(logger *internal.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		elapsed := time.Since(start)
		if status >= 500 {
			logger.Error("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, elapsed)
			return
		}
		logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, elapsed)
	}
}

// Metrics records request latency under the matched route
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}
