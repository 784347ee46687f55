package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Data-Integrities/backend-ai/internal/logging"
)

// Logger is a middleware that logs HTTP requests.
func Logger(log *logging.Logger) gin.HandlerFunc {
	if log == nil {
		log = logging.Discard()
	}
	log = log.Component("http")

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		method := c.Request.Method

		switch {
		case status >= 500:
			log.Errorf("[%s] %s %s %d %v", method, path, c.ClientIP(), status, latency)
		case status >= 400:
			log.Warnf("[%s] %s %s %d %v", method, path, c.ClientIP(), status, latency)
		default:
			log.Infof("[%s] %s %s %d %v", method, path, c.ClientIP(), status, latency)
		}
	}
}

// PathPrefixKey is the context key holding the mount prefix of the API.
const PathPrefixKey = "path_prefix"

// PathPrefix is a middleware that stores the path prefix in the context.
func PathPrefix(prefix string) gin.HandlerFunc {
	prefix = strings.TrimSuffix(prefix, "/")
	return func(c *gin.Context) {
		c.Set(PathPrefixKey, prefix)
		c.Next()
	}
}
