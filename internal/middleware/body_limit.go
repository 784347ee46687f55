package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Data-Integrities/backend-ai/internal/apperr"
)

// BodySizeLimit limits the maximum request body size.
// maxBytes is the maximum allowed body size in bytes.
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip for GET, HEAD, OPTIONS methods
		if c.Request.Method == http.MethodGet ||
			c.Request.Method == http.MethodHead ||
			c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		if c.Request.ContentLength > maxBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "request body too large",
				"code":  apperr.CodeInvalidRequest,
			})
			c.Abort()
			return
		}

		// Chunked bodies have no Content-Length; enforce the limit while reading.
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

		c.Next()
	}
}

// DefaultBodyLimit returns middleware with 1MB limit
func DefaultBodyLimit() gin.HandlerFunc {
	return BodySizeLimit(1 << 20)
}

// SmallBodyLimit returns middleware with 64KB limit for agent callbacks and push events
func SmallBodyLimit() gin.HandlerFunc {
	return BodySizeLimit(64 << 10)
}
