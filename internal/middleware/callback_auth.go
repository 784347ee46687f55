package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const CallbackTokenHeader = "X-Callback-Token"

// CallbackAuth rejects requests that do not carry the shared callback token,
// either in X-Callback-Token or as a bearer token. An empty token disables
// the check.
func CallbackAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		got := c.GetHeader(CallbackTokenHeader)
		if got == "" {
			got = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid callback token"})
			c.Abort()
			return
		}
		c.Next()
	}
}
