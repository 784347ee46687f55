// Package handlers exposes the correlation engine over HTTP.
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/Data-Integrities/backend-ai/internal/apperr"
)

// respondError writes err as {"error", "code"} with the status its code maps to.
func respondError(c *gin.Context, err error) {
	body := gin.H{"error": apperr.Message(err)}
	if code := apperr.Code(err); code != "" {
		body["code"] = code
	}
	c.JSON(apperr.HTTPStatus(err), body)
}

// bindError reports a malformed request body.
func bindError(c *gin.Context, err error) {
	respondError(c, apperr.InvalidRequest(err.Error()))
}
