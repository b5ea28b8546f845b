package api

import (
	"github.com/gin-gonic/gin"
)

// Error codes returned in the error body
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeReauthorizationError = "REAUTHORIZATION_REQUIRED"
	CodeAuthorizationFailed  = "AUTHORIZATION_FAILED"
	CodeInternalError        = "INTERNAL_ERROR"
)

type errorBody struct {
	Success                 bool        `json:"success"`
	Error                   errorDetail `json:"error"`
	RequiresReauthorization bool        `json:"requires_reauthorization,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError aborts the request with {"success": false, "error": {"code", "message"}}.
func writeError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{
		Error: errorDetail{Code: code, Message: message},
	})
}

func writeReauthorization(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, errorBody{
		Error:                   errorDetail{Code: CodeReauthorizationError, Message: message},
		RequiresReauthorization: true,
	})
}
