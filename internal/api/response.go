package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIError is the error body of every failed request
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ErrorEnvelope wraps an APIError
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondError writes an error envelope with status
func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{
		Error: APIError{Message: msg, Code: code},
	})
}

// RespondOK writes payload with 200
func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
