package apperrors

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Error is the uniform failure shape surfaced to the frontend. Every
// domain package declares its failures as *Error values so that callers
// always receive a stable {code, message} pair regardless of which
// module produced the failure.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Code + ": " + e.Message
}

// New constructs a coded error bound to an HTTP status.
func New(status int, code, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// Shared failures used by more than one module.
var (
	ErrUserNotAuthenticated = New(http.StatusUnauthorized, "USER_NOT_AUTHENTICATED", "User not authenticated")
	ErrAPIKeyNotConfigured  = New(http.StatusPreconditionFailed, "API_KEY_NOT_CONFIGURED", "API key not configured")
)

// From unwraps err into a coded error when possible.
func From(err error) (*Error, bool) {
	var coded *Error
	if errors.As(err, &coded) {
		return coded, true
	}
	return nil, false
}

// Abort writes err as a JSON response. Coded errors keep their status
// and code; anything else collapses to a generic 500 so internal detail
// never leaks to the frontend.
func Abort(c *gin.Context, err error) {
	if coded, ok := From(err); ok {
		c.JSON(coded.Status, gin.H{"error": coded.Message, "code": coded.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "code": "INTERNAL_ERROR"})
}
