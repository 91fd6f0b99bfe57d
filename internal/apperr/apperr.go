package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"
)

const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeInternal       = "INTERNAL_ERROR"
)

// Error is a classified failure carrying the HTTP status it maps to.
// Message is safe to show to clients; Err holds the underlying cause.
type Error struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code, message string, err error) *Error {
	return &Error{Status: status, Code: code, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(http.StatusBadRequest, CodeValidation, message, nil)
}

func Unauthorized(code, message string) *Error {
	if code == "" {
		code = CodeAuthentication
	}
	return New(http.StatusUnauthorized, code, message, nil)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, CodeAuthorization, message, nil)
}

func NotFound(code, message string) *Error {
	if code == "" {
		code = CodeNotFound
	}
	return New(http.StatusNotFound, code, message, nil)
}

func Conflict(code, message string) *Error {
	if code == "" {
		code = CodeConflict
	}
	return New(http.StatusConflict, code, message, nil)
}

func Internal(err error) *Error {
	return New(http.StatusInternalServerError, CodeInternal, "Internal server error", err)
}

// Translate classifies err. Already classified errors pass through; gorm
// sentinel errors map to their natural status; everything else is internal.
func Translate(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return New(http.StatusNotFound, CodeNotFound, "Resource not found", err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return New(http.StatusConflict, CodeConflict, "Resource already exists", err)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return New(http.StatusBadRequest, CodeValidation, "Referenced resource does not exist", err)
	}
	return Internal(err)
}

// Status returns the HTTP status err maps to
func Status(err error) int {
	if e := Translate(err); e != nil {
		return e.Status
	}
	return http.StatusOK
}
