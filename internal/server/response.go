package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"samay/internal/apperr"
	"samay/internal/logger"
)

type apiError struct {
	Message    string `json:"message"`
	Code       string `json:"code"`
	StatusCode int    `json:"statusCode"`
	Details    string `json:"details,omitempty"`
}

type errorEnvelope struct {
	Success bool     `json:"success"`
	Error   apiError `json:"error"`
}

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"data": data})
}

func respondMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"message": message})
}

// errorResponder writes the failure envelope. Details carry the underlying
// error text outside production only.
type errorResponder struct {
	production bool
}

func (r errorResponder) fail(c *gin.Context, err error) {
	ae := apperr.Translate(err)
	body := apiError{Message: ae.Message, Code: ae.Code, StatusCode: ae.Status}
	if body.Message == "" {
		body.Message = http.StatusText(ae.Status)
	}
	if !r.production && ae.Err != nil {
		body.Details = ae.Err.Error()
	}

	if ae.Status >= http.StatusInternalServerError {
		logger.ForComponent("http").WithError(err).
			WithField("path", c.Request.URL.Path).
			Error("Request failed")
	}
	c.AbortWithStatusJSON(ae.Status, errorEnvelope{Error: body})
}

// bindError turns a gin binding failure into a 400
func bindError(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.New(http.StatusBadRequest, apperr.CodeValidation, "Invalid request body", err)
}
