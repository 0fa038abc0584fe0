package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"backtest-service/services/engine"
)

// envelope is the body of every JSON response.
type envelope struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
	Timestamp string `json:"timestamp"`
}

func stamp() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func respondOK(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, envelope{Success: true, Data: data, Message: message, Timestamp: stamp()})
}

func respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	c.JSON(status, envelope{Success: false, Error: err.Error(), Code: code, Timestamp: stamp()})
}

// statusFor maps the engine error taxonomy onto HTTP statuses.
func statusFor(err error) (int, string) {
	var apiErr *engine.APIError
	if !errors.As(err, &apiErr) {
		return http.StatusInternalServerError, engine.ErrExecutionFailed.Code
	}
	switch {
	case errors.Is(err, engine.ErrInvalidParams), errors.Is(err, engine.ErrInvalidStrategy):
		return http.StatusBadRequest, apiErr.Code
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound, apiErr.Code
	case errors.Is(err, engine.ErrDataNotFound):
		return http.StatusServiceUnavailable, apiErr.Code
	default:
		return http.StatusInternalServerError, apiErr.Code
	}
}
