package engine

// Error taxonomy shared by the engine, the orchestration layer and the HTTP API

import "fmt"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

var (
	ErrInvalidStrategy = &APIError{Code: "INVALID_STRATEGY", Message: "Strategy cannot be executed"}
	ErrInvalidParams   = &APIError{Code: "INVALID_PARAMS", Message: "Invalid parameters provided"}
	ErrNotFound        = &APIError{Code: "NOT_FOUND", Message: "Resource not found"}
	ErrDataNotFound    = &APIError{Code: "DATA_NOT_FOUND", Message: "Required data not available"}
	ErrExecutionFailed = &APIError{Code: "EXECUTION_FAILED", Message: "Backtest execution failed"}
)

func (e *APIError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
}

// Is matches any APIError carrying the same code, so errors.Is(err, ErrNotFound)
// holds for detailed copies too.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of e carrying a formatted detail message.
func (e *APIError) WithDetails(format string, args ...any) *APIError {
	return &APIError{Code: e.Code, Message: e.Message, Details: fmt.Sprintf(format, args...)}
}

func invalidParams(format string, args ...any) error {
	return ErrInvalidParams.WithDetails(format, args...)
}
