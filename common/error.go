package common

import (
	"errors"
	"fmt"
)

// Engine error taxonomy. Store and controller operations return these
// sentinels (usually wrapped); the HTTP layer maps them to status codes.
var (
	// ErrNotFound means the referenced job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidState means the operation is not valid for the job's
	// current status, e.g. retrying a running job.
	ErrInvalidState = errors.New("operation invalid for current job status")

	// ErrInvalidTransition is a state-machine violation. The store rejects
	// the mutation and leaves prior state intact.
	ErrInvalidTransition = errors.New("invalid status transition")
)

type APIError struct {
	Status  int            `json:"-"`
	Message string         `json:"error"`
	Fields  map[string]any `json:"fields,omitempty"`
}

func (e APIError) Error() string {
	return e.Message
}

func Errf(status int, format string, args ...any) APIError {
	return APIError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// NewAPIError creates an APIError with status, message, and optional fields
func NewAPIError(status int, message string, fields map[string]any) APIError {
	return APIError{
		Status:  status,
		Message: message,
		Fields:  fields,
	}
}
