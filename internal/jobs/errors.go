package jobs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("job not found")
	ErrDuplicateJob = errors.New("job already exists")
	// ErrNotRetryable is returned by Retry for jobs that are not partial or
	// failed, or that changed while the retry was being applied.
	ErrNotRetryable = errors.New("job is not retryable")
)

// ValidationError rejects a schedule request before any job is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// AsValidation extracts the field errors from a request validation failure.
// A single ValidationError is returned as a one-element collection.
func AsValidation(err error) (ValidationErrors, bool) {
	var ve ValidationErrors
	if errors.As(err, &ve) {
		return ve, true
	}
	var single ValidationError
	if errors.As(err, &single) {
		return ValidationErrors{single}, true
	}
	return nil, false
}
