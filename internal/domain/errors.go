package domain

import "errors"

var (
	// ErrInvalidInput is returned when an upload is not an XLSX workbook
	ErrInvalidInput = errors.New("invalid input")

	// ErrTaskNotFound is returned when a task cannot be found in the database
	ErrTaskNotFound = errors.New("task not found")

	// ErrReportNotFound is returned when a task has no error report
	ErrReportNotFound = errors.New("error report not found")

	// ErrInvalidTransition is returned when a status update would move a task backwards
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrUnreadableWorkbook is returned when the uploaded file cannot be parsed
	ErrUnreadableWorkbook = errors.New("unreadable workbook")

	// ErrInvalidMessage is returned when a queue message is malformed
	ErrInvalidMessage = errors.New("invalid job message")
)

// RetryableError wraps transient errors that should trigger a retry
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err carries a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
