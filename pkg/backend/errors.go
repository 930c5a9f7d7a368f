package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotReady is returned by FetchResult while the job is still running (404)
	ErrNotReady = errors.New("analysis not ready")

	// ErrNotFound is returned when a history entry does not exist
	ErrNotFound = errors.New("not found")
)

// StatusError reports an unexpected HTTP status from the backend
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed with status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.Code, e.Body)
}

// Temporary reports whether the status is a gateway or availability error
func (e *StatusError) Temporary() bool {
	switch e.Code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
		return true
	}
	return false
}

// DecodeError reports a response body that could not be parsed
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
