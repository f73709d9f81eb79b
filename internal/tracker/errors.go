package tracker

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("tracker: not found")

// AccessError means the server rejected the credentials (401/403).
type AccessError struct {
	Status  int
	Message string
}

func (e *AccessError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tracker: access denied (%d)", e.Status)
	}
	return fmt.Sprintf("tracker: access denied (%d): %s", e.Status, e.Message)
}

// IsAccessError reports whether err is or wraps an *AccessError.
func IsAccessError(err error) bool {
	var accessErr *AccessError
	return errors.As(err, &accessErr)
}

// APIError is any other non-success response.
type APIError struct {
	Status int
	Errors []string
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("tracker: unexpected status %d", e.Status)
	}
	return fmt.Sprintf("tracker: status %d: %v", e.Status, e.Errors)
}
