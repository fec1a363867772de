package worker

import (
	"errors"
	"fmt"
)

// Common worker errors
var (
	// ErrInvalidState is returned when a lifecycle step runs out of order
	ErrInvalidState = errors.New("invalid worker state")

	// ErrBadStatus is returned when a precached asset answers with a non-2xx status
	ErrBadStatus = errors.New("bad response status")

	// ErrInvalidConfig is returned by New for unusable configurations
	ErrInvalidConfig = errors.New("invalid worker configuration")

	// ErrNotInstalled is returned by Resume when the static cache does not exist
	ErrNotInstalled = errors.New("worker not installed")
)

// ErrorCode identifies where in the request lifecycle a failure happened.
type ErrorCode string

const (
	ErrorCodeInstallFetch ErrorCode = "INSTALL_FETCH"
	ErrorCodeCacheOpen    ErrorCode = "CACHE_OPEN"
	ErrorCodeCacheLookup  ErrorCode = "CACHE_LOOKUP"
	ErrorCodeCachePut     ErrorCode = "CACHE_PUT"
	ErrorCodeCacheDelete  ErrorCode = "CACHE_DELETE"
	ErrorCodeNetwork      ErrorCode = "NETWORK"
)

// Error carries the failing URL or cache along with the cause.
type Error struct {
	Code  ErrorCode
	URL   string
	Cache string
	Cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	target := e.URL
	if target == "" {
		target = e.Cache
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, target, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, target)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode reports whether err is a worker Error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var werr *Error
	return errors.As(err, &werr) && werr.Code == code
}
