// Package apperr defines the error taxonomy shared across the service.
// Components wrap these sentinels with fmt.Errorf("...: %w", ...) and the
// API layer maps them to HTTP status codes with errors.Is.
package apperr

import "errors"

var (
	// ErrUnauthorized means no usable caller identity was presented.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means a referenced bill or document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUpstream means a legislative-data or AI provider call failed:
	// non-2xx status, timeout, or a malformed payload.
	ErrUpstream = errors.New("upstream error")

	// ErrInvalid means the caller's input was malformed.
	ErrInvalid = errors.New("invalid input")
)
