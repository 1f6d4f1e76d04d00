// Package errors holds the sentinel errors shared by the indexer, the query
// engine and the HTTP surface, and maps them to HTTP statuses.
package errors

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrIndexNotFound    = errors.New("index not found")
	ErrIndexCorrupt     = errors.New("index corrupt")
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotReady         = errors.New("index not loaded")
)

// StatusClientClosedRequest is reported when the caller went away before
// the search finished.
const StatusClientClosedRequest = 499

// HTTPStatusCode maps an error chain to the status the search API responds with.
func HTTPStatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrIndexNotFound):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// IsIndexUnavailable reports whether err means there is no usable index
// at all, as opposed to a failure while using one.
func IsIndexUnavailable(err error) bool {
	return errors.Is(err, ErrIndexNotFound) || errors.Is(err, ErrIndexCorrupt)
}
