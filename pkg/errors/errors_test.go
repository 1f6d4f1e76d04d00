package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid input", fmt.Errorf("parsing limit: %w", ErrInvalidInput), http.StatusBadRequest},
		{"missing doc", ErrDocumentNotFound, http.StatusNotFound},
		{"not ready", ErrNotReady, http.StatusServiceUnavailable},
		{"no index", fmt.Errorf("%w: /data/index", ErrIndexNotFound), http.StatusServiceUnavailable},
		{"corrupt index", ErrIndexCorrupt, http.StatusInternalServerError},
		{"deadline", fmt.Errorf("scoring: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"canceled", context.Canceled, StatusClientClosedRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatusCode(tc.err))
		})
	}
}

func TestIsIndexUnavailable(t *testing.T) {
	assert.True(t, IsIndexUnavailable(fmt.Errorf("loading: %w", ErrIndexNotFound)))
	assert.True(t, IsIndexUnavailable(ErrIndexCorrupt))
	assert.False(t, IsIndexUnavailable(ErrNotReady))
	assert.False(t, IsIndexUnavailable(errors.New("disk full")))
}
