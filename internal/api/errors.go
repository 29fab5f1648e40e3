package api

import (
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
)

// ErrEmptyBaseURL is returned by NewClient when no service URL is configured.
var ErrEmptyBaseURL = errors.New("API base URL is empty")

// ErrMalformedResponse wraps bodies that are not JSON objects.
var ErrMalformedResponse = errors.New("malformed response body")

// StatusError is a non-success HTTP reply from the extraction service.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.StatusCode, body)
}

// IsNotFound reports whether err is a 404 from the service.
//
// A tracked job that disappears between ticks shows up as 404; the tracker
// treats it like any other transient poll failure.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == nethttp.StatusNotFound
}

// IsThrottled reports whether err is a 429 from the service.
func IsThrottled(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == nethttp.StatusTooManyRequests
}
