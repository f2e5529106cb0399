// Package errors turns upstream HTTP failures into typed errors.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody caps how much of an error body is retained.
const maxErrorBody = 4 << 10

// HTTPError is a non-2xx response from an upstream API.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP error (%d %s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, e.Status)
}

// ParseHTTPError reads resp and returns an *HTTPError for status >= 400,
// or nil otherwise. The body is consumed only for error responses.
func ParseHTTPError(resp *http.Response) error {
	if resp.StatusCode < http.StatusBadRequest {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    fmt.Sprintf("failed to read error response body: %v", err),
		}
	}

	httpErr := &HTTPError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       string(body),
		Message:    string(body),
	}

	var jsonErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if json.Unmarshal(body, &jsonErr) == nil {
		switch {
		case jsonErr.Message != "":
			httpErr.Message = jsonErr.Message
		case jsonErr.Error != "":
			httpErr.Message = jsonErr.Error
		}
	}

	return httpErr
}

// StatusCode extracts the status code from an error chain containing an *HTTPError.
func StatusCode(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}

// IsServerError reports whether err carries a 5xx or 429 status, the
// responses worth retrying.
func IsServerError(err error) bool {
	code, ok := StatusCode(err)
	return ok && (code >= http.StatusInternalServerError || code == http.StatusTooManyRequests)
}
