package nexterr

import (
	"fmt"
	"net/http"
)

// HTTPStatusError is returned when a remote endpoint responded with an
// unexpected status code.
type HTTPStatusError struct {
	// Method defaults to GET when empty.
	Method string
	URL    string
	Status int
	Body   []byte
}

func (e *HTTPStatusError) Error() string {
	method := e.Method
	if method == "" {
		method = http.MethodGet
	}

	return fmt.Sprintf("%s %s failed with status code %d (%s), response: %q",
		method, e.URL, e.Status, http.StatusText(e.Status), string(e.Body))
}

// NewAuthenticationError returns an error wrapping ErrAuthenticationFailed
// that contains the url and the response status.
func NewAuthenticationError(url string, status int, body []byte) error {
	return fmt.Errorf("%w: %w", ErrAuthenticationFailed, &HTTPStatusError{
		URL:    url,
		Status: status,
		Body:   body,
	})
}
