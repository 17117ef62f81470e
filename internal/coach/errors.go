package coach

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrInvalidPayload is returned when a request or a backend candidate fails validation.
var ErrInvalidPayload = errors.New("invalid payload")

// NetworkError is a transport failure: the request never produced a response.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a failure reported by the backend. Message is shown to users as is.
type APIError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: api error: status %d", e.Endpoint, e.Status)
	}
	return e.Message
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

const (
	networkNotice = "Network problem, please try again."
	genericNotice = "Something went wrong, please try again."
)

// UserMessage maps an error to the text a surface should show.
func UserMessage(err error) string {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return networkNotice
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return genericNotice
}
