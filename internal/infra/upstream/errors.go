package upstream

import (
	"fmt"

	"mcphub/internal/domain"
)

// TransportError reports a request that never produced a usable response:
// connection failures, timeouts and non-2xx statuses.
type TransportError struct {
	Backend string
	Method  string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Backend, e.Method, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{domain.ErrTransport, e.Err}
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return "HTTP error: " + e.Status
	}
	return fmt.Sprintf("HTTP error: %d", e.StatusCode)
}
