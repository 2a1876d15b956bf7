package inference

import (
	"fmt"
	"time"
)

// TimeoutError indicates no response arrived within the request deadline
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("inference timed out after %s", e.Timeout)
}

// NetworkError indicates a transport-level failure, including a response
// body that could not be decoded
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("inference transport error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError indicates the detection service answered with a non-2xx status
type ServerError struct {
	StatusCode int
	Body       string
}

func (e *ServerError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("detection service returned status %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("detection service returned status %d", e.StatusCode)
}
