package scan

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned by Start when the breaker is open and the
// recovery health probe did not succeed
var ErrCircuitOpen = errors.New("detection service unavailable: circuit open")

// CaptureError reports a frame source failure. Surfaced per-tick,
// never counted by the circuit breaker.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("frame capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// EncodeError reports a frame encoding failure. Treated the same as
// a capture failure.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("frame encoding failed: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }
