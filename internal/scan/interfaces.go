package scan

import (
	"context"
)

// FrameSource produces one raw frame per request.
// Capture must honor ctx cancellation; the scanner owns the cadence.
type FrameSource interface {
	// Capture produces a single frame with dimensions and a timestamp
	Capture(ctx context.Context) (*Frame, error)
}

// FrameEncoder compresses a raw frame into a transmittable payload
// with bounded quality and dimensions
type FrameEncoder interface {
	// Encode produces an immutable EncodedFrame from a raw frame
	Encode(frame *Frame) (*EncodedFrame, error)
}

// InferenceClient performs exactly one network call per submitted frame.
// Implementations must abort the underlying transport when ctx is canceled.
type InferenceClient interface {
	// Infer submits an encoded frame and returns the detections.
	// Errors are one of TimeoutError, NetworkError or ServerError.
	Infer(ctx context.Context, frame *EncodedFrame, confidence float64) (*DetectionSet, error)

	// CheckHealth probes the detection service readiness.
	// Used by Start's preflight and by circuit breaker recovery.
	CheckHealth(ctx context.Context) error
}

// ResultsConsumer receives the finalization result, exactly once per
// stopped session that captured at least one frame
type ResultsConsumer interface {
	OnFinalResult(result *FinalResult)
}

// EventHandler receives scan events published by the scanner
type EventHandler interface {
	OnScanEvent(event *Event)
}
