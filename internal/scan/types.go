package scan

import (
	"image"
	"time"
)

// State describes the scanner lifecycle
type State string

const (
	// StateIdle - scanner is not running
	StateIdle State = "idle"
	// StateScanning - live scan loop is active
	StateScanning State = "scanning"
	// StateStopping - stop requested, finalization may be in progress
	StateStopping State = "stopping"
)

// Frame represents one raw image sample from the capture source
type Frame struct {
	Image     image.Image // Decoded pixel data
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Timestamp time.Time   // Capture timestamp
}

// EncodedFrame is a compressed frame payload ready for transmission.
// Immutable once produced.
type EncodedFrame struct {
	Data    []byte // JPEG payload
	Width   int    // Encoded width in pixels
	Height  int    // Encoded height in pixels
	Quality int    // JPEG quality used
}

// BBox is a bounding box as normalized fractions of the processed image,
// each component in [0,1]
type BBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection represents a single detected object
type Detection struct {
	Name       string  `json:"name"`       // Detection class (FireExtinguisher, OxygenTank, etc.)
	Confidence float64 `json:"confidence"` // Detection confidence [0-1]
	BBox       BBox    `json:"bbox"`       // Normalized bounding box
}

// DetectionSet contains the results of one completed inference call.
// Immutable once constructed.
type DetectionSet struct {
	Objects     []Detection   `json:"objects"`
	InferenceMs float64       `json:"inference_time_ms"` // Server-side inference time
	Latency     time.Duration `json:"-"`                 // Round-trip latency observed by the client
	ImageWidth  int           `json:"image_width"`       // Processed image width in pixels
	ImageHeight int           `json:"image_height"`      // Processed image height in pixels
}

// Count returns the number of detected objects
func (s *DetectionSet) Count() int {
	if s == nil {
		return 0
	}
	return len(s.Objects)
}

// FinalResult is the outcome of the finalization pass handed to the
// ResultsConsumer exactly once per scan session
type FinalResult struct {
	SessionID  string        // Scan session the result belongs to
	Frame      *EncodedFrame // The retained frame the finalization ran on
	Detections *DetectionSet // nil when Err is set
	Err        error         // Finalization inference failure, if any
}

// MetricsSnapshot is a consistent read of the scan loop performance counters
type MetricsSnapshot struct {
	FPS              float64 `json:"fps"`                // Completions in the last rolling second
	AvgLatencyMs     float64 `json:"avg_latency_ms"`     // Mean over the last <=30 completions
	FramesProcessed  uint64  `json:"frames_processed"`   // Cumulative completed inferences
	DetectionsTotal  uint64  `json:"detections_total"`   // Cumulative detected objects
	TicksSkipped     uint64  `json:"ticks_skipped"`      // Ticks dropped by backpressure
	ConsecutiveFails int     `json:"consecutive_fails"`  // Current breaker counter
}
