package scan

import "time"

// Config controls the scan loop behavior
type Config struct {
	IntervalIdle   time.Duration // Delay before next capture when 0 detections
	IntervalActive time.Duration // Delay when 1-2 detections
	IntervalBoost  time.Duration // Delay when >=3 detections

	MaxConsecutiveErrors int           // Inference failures before the circuit trips
	RequestTimeout       time.Duration // Per-request inference timeout

	// SkipIfProcessing drops a scheduled tick while a request is in flight
	// (drop-newest). Must be true; false is unspecified behavior.
	SkipIfProcessing bool

	ConfidenceThreshold float64 // Passed through to every inference call
}

// DefaultConfig returns the live-scan defaults
func DefaultConfig() Config {
	return Config{
		IntervalIdle:         400 * time.Millisecond,
		IntervalActive:       150 * time.Millisecond,
		IntervalBoost:        100 * time.Millisecond,
		MaxConsecutiveErrors: 5,
		RequestTimeout:       8 * time.Second,
		SkipIfProcessing:     true,
		ConfidenceThreshold:  0.25,
	}
}

// NextInterval returns the delay before the next capture given the number
// of detections currently held in detection state. More simultaneous
// objects warrants tighter tracking latency; zero detections relaxes the
// loop to conserve device and network resources.
func (c Config) NextInterval(detections int) time.Duration {
	switch {
	case detections >= 3:
		return c.IntervalBoost
	case detections >= 1:
		return c.IntervalActive
	default:
		return c.IntervalIdle
	}
}
