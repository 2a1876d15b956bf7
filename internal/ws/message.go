package ws

import (
	"time"

	"safescan/internal/scan"
)

// StateMessage notifies observers of a scanner lifecycle transition
type StateMessage struct {
	Type      string    `json:"type"` // "state"
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	State     string    `json:"state"`
}

// DetectionsMessage carries one applied live detection set
type DetectionsMessage struct {
	Type        string           `json:"type"` // "detections"
	SessionID   string           `json:"session_id"`
	Timestamp   time.Time        `json:"timestamp"`
	Objects     []scan.Detection `json:"objects"`
	InferenceMs float64          `json:"inference_ms"`
	ImageWidth  int              `json:"image_width"`
	ImageHeight int              `json:"image_height"`
	FPS         float64          `json:"fps"`
	AvgLatency  float64          `json:"avg_latency_ms"`
}

// ConnectionLostMessage tells observers the loop halted and a health
// re-probe is required before scanning can resume
type ConnectionLostMessage struct {
	Type      string    `json:"type"` // "connection_lost"
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

// FinalMessage carries the finalization pass outcome
type FinalMessage struct {
	Type      string           `json:"type"` // "final"
	SessionID string           `json:"session_id"`
	Timestamp time.Time        `json:"timestamp"`
	Objects   []scan.Detection `json:"objects,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// newMessage converts a scan event into its wire representation.
// Returns nil for event types observers do not need.
func newMessage(event *scan.Event) interface{} {
	switch event.Type {
	case scan.EventStateChange:
		return &StateMessage{
			Type:      "state",
			SessionID: event.SessionID,
			Timestamp: event.Timestamp,
			State:     string(event.State),
		}
	case scan.EventDetections:
		msg := &DetectionsMessage{
			Type:       "detections",
			SessionID:  event.SessionID,
			Timestamp:  event.Timestamp,
			FPS:        event.Metrics.FPS,
			AvgLatency: event.Metrics.AvgLatencyMs,
		}
		if event.Detections != nil {
			msg.Objects = event.Detections.Objects
			msg.InferenceMs = event.Detections.InferenceMs
			msg.ImageWidth = event.Detections.ImageWidth
			msg.ImageHeight = event.Detections.ImageHeight
		}
		return msg
	case scan.EventConnectionLost:
		msg := &ConnectionLostMessage{
			Type:      "connection_lost",
			SessionID: event.SessionID,
			Timestamp: event.Timestamp,
		}
		if event.Err != nil {
			msg.Reason = event.Err.Error()
		}
		return msg
	case scan.EventFinalResult:
		msg := &FinalMessage{
			Type:      "final",
			SessionID: event.SessionID,
			Timestamp: event.Timestamp,
		}
		if event.Final != nil {
			if event.Final.Detections != nil {
				msg.Objects = event.Final.Detections.Objects
			}
			if event.Final.Err != nil {
				msg.Error = event.Final.Err.Error()
			}
		}
		return msg
	default:
		return nil
	}
}
