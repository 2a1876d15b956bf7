package scan

import (
	"sync"
	"time"
)

// EventType identifies the kind of scan event
type EventType string

const (
	// EventStateChange - scanner lifecycle transition
	EventStateChange EventType = "state"
	// EventDetections - a live inference completed and was applied
	EventDetections EventType = "detections"
	// EventCaptureWarning - per-tick capture or encode failure
	EventCaptureWarning EventType = "capture_warning"
	// EventConnectionLost - the circuit breaker tripped and halted the loop
	EventConnectionLost EventType = "connection_lost"
	// EventFinalResult - the finalization pass completed
	EventFinalResult EventType = "final"
)

// Event is a scan loop notification delivered to passive observers.
// Only the fields relevant to the event type are populated.
type Event struct {
	Type       EventType
	SessionID  string
	Timestamp  time.Time
	State      State           // EventStateChange
	Detections *DetectionSet   // EventDetections
	Metrics    MetricsSnapshot // EventDetections
	Err        error           // EventCaptureWarning, EventConnectionLost
	Final      *FinalResult    // EventFinalResult
}

// EventBus provides pub/sub for scan events. Observers subscribe with a
// handler or a buffered channel; the scanner is the only publisher.
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	channel chan *Event
	handler EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for all scan events.
// Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler EventHandler) func() {
	sub := &eventSubscription{handler: handler}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// SubscribeChannel returns a channel that receives scan events with the
// specified buffer size, and an unsubscribe function
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *Event, func()) {
	if bufferSize <= 0 {
		bufferSize = 16
	}

	ch := make(chan *Event, bufferSize)
	sub := &eventSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

// Publish delivers an event to all subscribers. Handlers are invoked
// synchronously to preserve event ordering; channel sends never block,
// a full channel drops the event for that subscriber.
func (b *EventBus) Publish(event *Event) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.handler != nil {
			sub.handler.OnScanEvent(event)
		} else if sub.channel != nil {
			select {
			case sub.channel <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes all subscribers and closes their channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}
