package scan

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scanner coordinates the adaptive live-detection loop for one capture
// source. It owns the loop lifecycle, computes the next capture delay from
// current detection activity, enforces the single-in-flight-request
// invariant and drives capture, encoding, inference and finalization.
//
// All state transitions and token checks happen under one mutex; inference
// runs on its own goroutine and re-enters through complete, which validates
// the request token before touching shared state.
type Scanner struct {
	cfg     Config
	source  FrameSource
	encoder FrameEncoder
	client  InferenceClient
	results ResultsConsumer

	breaker *Breaker
	metrics *Metrics
	events  *EventBus

	mu           sync.Mutex
	state        State
	sessionID    string
	nextToken    uint64 // Last assigned request token; monotonic for the scanner lifetime, never reset
	activeToken  uint64 // Token whose result may still be applied; 0 = none
	inFlight     bool
	cancelActive context.CancelFunc
	timer        *time.Timer // Explicit timer handle; Stop disarms it synchronously
	latest       *DetectionSet
	retained     *EncodedFrame

	wg sync.WaitGroup
}

// NewScanner creates a scanner in the Idle state. results may be nil when
// no finalization consumer is attached.
func NewScanner(cfg Config, source FrameSource, encoder FrameEncoder, client InferenceClient, results ResultsConsumer) *Scanner {
	return &Scanner{
		cfg:     cfg,
		source:  source,
		encoder: encoder,
		client:  client,
		results: results,
		breaker: NewBreaker(cfg.MaxConsecutiveErrors),
		metrics: NewMetrics(),
		events:  NewEventBus(),
	}
}

// Events returns the bus observers subscribe to
func (s *Scanner) Events() *EventBus {
	return s.events
}

// State returns the current scanner state
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return StateIdle
	}
	return s.state
}

// SessionID returns the identifier of the current or most recent session
func (s *Scanner) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Latest returns the most recent successfully applied detection set,
// or nil when none exists
func (s *Scanner) Latest() *DetectionSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// RetainedFrame returns the most recent encoded frame, retained for
// finalization, or nil when no frame was ever captured
func (s *Scanner) RetainedFrame() *EncodedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retained
}

// Snapshot returns the loop performance counters together with the
// current consecutive failure count
func (s *Scanner) Snapshot() MetricsSnapshot {
	snap := s.metrics.Snapshot()
	snap.ConsecutiveFails = s.breaker.Failures()
	return snap
}

// Start begins a live scan session. It is a no-op unless the scanner is
// Idle. The detection service health is probed first; when the circuit
// breaker is open a successful probe is the only way back to Scanning.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != "" && s.state != StateIdle {
		s.mu.Unlock()
		log.Printf("[Scanner] start ignored in state %s", s.state)
		return nil
	}
	s.mu.Unlock()

	if err := s.client.CheckHealth(ctx); err != nil {
		if s.breaker.IsOpen() {
			return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return fmt.Errorf("detection service health check failed: %w", err)
	}
	s.breaker.Reset()

	s.mu.Lock()
	if s.state != "" && s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state = StateScanning
	s.sessionID = uuid.NewString()
	s.latest = nil
	s.retained = nil
	// nextToken keeps counting across sessions: a straggling completion
	// from an earlier session can never collide with a fresh token.
	s.activeToken = 0
	session := s.sessionID
	s.timer = time.AfterFunc(0, s.tick)
	s.mu.Unlock()

	log.Printf("[Scanner] session %s started", session)
	s.publishState(session, StateScanning)
	return nil
}

// Stop ends the live scan session. Idempotent from Idle. From Scanning it
// invalidates the active token synchronously, cancels the in-flight
// request, disarms the timer and, if a frame was ever retained, runs the
// finalization pass in the background before settling back to Idle.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if s.state != StateScanning {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.haltLocked()
	session := s.sessionID
	retained := s.retained
	s.mu.Unlock()

	log.Printf("[Scanner] session %s stopping", session)
	s.publishState(session, StateStopping)

	if retained == nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		s.publishState(session, StateIdle)
		return
	}

	s.wg.Add(1)
	go s.finalize(session, retained)
}

// Wait blocks until all in-flight inference and finalization work has
// drained. Intended for shutdown paths and tests.
func (s *Scanner) Wait() {
	s.wg.Wait()
}

// haltLocked tears down the live loop: invalidates the active token,
// cancels the in-flight request and disarms the timer. Caller holds mu.
func (s *Scanner) haltLocked() {
	s.activeToken = 0
	s.inFlight = false
	if s.cancelActive != nil {
		s.cancelActive()
		s.cancelActive = nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// tick runs one scheduled capture. Timer driven; a tick that fires after
// Stop finds the state changed and does nothing.
func (s *Scanner) tick() {
	s.mu.Lock()
	if s.state != StateScanning {
		s.mu.Unlock()
		return
	}
	if s.inFlight && s.cfg.SkipIfProcessing {
		// Drop-newest backpressure: abandon this capture, keep cadence.
		s.rearmLocked()
		s.mu.Unlock()
		s.metrics.RecordSkip()
		return
	}
	session := s.sessionID
	s.mu.Unlock()

	captureCtx, cancelCapture := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	frame, err := s.source.Capture(captureCtx)
	cancelCapture()
	if err != nil {
		s.tickFailed(session, &CaptureError{Err: err})
		return
	}

	encoded, err := s.encoder.Encode(frame)
	if err != nil {
		s.tickFailed(session, &EncodeError{Err: err})
		return
	}

	s.dispatch(session, encoded)
}

// dispatch assigns a fresh token, retains the encoded frame for
// finalization, launches the inference call and re-arms the timer using
// the delay computed from the current detection state.
func (s *Scanner) dispatch(session string, encoded *EncodedFrame) {
	s.mu.Lock()
	if s.state != StateScanning || s.sessionID != session {
		s.mu.Unlock()
		return
	}

	s.retained = encoded
	s.nextToken++
	token := s.nextToken
	s.activeToken = token
	s.inFlight = true

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	s.cancelActive = cancel
	s.rearmLocked()
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		set, err := s.client.Infer(ctx, encoded, s.cfg.ConfidenceThreshold)
		s.complete(session, token, set, err)
	}()
}

// complete applies an inference outcome. A completion carrying a stale
// token, or one belonging to an earlier session, is discarded
// unconditionally, even if it arrives after a newer request; this keeps
// an out-of-order response from overwriting a more recent detection
// state and keeps a previous session's outcome away from the breaker.
func (s *Scanner) complete(session string, token uint64, set *DetectionSet, err error) {
	s.mu.Lock()
	if token != s.activeToken || s.state != StateScanning || s.sessionID != session {
		s.mu.Unlock()
		return
	}
	s.inFlight = false
	s.cancelActive = nil

	if err != nil {
		s.mu.Unlock()
		tripped := s.breaker.RecordFailure()
		log.Printf("[Scanner] inference failed (%d consecutive): %v", s.breaker.Failures(), err)
		if tripped {
			s.connectionLost(session, err)
		}
		return
	}

	s.breaker.RecordSuccess()
	s.latest = set
	s.mu.Unlock()

	s.metrics.Record(set.Latency, set.Count())
	s.events.Publish(&Event{
		Type:       EventDetections,
		SessionID:  session,
		Timestamp:  time.Now(),
		Detections: set,
		Metrics:    s.Snapshot(),
	})
}

// connectionLost halts the loop after the breaker tripped. The service is
// presumed unreachable, so no finalization pass is attempted. The trip
// follows the same Scanning -> Stopping -> Idle path as Stop. Emitted at
// most once per trip.
func (s *Scanner) connectionLost(session string, cause error) {
	s.mu.Lock()
	if s.state != StateScanning || s.sessionID != session {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.haltLocked()
	s.mu.Unlock()

	log.Printf("[Scanner] connection lost after %d consecutive failures, session %s halted", s.cfg.MaxConsecutiveErrors, session)
	s.publishState(session, StateStopping)
	s.events.Publish(&Event{
		Type:      EventConnectionLost,
		SessionID: session,
		Timestamp: time.Now(),
		Err:       cause,
	})

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.publishState(session, StateIdle)
}

// tickFailed surfaces a capture or encode failure and keeps the loop
// running. Local device problems never feed the circuit breaker.
func (s *Scanner) tickFailed(session string, err error) {
	log.Printf("[Scanner] %v", err)
	s.events.Publish(&Event{
		Type:      EventCaptureWarning,
		SessionID: session,
		Timestamp: time.Now(),
		Err:       err,
	})

	s.mu.Lock()
	if s.state == StateScanning && s.sessionID == session {
		s.rearmLocked()
	}
	s.mu.Unlock()
}

// finalize runs the single unthrottled finalization call on the retained
// frame and hands the result to the consumer exactly once, then settles
// the scanner back to Idle.
func (s *Scanner) finalize(session string, frame *EncodedFrame) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
	defer cancel()

	set, err := s.client.Infer(ctx, frame, s.cfg.ConfidenceThreshold)
	if err != nil {
		log.Printf("[Scanner] finalization failed for session %s: %v", session, err)
		set = nil
	} else {
		log.Printf("[Scanner] session %s finalized with %d objects", session, set.Count())
	}

	result := &FinalResult{
		SessionID:  session,
		Frame:      frame,
		Detections: set,
		Err:        err,
	}
	if s.results != nil {
		s.results.OnFinalResult(result)
	}
	s.events.Publish(&Event{
		Type:      EventFinalResult,
		SessionID: session,
		Timestamp: time.Now(),
		Final:     result,
	})

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.publishState(session, StateIdle)
}

// rearmLocked resets the timer using the interval policy evaluated
// against the detection count currently held, not a pending request's
// future result. Caller holds mu.
func (s *Scanner) rearmLocked() {
	if s.timer == nil {
		return
	}
	s.timer.Reset(s.cfg.NextInterval(s.latest.Count()))
}

func (s *Scanner) publishState(session string, state State) {
	s.events.Publish(&Event{
		Type:      EventStateChange,
		SessionID: session,
		Timestamp: time.Now(),
		State:     state,
	})
}
