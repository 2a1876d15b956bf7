package scan

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testConfig returns a config with intervals tightened for fast tests
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.IntervalIdle = 2 * time.Millisecond
	cfg.IntervalActive = 2 * time.Millisecond
	cfg.IntervalBoost = 2 * time.Millisecond
	cfg.RequestTimeout = time.Second
	return cfg
}

type fakeSource struct {
	mu       sync.Mutex
	err      error
	captures int
}

func (f *fakeSource) Capture(ctx context.Context) (*Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.captures++
	return &Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, 2, 2)),
		Width:     2,
		Height:    2,
		Timestamp: time.Now(),
	}, nil
}

type fakeEncoder struct{}

func (f *fakeEncoder) Encode(frame *Frame) (*EncodedFrame, error) {
	return &EncodedFrame{
		Data:    []byte{0xFF, 0xD8},
		Width:   frame.Width,
		Height:  frame.Height,
		Quality: 80,
	}, nil
}

type fakeClient struct {
	mu          sync.Mutex
	healthErr   error
	inferFn     func(ctx context.Context, frame *EncodedFrame) (*DetectionSet, error)
	calls       int
	inFlight    int
	maxInFlight int
}

func (f *fakeClient) Infer(ctx context.Context, frame *EncodedFrame, confidence float64) (*DetectionSet, error) {
	f.mu.Lock()
	f.calls++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	fn := f.inferFn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if fn != nil {
		return fn(ctx, frame)
	}
	return &DetectionSet{Latency: time.Millisecond}, nil
}

func (f *fakeClient) CheckHealth(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeConsumer struct {
	ch chan *FinalResult
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{ch: make(chan *FinalResult, 4)}
}

func (f *fakeConsumer) OnFinalResult(result *FinalResult) {
	f.ch <- result
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestSingleFlightInvariant(t *testing.T) {
	client := &fakeClient{
		inferFn: func(ctx context.Context, frame *EncodedFrame) (*DetectionSet, error) {
			select {
			case <-time.After(15 * time.Millisecond):
				return &DetectionSet{Latency: 15 * time.Millisecond}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	s := NewScanner(testConfig(), &fakeSource{}, &fakeEncoder{}, client, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Ticks fire every 2ms while each request takes 15ms; backpressure
	// must keep outstanding calls at exactly one.
	time.Sleep(150 * time.Millisecond)

	client.mu.Lock()
	maxInFlight := client.maxInFlight
	calls := client.calls
	client.mu.Unlock()

	s.Stop()
	s.Wait()

	if calls == 0 {
		t.Fatal("no inference calls dispatched")
	}
	if maxInFlight != 1 {
		t.Errorf("max concurrent inference calls = %d, expected 1", maxInFlight)
	}
	if skipped := s.Snapshot().TicksSkipped; skipped == 0 {
		t.Error("expected skipped ticks under backpressure")
	}
}

func TestBreakerTripHaltsLoopOnce(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveErrors = 5

	client := &fakeClient{
		inferFn: func(ctx context.Context, frame *EncodedFrame) (*DetectionSet, error) {
			return nil, errors.New("connection refused")
		},
	}
	consumer := newFakeConsumer()
	s := NewScanner(cfg, &fakeSource{}, &fakeEncoder{}, client, consumer)

	events, unsubscribe := s.Events().SubscribeChannel(128)
	defer unsubscribe()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, 2*time.Second, "scanner to halt", func() bool {
		return s.State() == StateIdle
	})
	s.Wait()
	time.Sleep(20 * time.Millisecond)

	if calls := client.callCount(); calls < cfg.MaxConsecutiveErrors {
		t.Errorf("inference calls = %d, expected at least %d", calls, cfg.MaxConsecutiveErrors)
	}

	lost := 0
	var states []State
	for {
		select {
		case event := <-events:
			switch event.Type {
			case EventConnectionLost:
				lost++
			case EventStateChange:
				states = append(states, event.State)
			}
		default:
			goto drained
		}
	}
drained:
	if lost != 1 {
		t.Errorf("ConnectionLost events = %d, expected exactly 1", lost)
	}

	// The trip follows the same path as Stop: scanning, stopping, idle
	want := []State{StateScanning, StateStopping, StateIdle}
	if len(states) != len(want) {
		t.Fatalf("state events = %v, expected %v", states, want)
	}
	for i, state := range states {
		if state != want[i] {
			t.Errorf("state event %d = %s, expected %s", i, state, want[i])
		}
	}

	// The service is presumed unreachable: no finalization pass
	select {
	case <-consumer.ch:
		t.Error("finalization ran after a breaker trip")
	default:
	}

	if !s.breaker.IsOpen() {
		t.Error("breaker not open after trip")
	}
}

func TestStopIdempotentFromIdle(t *testing.T) {
	consumer := newFakeConsumer()
	s := NewScanner(testConfig(), &fakeSource{}, &fakeEncoder{}, &fakeClient{}, consumer)

	events, unsubscribe := s.Events().SubscribeChannel(16)
	defer unsubscribe()

	s.Stop()
	s.Stop()

	if s.State() != StateIdle {
		t.Errorf("state = %s, expected %s", s.State(), StateIdle)
	}
	select {
	case <-consumer.ch:
		t.Error("finalizer invoked by Stop from Idle")
	case event := <-events:
		t.Errorf("unexpected event %s from Stop in Idle", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStaleResultDiscarded(t *testing.T) {
	setA := &DetectionSet{Objects: []Detection{{Name: "OxygenTank", Confidence: 0.9}}}
	setB := &DetectionSet{Objects: []Detection{
		{Name: "FireExtinguisher", Confidence: 0.8},
		{Name: "FireAlarm", Confidence: 0.7},
	}}

	gate := make(chan struct{})
	var call int32
	client := &fakeClient{
		inferFn: func(ctx context.Context, frame *EncodedFrame) (*DetectionSet, error) {
			if atomic.AddInt32(&call, 1) == 1 {
				<-gate // Request A held until after B was applied
				return setA, nil
			}
			return setB, nil
		},
	}
	s := NewScanner(testConfig(), &fakeSource{}, &fakeEncoder{}, client, nil)

	s.mu.Lock()
	s.state = StateScanning
	s.sessionID = "session"
	s.mu.Unlock()

	// Dispatch A (token 1), then B (token 2) while A is in flight
	s.dispatch("session", &EncodedFrame{Data: []byte{1}})
	waitFor(t, time.Second, "request A in flight", func() bool {
		return atomic.LoadInt32(&call) == 1
	})
	s.dispatch("session", &EncodedFrame{Data: []byte{2}})

	waitFor(t, time.Second, "request B applied", func() bool {
		return s.Latest() == setB
	})

	// A completes afterwards with a different set; its token is stale
	close(gate)
	s.Wait()

	if s.Latest() != setB {
		t.Errorf("detection state overwritten by stale result: got %+v", s.Latest())
	}
}

func TestStaleCompletionFromPreviousSession(t *testing.T) {
	staleSet := &DetectionSet{Objects: []Detection{{Name: "NitrogenTank", Confidence: 0.9}}}

	gateStale := make(chan struct{})
	gateLive := make(chan struct{})
	var calls int32
	client := &fakeClient{
		inferFn: func(ctx context.Context, frame *EncodedFrame) (*DetectionSet, error) {
			switch atomic.AddInt32(&calls, 1) {
			case 1:
				// The first session's call ignores cancellation and
				// returns long after the session ended
				<-gateStale
				return staleSet, nil
			case 2: // Finalization of the first session
				return &DetectionSet{Latency: time.Millisecond}, nil
			default: // The second session's live call, held in flight
				select {
				case <-gateLive:
					return &DetectionSet{Latency: time.Millisecond}, nil
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
		},
	}
	s := NewScanner(testConfig(), &fakeSource{}, &fakeEncoder{}, client, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	firstSession := s.SessionID()
	waitFor(t, time.Second, "first request in flight", func() bool {
		return atomic.LoadInt32(&calls) >= 1
	})

	s.Stop()
	waitFor(t, time.Second, "first session settled", func() bool {
		return s.State() == StateIdle
	})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if s.SessionID() == firstSession {
		t.Fatal("restart kept the previous session id")
	}
	waitFor(t, time.Second, "second session request in flight", func() bool {
		return atomic.LoadInt32(&calls) >= 3
	})

	// Tokens keep counting across sessions, so the held call's token can
	// never collide with one assigned after the restart
	s.mu.Lock()
	tokens := s.nextToken
	s.mu.Unlock()
	if tokens < 2 {
		t.Errorf("token counter restarted across sessions (nextToken %d)", tokens)
	}

	// The held call returns with the first session's result while the
	// second session's own request is still in flight; it must be
	// discarded without touching detection state or the counters
	close(gateStale)
	time.Sleep(20 * time.Millisecond)

	if got := s.Latest(); got.Count() != 0 {
		t.Errorf("second session detection state overwritten by a stale result: %+v", got.Objects)
	}
	if frames := s.Snapshot().FramesProcessed; frames != 0 {
		t.Errorf("stale completion recorded in metrics (FramesProcessed %d)", frames)
	}

	close(gateLive)
	s.Stop()
	s.Wait()
}

func TestFinalizationExactlyOnce(t *testing.T) {
	consumer := newFakeConsumer()
	client := &fakeClient{}
	s := NewScanner(testConfig(), &fakeSource{}, &fakeEncoder{}, client, consumer)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session := s.SessionID()

	waitFor(t, 2*time.Second, "3 completed ticks", func() bool {
		return s.Snapshot().FramesProcessed >= 3
	})

	s.Stop()

	var final *FinalResult
	select {
	case final = <-consumer.ch:
	case <-time.After(time.Second):
		t.Fatal("no finalization result delivered")
	}

	if final.SessionID != session {
		t.Errorf("final result session = %s, expected %s", final.SessionID, session)
	}
	if final.Frame == nil {
		t.Error("final result missing the retained frame")
	}
	if final.Err != nil || final.Detections == nil {
		t.Errorf("finalization failed: %v", final.Err)
	}

	s.Wait()
	waitFor(t, time.Second, "scanner idle", func() bool {
		return s.State() == StateIdle
	})

	// A second Stop must not trigger another finalization
	s.Stop()
	select {
	case <-consumer.ch:
		t.Error("finalization ran more than once")
	case <-time.After(50 * time.Millisecond):
	}

	// No ghost ticks: call count settles after stop (the last live call
	// plus exactly one finalization call)
	settled := client.callCount()
	time.Sleep(30 * time.Millisecond)
	if client.callCount() != settled {
		t.Error("inference calls continued after stop")
	}
}

func TestStopWithoutCaptureSkipsFinalization(t *testing.T) {
	source := &fakeSource{err: errors.New("camera unavailable")}
	consumer := newFakeConsumer()
	client := &fakeClient{}
	s := NewScanner(testConfig(), source, &fakeEncoder{}, client, consumer)

	events, unsubscribe := s.Events().SubscribeChannel(64)
	defer unsubscribe()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Capture failures surface per-tick but never feed the breaker and
	// never halt the loop
	warnings := 0
	deadline := time.After(time.Second)
	for warnings < 2 {
		select {
		case event := <-events:
			if event.Type == EventCaptureWarning {
				warnings++
			}
		case <-deadline:
			t.Fatal("timeout waiting for capture warnings")
		}
	}

	if s.State() != StateScanning {
		t.Errorf("state = %s after capture failures, expected %s", s.State(), StateScanning)
	}
	if s.breaker.Failures() != 0 {
		t.Errorf("breaker counted %d capture failures", s.breaker.Failures())
	}

	s.Stop()
	s.Wait()

	if client.callCount() != 0 {
		t.Errorf("inference called %d times with no frame ever captured", client.callCount())
	}
	select {
	case <-consumer.ch:
		t.Error("finalization ran with no retained frame")
	case <-time.After(50 * time.Millisecond):
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, expected %s", s.State(), StateIdle)
	}
}

func TestStartIgnoredUnlessIdle(t *testing.T) {
	s := NewScanner(testConfig(), &fakeSource{}, &fakeEncoder{}, &fakeClient{}, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	session := s.SessionID()

	if err := s.Start(context.Background()); err != nil {
		t.Errorf("second Start errored: %v", err)
	}
	if s.SessionID() != session {
		t.Error("second Start replaced the active session")
	}

	s.Stop()
	s.Wait()
}

func TestStartHealthPreflight(t *testing.T) {
	client := &fakeClient{healthErr: errors.New("service down")}
	s := NewScanner(testConfig(), &fakeSource{}, &fakeEncoder{}, client, nil)

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("Start succeeded with an unhealthy service")
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s after failed preflight, expected %s", s.State(), StateIdle)
	}
}

func TestRecoveryRequiresHealthProbe(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConsecutiveErrors = 1

	client := &fakeClient{healthErr: errors.New("still down")}
	s := NewScanner(cfg, &fakeSource{}, &fakeEncoder{}, client, nil)

	// Trip the breaker directly: one failure at threshold 1
	s.breaker.RecordFailure()
	if !s.breaker.IsOpen() {
		t.Fatal("breaker not open")
	}

	if err := s.Start(context.Background()); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Start with open breaker and failing probe: got %v, expected ErrCircuitOpen", err)
	}

	// A healthy probe is the recovery gate
	client.mu.Lock()
	client.healthErr = nil
	client.mu.Unlock()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start after healthy probe failed: %v", err)
	}
	if s.breaker.IsOpen() {
		t.Error("breaker still open after successful recovery probe")
	}
	if s.State() != StateScanning {
		t.Errorf("state = %s, expected %s", s.State(), StateScanning)
	}

	s.Stop()
	s.Wait()
}
