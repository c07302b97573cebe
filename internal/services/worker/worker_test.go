package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"vigil-worker-go/internal/config"
	"vigil-worker-go/internal/models"
	"vigil-worker-go/internal/services/detection"
)

type fakeSource struct {
	mu        sync.Mutex
	openCalls int
	closes    int
	nextCalls int
	openFn    func(call int) error
	nextFn    func(ctx context.Context, call int) (*models.Frame, error)
}

func (f *fakeSource) Open(ctx context.Context) error {
	f.mu.Lock()
	f.openCalls++
	n := f.openCalls
	f.mu.Unlock()
	if f.openFn != nil {
		return f.openFn(n)
	}
	return nil
}

func (f *fakeSource) Next(ctx context.Context) (*models.Frame, error) {
	f.mu.Lock()
	f.nextCalls++
	n := f.nextCalls
	f.mu.Unlock()
	return f.nextFn(ctx, n)
}

func (f *fakeSource) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

// serveFrames returns a nextFn that serves n frames and then blocks until
// cancellation.
func serveFrames(n int) func(ctx context.Context, call int) (*models.Frame, error) {
	return func(ctx context.Context, call int) (*models.Frame, error) {
		if call > n {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &models.Frame{
			CameraID:  "cam-1",
			Timestamp: time.Now(),
			Sequence:  int64(call),
			Data:      []byte{0xff, 0xd8, 0xff},
		}, nil
	}
}

type fakeEngine struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, frame *models.Frame) ([]models.MatchResult, error)
}

func (f *fakeEngine) Detect(ctx context.Context, frame *models.Frame) ([]models.MatchResult, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.fn == nil {
		return nil, nil
	}
	return f.fn(n, frame)
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var _ detection.Engine = (*fakeEngine)(nil)

type captureSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (s *captureSink) Ingest(ev models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return true
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *captureSink) snapshot() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Event(nil), s.events...)
}

type transitionLog struct {
	mu   sync.Mutex
	list []models.Transition
}

func (l *transitionLog) record(t models.Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = append(l.list, t)
}

func (l *transitionLog) reached(status models.LifecycleStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.list {
		if t.To == status {
			return true
		}
	}
	return false
}

func workerConfig(t *testing.T) *config.Config {
	return &config.Config{
		OpenTimeout:            200 * time.Millisecond,
		DetectInterval:         1,
		DetectTimeout:          200 * time.Millisecond,
		ConfidenceThreshold:    0.8,
		MaxConsecutiveFailures: 3,
		DegradedRetryDelay:     time.Millisecond,
		RestartBackoffMax:      5 * time.Millisecond,
		KnownLogCooldown:       time.Minute,
		SnapshotDir:            t.TempDir(),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func camera() models.CameraConfig {
	return models.CameraConfig{CameraID: "cam-1", URL: "rtsp://example/stream"}
}

func intruderMatch() models.MatchResult {
	return models.MatchResult{Identity: "Intruder_1", Known: false, Confidence: 0.92}
}

func TestOpenFailureTransitionsToFailed(t *testing.T) {
	src := &fakeSource{
		openFn: func(int) error {
			return &models.ConnectionError{CameraID: "cam-1", Err: errors.New("unreachable")}
		},
		nextFn: serveFrames(0),
	}
	log := &transitionLog{}
	w := New(workerConfig(t), camera(), src, &fakeEngine{}, &captureSink{}, log.record)

	if err := w.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	<-w.Done()

	if got := w.Status(); got != models.StatusFailed {
		t.Fatalf("expected failed status, got %s", got)
	}
	if !log.reached(models.StatusStarting) || !log.reached(models.StatusFailed) {
		t.Fatalf("missing transitions: %+v", log.list)
	}
}

func TestHappyPathProducesIntruderEvents(t *testing.T) {
	src := &fakeSource{nextFn: serveFrames(3)}
	engine := &fakeEngine{fn: func(int, *models.Frame) ([]models.MatchResult, error) {
		return []models.MatchResult{intruderMatch()}, nil
	}}
	sink := &captureSink{}
	cfg := workerConfig(t)
	// Debounce does not apply to intruders, so every frame yields an event
	w := New(cfg, camera(), src, engine, sink, nil)

	if err := w.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sink.count() == 3 })

	for _, ev := range sink.snapshot() {
		if ev.CameraID != "cam-1" {
			t.Fatalf("unexpected camera id %q", ev.CameraID)
		}
		if ev.Classification != models.ClassificationIntruder {
			t.Fatalf("expected intruder classification, got %s", ev.Classification)
		}
		if ev.EventID == "" {
			t.Fatal("event id missing")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if got := w.Status(); got != models.StatusStopped {
		t.Fatalf("expected stopped status, got %s", got)
	}
}

func TestTransientReadFailureDegradesThenRecovers(t *testing.T) {
	src := &fakeSource{}
	src.nextFn = func(ctx context.Context, call int) (*models.Frame, error) {
		if call == 1 {
			return nil, &models.StreamError{CameraID: "cam-1", Err: errors.New("read timeout")}
		}
		return serveFrames(3)(ctx, call)
	}
	log := &transitionLog{}
	w := New(workerConfig(t), camera(), src, &fakeEngine{}, &captureSink{}, log.record)

	if err := w.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return log.reached(models.StatusDegraded) })
	waitFor(t, time.Second, func() bool { return w.Status() == models.StatusRunning })

	// The stream failure recycled the source
	src.mu.Lock()
	reopens := src.openCalls
	src.mu.Unlock()
	if reopens < 2 {
		t.Fatalf("expected source reopen after stream failure, open calls = %d", reopens)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)
}

func TestConsecutiveFailuresEscalateToFailed(t *testing.T) {
	src := &fakeSource{nextFn: func(context.Context, int) (*models.Frame, error) {
		return nil, &models.StreamError{CameraID: "cam-1", Err: errors.New("gone")}
	}}
	log := &transitionLog{}
	w := New(workerConfig(t), camera(), src, &fakeEngine{}, &captureSink{}, log.record)

	if err := w.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not terminate after repeated failures")
	}
	if got := w.Status(); got != models.StatusFailed {
		t.Fatalf("expected failed status, got %s", got)
	}
	if !log.reached(models.StatusDegraded) {
		t.Fatal("expected a degraded transition before failure")
	}
}

func TestDetectionFailuresEscalateToFailed(t *testing.T) {
	// Frames keep arriving but the engine is dead: the failure streak must
	// keep climbing to the threshold instead of resetting on each fetch
	src := &fakeSource{nextFn: serveFrames(100)}
	engine := &fakeEngine{fn: func(int, *models.Frame) ([]models.MatchResult, error) {
		return nil, &models.DetectionError{CameraID: "cam-1", Err: errors.New("encoder offline")}
	}}
	cfg := workerConfig(t)
	w := New(cfg, camera(), src, engine, &captureSink{}, nil)

	if err := w.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not terminate after repeated detection failures")
	}
	if got := w.Status(); got != models.StatusFailed {
		t.Fatalf("expected failed status, got %s", got)
	}
	if got := engine.callCount(); got != cfg.MaxConsecutiveFailures {
		t.Fatalf("expected exactly %d detection attempts before failing, got %d",
			cfg.MaxConsecutiveFailures, got)
	}
}

func TestDetectionRecoveryClearsFailureStreak(t *testing.T) {
	src := &fakeSource{nextFn: serveFrames(10)}
	engine := &fakeEngine{fn: func(call int, _ *models.Frame) ([]models.MatchResult, error) {
		if call <= 2 {
			return nil, &models.DetectionError{CameraID: "cam-1", Err: errors.New("warming up")}
		}
		return nil, nil
	}}
	log := &transitionLog{}
	w := New(workerConfig(t), camera(), src, engine, &captureSink{}, log.record)

	if err := w.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return log.reached(models.StatusDegraded) })
	waitFor(t, time.Second, func() bool { return w.Status() == models.StatusRunning })
	waitFor(t, time.Second, func() bool { return engine.callCount() == 10 })

	if got := w.Stats().ConsecutiveFailures; got != 0 {
		t.Fatalf("expected failure streak cleared after recovery, got %d", got)
	}
	if got := w.Status(); got != models.StatusRunning {
		t.Fatalf("recovered worker should be running, got %s", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)
}

func TestReopenFailureStillEscalates(t *testing.T) {
	// The first open succeeds; every reopen after a stream failure is
	// refused with an untyped error. The worker must still count its way
	// to failed rather than stall.
	src := &fakeSource{
		openFn: func(call int) error {
			if call > 1 {
				return errors.New("device busy")
			}
			return nil
		},
		nextFn: func(context.Context, int) (*models.Frame, error) {
			return nil, &models.StreamError{CameraID: "cam-1", Err: errors.New("gone")}
		},
	}
	w := New(workerConfig(t), camera(), src, &fakeEngine{}, &captureSink{}, nil)

	if err := w.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not terminate when reopens kept failing")
	}
	if got := w.Status(); got != models.StatusFailed {
		t.Fatalf("expected failed status, got %s", got)
	}
}

func TestStopUnblocksWaitingWorker(t *testing.T) {
	src := &fakeSource{nextFn: serveFrames(0)} // blocks immediately
	w := New(workerConfig(t), camera(), src, &fakeEngine{}, &captureSink{}, nil)

	if err := w.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return w.Status() == models.StatusRunning })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if got := w.Status(); got != models.StatusStopped {
		t.Fatalf("expected stopped status, got %s", got)
	}
}

func TestAuthorizedSightingsDebounced(t *testing.T) {
	src := &fakeSource{nextFn: serveFrames(5)}
	engine := &fakeEngine{fn: func(int, *models.Frame) ([]models.MatchResult, error) {
		return []models.MatchResult{{Identity: "alice", Known: true, Confidence: 0.95}}, nil
	}}
	sink := &captureSink{}
	w := New(workerConfig(t), camera(), src, engine, sink, nil)

	if err := w.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return engine.callCount() == 5 })

	if got := sink.count(); got != 1 {
		t.Fatalf("expected 1 debounced authorized event, got %d", got)
	}
	ev := sink.snapshot()[0]
	if ev.Classification != models.ClassificationAuthorized || ev.Identity != "alice" {
		t.Fatalf("unexpected event: %+v", ev)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)
}

func TestDetectionRunsOnEveryNthFrame(t *testing.T) {
	src := &fakeSource{nextFn: serveFrames(8)}
	engine := &fakeEngine{}
	cfg := workerConfig(t)
	cfg.DetectInterval = 4
	w := New(cfg, camera(), src, engine, &captureSink{}, nil)

	if err := w.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return w.Stats().FrameCount == 8 })

	if got := engine.callCount(); got != 2 {
		t.Fatalf("expected detection on frames 4 and 8 only, got %d calls", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)
}

func TestIntruderEventCarriesSnapshot(t *testing.T) {
	src := &fakeSource{nextFn: serveFrames(1)}
	engine := &fakeEngine{fn: func(int, *models.Frame) ([]models.MatchResult, error) {
		return []models.MatchResult{intruderMatch()}, nil
	}}
	sink := &captureSink{}
	w := New(workerConfig(t), camera(), src, engine, sink, nil)

	if err := w.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sink.count() == 1 })

	ev := sink.snapshot()[0]
	if ev.SnapshotPath == "" {
		t.Fatal("expected snapshot path on intruder event")
	}
	if _, err := os.Stat(ev.SnapshotPath); err != nil {
		t.Fatalf("snapshot file missing: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)
}

func TestStartTwiceRejected(t *testing.T) {
	src := &fakeSource{nextFn: serveFrames(0)}
	w := New(workerConfig(t), camera(), src, &fakeEngine{}, &captureSink{}, nil)

	if err := w.Start(); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := w.Start(); err == nil {
		t.Fatal("expected error starting a worker twice")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Stop(ctx)
}
