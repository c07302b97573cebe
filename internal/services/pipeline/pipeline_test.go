package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vigil-worker-go/internal/config"
	"vigil-worker-go/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	events   []models.Event
	failNext int
}

func (f *fakeStore) Append(ctx context.Context, ev models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return &models.StorageError{Op: "append", Err: errors.New("disk full")}
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []models.AlertPayload
	block  chan struct{} // when set, Notify blocks until closed
}

func (f *fakeNotifier) Notify(ctx context.Context, a models.AlertPayload) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

func testConfig() *config.Config {
	return &config.Config{
		EventBufferSize:  64,
		IngestTimeout:    20 * time.Millisecond,
		NotifyQueueSize:  8,
		AlertCooldown:    time.Minute,
		AppendRetries:    2,
		AppendRetryDelay: time.Millisecond,
	}
}

func intruderEvent(id, cameraID, identity string) models.Event {
	return models.Event{
		EventID:        id,
		CameraID:       cameraID,
		Timestamp:      time.Now(),
		Identity:       identity,
		Confidence:     0.9,
		Classification: models.ClassificationIntruder,
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

func TestDedupSuppressesRepeatAlertsButPersistsAll(t *testing.T) {
	st := &fakeStore{}
	nt := &fakeNotifier{}
	p := New(testConfig(), st, nt)
	p.Start()
	defer p.Shutdown(context.Background())

	const n = 5
	for i := 0; i < n; i++ {
		ev := intruderEvent(string(rune('a'+i)), "cam-1", "Intruder_1")
		if !p.Ingest(ev) {
			t.Fatalf("Ingest %d rejected", i)
		}
	}

	waitFor(t, time.Second, func() bool { return st.count() == n })
	waitFor(t, time.Second, func() bool { return nt.count() == 1 })

	stats := p.Stats()
	if stats.AlertsSuppressed != n-1 {
		t.Fatalf("expected %d suppressed alerts, got %d", n-1, stats.AlertsSuppressed)
	}
	if stats.Persisted != n {
		t.Fatalf("expected %d persisted, got %d", n, stats.Persisted)
	}
}

func TestCooldownIsPerCameraAndIdentity(t *testing.T) {
	st := &fakeStore{}
	nt := &fakeNotifier{}
	p := New(testConfig(), st, nt)
	p.Start()
	defer p.Shutdown(context.Background())

	p.Ingest(intruderEvent("e1", "cam-1", "Intruder_1"))
	p.Ingest(intruderEvent("e2", "cam-2", "Intruder_1")) // different camera
	p.Ingest(intruderEvent("e3", "cam-1", "Intruder_2")) // different identity

	waitFor(t, time.Second, func() bool { return nt.count() == 3 })
}

func TestAuthorizedEventsNeverNotified(t *testing.T) {
	st := &fakeStore{}
	nt := &fakeNotifier{}
	p := New(testConfig(), st, nt)
	p.Start()
	defer p.Shutdown(context.Background())

	p.Ingest(models.Event{
		EventID:        "k1",
		CameraID:       "cam-1",
		Timestamp:      time.Now(),
		Identity:       "alice",
		Confidence:     0.95,
		Classification: models.ClassificationAuthorized,
	})

	waitFor(t, time.Second, func() bool { return st.count() == 1 })
	if nt.count() != 0 {
		t.Fatalf("authorized event produced %d alerts", nt.count())
	}
}

func TestPersistRetriesTransientAppendFailure(t *testing.T) {
	st := &fakeStore{failNext: 2}
	nt := &fakeNotifier{}
	p := New(testConfig(), st, nt)
	p.Start()
	defer p.Shutdown(context.Background())

	p.Ingest(intruderEvent("r1", "cam-1", "Intruder_1"))

	waitFor(t, time.Second, func() bool { return st.count() == 1 })
	if p.Stats().StorageDegraded {
		t.Fatal("storage should not be degraded after a successful retry")
	}
}

func TestPersistExhaustionFlagsDegradedStorage(t *testing.T) {
	st := &fakeStore{failNext: 100}
	nt := &fakeNotifier{}
	p := New(testConfig(), st, nt)
	p.Start()
	defer p.Shutdown(context.Background())

	p.Ingest(intruderEvent("d1", "cam-1", "Intruder_1"))

	waitFor(t, time.Second, func() bool { return p.Stats().StorageDegraded })
}

func TestIngestDropsWhenBufferFull(t *testing.T) {
	cfg := testConfig()
	cfg.EventBufferSize = 1
	cfg.IngestTimeout = 5 * time.Millisecond

	st := &fakeStore{}
	p := New(cfg, st, &fakeNotifier{})
	// Pipeline not started: the buffer fills and stays full

	if !p.Ingest(intruderEvent("b1", "cam-1", "Intruder_1")) {
		t.Fatal("first ingest should fit the buffer")
	}
	if p.Ingest(intruderEvent("b2", "cam-1", "Intruder_1")) {
		t.Fatal("second ingest should drop after the timeout")
	}
	if p.Stats().IngestDropped != 1 {
		t.Fatalf("expected 1 ingest drop, got %d", p.Stats().IngestDropped)
	}
}

func TestIngestAfterShutdownCountsDrop(t *testing.T) {
	p := New(testConfig(), &fakeStore{}, &fakeNotifier{})
	p.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}

	if p.Ingest(intruderEvent("s1", "cam-1", "Intruder_1")) {
		t.Fatal("ingest into a stopped pipeline should be rejected")
	}
	if p.Stats().IngestDropped != 1 {
		t.Fatalf("expected the rejected event counted as dropped, got %d", p.Stats().IngestDropped)
	}
}

func TestEnqueueAlertEvictsOldestOnOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyQueueSize = 2

	p := New(cfg, &fakeStore{}, &fakeNotifier{})
	// Dispatcher not started so the queue never drains

	p.enqueueAlert(models.AlertPayload{EventID: "a1"})
	p.enqueueAlert(models.AlertPayload{EventID: "a2"})
	p.enqueueAlert(models.AlertPayload{EventID: "a3"})

	if got := p.Stats().AlertsDropped; got != 1 {
		t.Fatalf("expected 1 dropped alert, got %d", got)
	}

	// Oldest was evicted; a2 and a3 remain in order
	first := <-p.alerts
	second := <-p.alerts
	if first.EventID != "a2" || second.EventID != "a3" {
		t.Fatalf("expected a2,a3 in queue, got %s,%s", first.EventID, second.EventID)
	}
}

func TestSlowNotifierDoesNotBlockPersistence(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyQueueSize = 1

	st := &fakeStore{}
	nt := &fakeNotifier{block: make(chan struct{})}
	p := New(cfg, st, nt)
	p.Start()
	defer func() {
		close(nt.block)
		p.Shutdown(context.Background())
	}()

	const n = 10
	for i := 0; i < n; i++ {
		p.Ingest(intruderEvent(string(rune('a'+i)), "cam-1", string(rune('A'+i))))
	}

	// Persistence completes even though no alert is ever delivered
	waitFor(t, time.Second, func() bool { return st.count() == n })
}

func TestShutdownStopsConsumers(t *testing.T) {
	p := New(testConfig(), &fakeStore{}, &fakeNotifier{})
	p.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown error: %v", err)
	}
}
