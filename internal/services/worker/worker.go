// Package worker runs one camera's capture-and-detect loop in an isolated
// goroutine. Workers never share mutable state with each other; everything
// leaves through the event sink and the transition callback.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vigil-worker-go/internal/config"
	"vigil-worker-go/internal/logging"
	"vigil-worker-go/internal/models"
	"vigil-worker-go/internal/services/detection"
	"vigil-worker-go/internal/services/framesource"
)

// EventSink receives events produced by the frame loop. Ingest returns
// false when the event was dropped rather than blocking the loop.
type EventSink interface {
	Ingest(ev models.Event) bool
}

// TransitionFunc is invoked on every lifecycle status change. It must not
// call back into the worker's blocking control methods.
type TransitionFunc func(t models.Transition)

// Stats is a snapshot of the worker's live counters
type Stats struct {
	FrameCount          int64
	EventCount          int64
	DroppedEvents       int64
	ConsecutiveFailures int
	LastFrameTime       time.Time
}

// Worker owns one frame source and one detection engine instance.
// Lifecycle: Stopped -> Starting -> Running <-> Degraded -> Failed, with
// Stopping on the cooperative shutdown path. Any failure is contained
// here and surfaced as a transition, never as a crash.
type Worker struct {
	cfg    *config.Config
	camera models.CameraConfig
	source framesource.Source
	engine detection.Engine
	sink   EventSink
	report TransitionFunc
	logger zerolog.Logger

	mu     sync.Mutex
	status models.LifecycleStatus

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool

	frameCount    atomic.Int64
	eventCount    atomic.Int64
	droppedEvents atomic.Int64
	consecutive   atomic.Int32
	lastFrameNano atomic.Int64
}

func New(cfg *config.Config, camera models.CameraConfig, source framesource.Source, engine detection.Engine, sink EventSink, report TransitionFunc) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		cfg:    cfg,
		camera: camera,
		source: source,
		engine: engine,
		sink:   sink,
		report: report,
		logger: logging.WithCamera(logging.NewServiceLogger(cfg, "worker"), camera.CameraID),
		status: models.StatusStopped,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start launches the frame loop. A worker instance runs at most once; the
// supervisor creates a fresh worker for every restart.
func (w *Worker) Start() error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("camera %s: worker already started", w.camera.CameraID)
	}
	go w.run()
	return nil
}

// Stop cancels the loop and waits for it to exit, bounded by ctx. A worker
// stuck past the deadline is reported as unresponsive; its goroutine will
// still exit at the next cancellation checkpoint.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return &models.SupervisorTimeoutError{CameraID: w.camera.CameraID, Op: "stop"}
	}
}

// Kill cancels the loop without waiting. Used for force-termination after
// a stop timeout.
func (w *Worker) Kill() {
	w.cancel()
}

// Done is closed when the frame loop has fully exited
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) Status() models.LifecycleStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *Worker) Stats() Stats {
	return Stats{
		FrameCount:          w.frameCount.Load(),
		EventCount:          w.eventCount.Load(),
		DroppedEvents:       w.droppedEvents.Load(),
		ConsecutiveFailures: int(w.consecutive.Load()),
		LastFrameTime:       time.Unix(0, w.lastFrameNano.Load()),
	}
}

func (w *Worker) run() {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Interface("panic", r).Msg("Worker panic recovered")
			w.source.Close()
			w.transition(models.StatusFailed, fmt.Errorf("worker panic: %v", r))
		}
	}()

	w.transition(models.StatusStarting, nil)

	openCtx, cancelOpen := context.WithTimeout(w.ctx, w.cfg.OpenTimeout)
	err := w.source.Open(openCtx)
	cancelOpen()
	if err != nil {
		w.source.Close()
		if w.ctx.Err() != nil {
			w.transition(models.StatusStopped, nil)
			return
		}
		w.transition(models.StatusFailed, err)
		return
	}
	defer w.source.Close()

	w.transition(models.StatusRunning, nil)

	var limiter *rate.Limiter
	if w.cfg.TargetFPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(w.cfg.TargetFPS), 1)
	}
	lastLogged := make(map[string]time.Time)

	for {
		if w.ctx.Err() != nil {
			w.shutdown()
			return
		}
		if limiter != nil {
			if err := limiter.Wait(w.ctx); err != nil {
				w.shutdown()
				return
			}
		}

		frame, err := w.source.Next(w.ctx)
		if err != nil {
			if w.ctx.Err() != nil {
				w.shutdown()
				return
			}
			if w.recordFailure(err) {
				w.fail(err)
				return
			}
			w.backoff()
			w.reopen()
			continue
		}

		w.frameCount.Add(1)
		w.lastFrameNano.Store(frame.Timestamp.UnixNano())

		if w.cfg.DetectInterval > 1 && frame.Sequence%int64(w.cfg.DetectInterval) != 0 {
			continue
		}

		detectCtx, cancelDetect := context.WithTimeout(w.ctx, w.cfg.DetectTimeout)
		matches, err := w.engine.Detect(detectCtx, frame)
		cancelDetect()
		if err != nil {
			if w.ctx.Err() != nil {
				w.shutdown()
				return
			}
			if w.recordFailure(err) {
				w.fail(err)
				return
			}
			w.backoff()
			continue
		}

		w.markHealthy()
		for _, m := range matches {
			ev, ok := w.buildEvent(frame, m, lastLogged)
			if !ok {
				continue
			}
			if w.sink.Ingest(ev) {
				w.eventCount.Add(1)
			} else {
				w.droppedEvents.Add(1)
			}
		}
	}
}

func (w *Worker) shutdown() {
	w.transition(models.StatusStopping, nil)
	w.source.Close()
	w.transition(models.StatusStopped, nil)
}

func (w *Worker) fail(err error) {
	w.source.Close()
	w.transition(models.StatusFailed, err)
}

// recordFailure counts one frame or detection failure and reports whether
// the consecutive-failure threshold escalates the worker to Failed.
func (w *Worker) recordFailure(err error) bool {
	n := int(w.consecutive.Add(1))

	w.logger.Warn().
		Err(err).
		Int("consecutive_failures", n).
		Msg("Frame loop failure")

	if w.Status() == models.StatusRunning {
		w.transition(models.StatusDegraded, err)
	}
	return n >= w.cfg.MaxConsecutiveFailures
}

func (w *Worker) markHealthy() {
	if w.consecutive.Swap(0) != 0 && w.Status() == models.StatusDegraded {
		w.transition(models.StatusRunning, nil)
	}
}

func (w *Worker) backoff() {
	delay := BackoffDelay(int(w.consecutive.Load()), w.cfg.DegradedRetryDelay, w.cfg.RestartBackoffMax)
	select {
	case <-w.ctx.Done():
	case <-time.After(delay):
	}
}

// reopen recycles the adapter after a stream failure, the way a dropped
// IP camera connection comes back. A failed reopen is not fatal here; the
// next read failure keeps the consecutive counter climbing.
func (w *Worker) reopen() {
	if w.ctx.Err() != nil {
		return
	}
	w.source.Close()

	openCtx, cancel := context.WithTimeout(w.ctx, w.cfg.OpenTimeout)
	defer cancel()
	if err := w.source.Open(openCtx); err != nil {
		w.logger.Warn().Err(err).Msg("Reopen failed")
	}
}

// buildEvent converts a match into a domain event. Non-alertable
// sightings are debounced per identity so the log is not flooded by every
// frame of the same face; alertable matches always produce an event and
// keep the triggering frame as a snapshot.
func (w *Worker) buildEvent(frame *models.Frame, m models.MatchResult, lastLogged map[string]time.Time) (models.Event, bool) {
	classification := models.Classify(m, w.cfg.ConfidenceThreshold)

	if classification != models.ClassificationIntruder {
		if last, ok := lastLogged[m.Identity]; ok && time.Since(last) < w.cfg.KnownLogCooldown {
			return models.Event{}, false
		}
		lastLogged[m.Identity] = time.Now()
	}

	snapshot := ""
	if classification == models.ClassificationIntruder {
		snapshot = w.saveSnapshot(frame)
	}

	return models.Event{
		EventID:        uuid.NewString(),
		CameraID:       frame.CameraID,
		Timestamp:      frame.Timestamp,
		Identity:       m.Identity,
		Confidence:     m.Confidence,
		Classification: classification,
		SnapshotPath:   snapshot,
	}, true
}

func (w *Worker) saveSnapshot(frame *models.Frame) string {
	if w.cfg.SnapshotDir == "" || len(frame.Data) == 0 {
		return ""
	}
	if err := os.MkdirAll(w.cfg.SnapshotDir, 0o755); err != nil {
		w.logger.Warn().Err(err).Msg("Snapshot directory unavailable")
		return ""
	}
	name := fmt.Sprintf("intruder_%s.jpg", frame.Timestamp.Format("20060102_150405.000000000"))
	path := filepath.Join(w.cfg.SnapshotDir, name)
	if err := os.WriteFile(path, frame.Data, 0o644); err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("Failed to write snapshot")
		return ""
	}
	return path
}

// transition swaps the status and reports the change. The lock is released
// before the callback so the supervisor can query status from within its
// own locking discipline.
func (w *Worker) transition(to models.LifecycleStatus, cause error) {
	w.mu.Lock()
	from := w.status
	if from == to {
		w.mu.Unlock()
		return
	}
	w.status = to
	w.mu.Unlock()

	evt := w.logger.Info()
	if cause != nil {
		evt = w.logger.Warn().Err(cause)
	}
	evt.Str("from", string(from)).Str("to", string(to)).Msg("Worker state change")

	if w.report != nil {
		w.report(models.Transition{
			CameraID: w.camera.CameraID,
			From:     from,
			To:       to,
			Err:      cause,
			At:       time.Now(),
		})
	}
}
