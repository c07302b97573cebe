// Package supervisor manages the fleet of camera workers: registration,
// start/stop control, crash-restart with exponential backoff, and the
// status table exposed over the API.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vigil-worker-go/internal/config"
	"vigil-worker-go/internal/logging"
	"vigil-worker-go/internal/models"
	"vigil-worker-go/internal/services/detection"
	"vigil-worker-go/internal/services/framesource"
	"vigil-worker-go/internal/services/worker"
)

type entry struct {
	config models.CameraConfig
	state  models.CameraState
	worker *worker.Worker

	// generation increments every time a new worker is created for this
	// camera. Transitions and restart timers carrying a stale generation
	// are ignored; they belong to a worker that has been replaced.
	generation uint64

	// desiredRunning distinguishes an operator stop from a crash. Only
	// crashes of cameras that should be running trigger restarts.
	desiredRunning bool

	restartTimer *time.Timer
}

// Supervisor owns all camera workers. One worker's failure never touches
// another camera: each worker runs in its own goroutine and the supervisor
// reacts to its transitions asynchronously.
type Supervisor struct {
	cfg     *config.Config
	sources framesource.Factory
	engine  detection.Engine
	sink    worker.EventSink
	logger  zerolog.Logger

	mu      sync.RWMutex
	cameras map[string]*entry
}

func New(cfg *config.Config, sources framesource.Factory, engine detection.Engine, sink worker.EventSink) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		sources: sources,
		engine:  engine,
		sink:    sink,
		logger:  logging.NewServiceLogger(cfg, "supervisor"),
		cameras: make(map[string]*entry),
	}
}

// AddCamera registers a camera without starting it
func (s *Supervisor) AddCamera(camera models.CameraConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cameras[camera.CameraID]; exists {
		return fmt.Errorf("camera %s already registered", camera.CameraID)
	}
	if s.cfg.MaxCameras > 0 && len(s.cameras) >= s.cfg.MaxCameras {
		return fmt.Errorf("camera limit reached (%d)", s.cfg.MaxCameras)
	}

	s.cameras[camera.CameraID] = &entry{
		config: camera,
		state: models.CameraState{
			CameraID: camera.CameraID,
			Config:   camera,
			Status:   models.StatusStopped,
		},
	}
	s.logger.Info().Str("camera_id", camera.CameraID).Str("url", camera.URL).Msg("Camera registered")
	return nil
}

// RemoveCamera stops the camera's worker if one is running and deletes the
// registration.
func (s *Supervisor) RemoveCamera(ctx context.Context, cameraID string) error {
	s.mu.Lock()
	e, exists := s.cameras[cameraID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("camera %s not found", cameraID)
	}
	e.desiredRunning = false
	e.generation++
	if e.restartTimer != nil {
		e.restartTimer.Stop()
		e.restartTimer = nil
	}
	w := e.worker
	e.worker = nil
	delete(s.cameras, cameraID)
	s.mu.Unlock()

	if w != nil {
		if err := s.stopWorker(ctx, cameraID, w); err != nil {
			return err
		}
	}
	s.logger.Info().Str("camera_id", cameraID).Msg("Camera removed")
	return nil
}

// StartCamera launches a fresh worker for the camera. Starting a Failed
// camera resets its restart budget; starting a camera that is already
// running is an error.
func (s *Supervisor) StartCamera(cameraID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.cameras[cameraID]
	if !exists {
		return fmt.Errorf("camera %s not found", cameraID)
	}
	switch e.state.Status {
	case models.StatusStopped, models.StatusFailed:
	default:
		return fmt.Errorf("camera %s is %s", cameraID, e.state.Status)
	}

	e.desiredRunning = true
	e.state.RestartCount = 0
	e.state.LastError = ""
	if e.restartTimer != nil {
		e.restartTimer.Stop()
		e.restartTimer = nil
	}
	return s.launchLocked(e)
}

// launchLocked creates and starts a new worker for the entry. Caller holds
// s.mu.
func (s *Supervisor) launchLocked(e *entry) error {
	e.generation++
	gen := e.generation

	src := s.sources(e.config)
	w := worker.New(s.cfg, e.config, src, s.engine, s.sink, func(t models.Transition) {
		s.onTransition(gen, t)
	})
	e.worker = w
	e.state.Status = models.StatusStarting
	e.state.LastHeartbeat = time.Now()

	if err := w.Start(); err != nil {
		e.worker = nil
		e.state.Status = models.StatusFailed
		e.state.LastError = err.Error()
		return err
	}
	s.logger.Info().Str("camera_id", e.config.CameraID).Msg("Worker launched")
	return nil
}

// StopCamera performs an operator stop: the worker is shut down and no
// restart is scheduled.
func (s *Supervisor) StopCamera(ctx context.Context, cameraID string) error {
	s.mu.Lock()
	e, exists := s.cameras[cameraID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("camera %s not found", cameraID)
	}
	e.desiredRunning = false
	if e.restartTimer != nil {
		e.restartTimer.Stop()
		e.restartTimer = nil
	}
	w := e.worker
	if w == nil {
		e.state.Status = models.StatusStopped
		s.mu.Unlock()
		return nil
	}
	e.generation++ // transitions from this worker are now stale
	e.worker = nil
	e.state.Status = models.StatusStopping
	s.mu.Unlock()

	err := s.stopWorker(ctx, cameraID, w)

	s.mu.Lock()
	if cur, ok := s.cameras[cameraID]; ok {
		cur.state.Status = models.StatusStopped
		cur.state.LastHeartbeat = time.Now()
		s.mergeCounters(cur, w)
	}
	s.mu.Unlock()
	return err
}

func (s *Supervisor) stopWorker(ctx context.Context, cameraID string, w *worker.Worker) error {
	stopCtx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		s.logger.Error().Err(err).Str("camera_id", cameraID).Msg("Worker did not stop in time, killing")
		w.Kill()
		return err
	}
	return nil
}

// StartAll starts every registered camera that is not already running
func (s *Supervisor) StartAll(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.cameras))
	for id := range s.cameras {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := s.StartCamera(id); err != nil {
				s.logger.Warn().Err(err).Str("camera_id", id).Msg("Start skipped")
			}
			return nil
		})
	}
	return g.Wait()
}

// StopAll stops every camera concurrently. Used on shutdown.
func (s *Supervisor) StopAll(ctx context.Context) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.cameras))
	for id := range s.cameras {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return s.StopCamera(gctx, id)
		})
	}
	return g.Wait()
}

// CameraState returns a point-in-time snapshot for one camera
func (s *Supervisor) CameraState(cameraID string) (models.CameraState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.cameras[cameraID]
	if !exists {
		return models.CameraState{}, fmt.Errorf("camera %s not found", cameraID)
	}
	return s.snapshotLocked(e), nil
}

// CameraStates returns snapshots for every registered camera
func (s *Supervisor) CameraStates() []models.CameraState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CameraState, 0, len(s.cameras))
	for _, e := range s.cameras {
		out = append(out, s.snapshotLocked(e))
	}
	return out
}

func (s *Supervisor) snapshotLocked(e *entry) models.CameraState {
	st := e.state
	if e.worker != nil {
		ws := e.worker.Stats()
		st.FrameCount = ws.FrameCount
		st.EventCount = ws.EventCount
		st.DroppedEvents = ws.DroppedEvents
		st.LastFrameTime = ws.LastFrameTime
	}
	return st
}

func (s *Supervisor) mergeCounters(e *entry, w *worker.Worker) {
	ws := w.Stats()
	e.state.FrameCount = ws.FrameCount
	e.state.EventCount = ws.EventCount
	e.state.DroppedEvents = ws.DroppedEvents
	e.state.LastFrameTime = ws.LastFrameTime
}

// onTransition is the worker transition callback. It runs on the worker's
// goroutine, so it must only take s.mu briefly and never call back into
// blocking worker methods.
func (s *Supervisor) onTransition(gen uint64, t models.Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.cameras[t.CameraID]
	if !exists || gen != e.generation {
		return // stale worker
	}

	e.state.Status = t.To
	e.state.LastHeartbeat = t.At
	if t.Err != nil {
		e.state.LastError = t.Err.Error()
	}
	if t.To == models.StatusRunning {
		// A healthy run resets the restart budget
		e.state.RestartCount = 0
	}
	if t.To == models.StatusFailed && e.desiredRunning {
		s.scheduleRestartLocked(e)
	}
}

// scheduleRestartLocked arms the restart timer for a crashed camera.
// Caller holds s.mu. After RestartMaxAttempts consecutive failures the
// camera stays Failed until an operator calls StartCamera.
func (s *Supervisor) scheduleRestartLocked(e *entry) {
	if e.state.RestartCount >= s.cfg.RestartMaxAttempts {
		s.logger.Error().
			Str("camera_id", e.config.CameraID).
			Int("attempts", e.state.RestartCount).
			Msg("Restart attempts exhausted, camera stays failed")
		e.worker = nil
		return
	}

	e.state.RestartCount++
	attempt := e.state.RestartCount
	delay := worker.BackoffDelay(attempt, s.cfg.RestartBackoffMin, s.cfg.RestartBackoffMax)
	gen := e.generation
	cameraID := e.config.CameraID

	s.logger.Warn().
		Str("camera_id", cameraID).
		Int("attempt", attempt).
		Dur("delay", delay).
		Msg("Scheduling worker restart")

	e.restartTimer = time.AfterFunc(delay, func() {
		s.restart(cameraID, gen)
	})
}

func (s *Supervisor) restart(cameraID string, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.cameras[cameraID]
	if !exists || gen != e.generation || !e.desiredRunning {
		return // removed, replaced, or stopped while the timer was armed
	}
	e.restartTimer = nil
	if err := s.launchLocked(e); err != nil {
		s.logger.Error().Err(err).Str("camera_id", cameraID).Msg("Restart launch failed")
	}
}
