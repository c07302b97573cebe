// Package pipeline is the single ingress for events from all camera
// workers: cooldown dedup, persistence, and decoupled alert dispatch.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"vigil-worker-go/internal/config"
	"vigil-worker-go/internal/models"
	"vigil-worker-go/internal/services/notify"
)

// Store is the append contract the pipeline persists through
type Store interface {
	Append(ctx context.Context, ev models.Event) error
}

// Stats is a snapshot of pipeline counters for the status API
type Stats struct {
	Persisted        int64 `json:"persisted"`
	IngestDropped    int64 `json:"ingest_dropped"`
	AlertsSent       int64 `json:"alerts_sent"`
	AlertsSuppressed int64 `json:"alerts_suppressed"`
	AlertsDropped    int64 `json:"alerts_dropped"`
	StorageDegraded  bool  `json:"storage_degraded"`
}

// Pipeline consumes events from every worker through one bounded channel.
// A single consumer goroutine preserves per-camera order end to end;
// notification dispatch runs on its own goroutine behind a bounded queue
// so a slow transport never blocks persistence.
type Pipeline struct {
	cfg      *config.Config
	store    Store
	notifier notify.Notifier

	ingress chan models.Event
	alerts  chan models.AlertPayload

	cooldownMu sync.Mutex
	lastAlert  map[string]time.Time

	persisted        atomic.Int64
	ingestDropped    atomic.Int64
	alertsSent       atomic.Int64
	alertsSuppressed atomic.Int64
	alertsDropped    atomic.Int64
	storageDegraded  atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Config, store Store, notifier notify.Notifier) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		notifier:  notifier,
		ingress:   make(chan models.Event, cfg.EventBufferSize),
		alerts:    make(chan models.AlertPayload, cfg.NotifyQueueSize),
		lastAlert: make(map[string]time.Time),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the consumer and dispatcher goroutines
func (p *Pipeline) Start() {
	p.wg.Add(2)
	go p.run()
	go p.dispatch()

	log.Info().
		Int("event_buffer", p.cfg.EventBufferSize).
		Int("notify_queue", p.cfg.NotifyQueueSize).
		Dur("alert_cooldown", p.cfg.AlertCooldown).
		Msg("Event pipeline started")
}

// Ingest offers one event to the pipeline. It blocks at most IngestTimeout
// when the buffer is full, then drops and counts so a stalled pipeline can
// never stall a camera loop. Returns false when the event was dropped.
func (p *Pipeline) Ingest(ev models.Event) bool {
	if p.ctx.Err() != nil {
		p.ingestDropped.Add(1)
		return false
	}
	select {
	case p.ingress <- ev:
		return true
	case <-p.ctx.Done():
		p.ingestDropped.Add(1)
		return false
	case <-time.After(p.cfg.IngestTimeout):
		p.ingestDropped.Add(1)
		log.Warn().
			Str("camera_id", ev.CameraID).
			Str("event_id", ev.EventID).
			Msg("Dropped event - ingestion buffer full")
		return false
	}
}

func (p *Pipeline) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.ingress:
			p.process(ev)
		}
	}
}

func (p *Pipeline) process(ev models.Event) {
	notifyAllowed := false
	if ev.Alertable() {
		notifyAllowed = p.allowAlert(ev)
		if !notifyAllowed {
			p.alertsSuppressed.Add(1)
			log.Debug().
				Str("camera_id", ev.CameraID).
				Str("identity", ev.Identity).
				Msg("Alert suppressed by cooldown")
		}
	}

	// Every event is persisted, suppressed or not
	p.persist(ev)

	if notifyAllowed {
		p.enqueueAlert(models.AlertFromEvent(ev))
	}
}

// persist appends with bounded retry; repeated failure flips the
// degraded-storage flag surfaced on the status API while ingestion keeps
// buffering.
func (p *Pipeline) persist(ev models.Event) {
	var err error
	for attempt := 0; attempt <= p.cfg.AppendRetries; attempt++ {
		if attempt > 0 {
			delay := p.cfg.AppendRetryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if err = p.store.Append(p.ctx, ev); err == nil {
			p.persisted.Add(1)
			p.storageDegraded.Store(false)
			return
		}
	}

	p.storageDegraded.Store(true)
	log.Error().
		Err(err).
		Str("event_id", ev.EventID).
		Str("camera_id", ev.CameraID).
		Int("attempts", p.cfg.AppendRetries+1).
		Msg("Event append failed, storage degraded")
}

// allowAlert checks and updates the per camera+identity cooldown window
func (p *Pipeline) allowAlert(ev models.Event) bool {
	key := ev.CameraID + "|" + ev.Identity

	p.cooldownMu.Lock()
	defer p.cooldownMu.Unlock()

	if last, ok := p.lastAlert[key]; ok && time.Since(last) < p.cfg.AlertCooldown {
		return false
	}
	p.lastAlert[key] = time.Now()
	return true
}

// enqueueAlert offers to the bounded dispatch queue, evicting the oldest
// pending alert on overflow rather than blocking the consumer.
func (p *Pipeline) enqueueAlert(a models.AlertPayload) {
	select {
	case p.alerts <- a:
		return
	default:
	}

	select {
	case <-p.alerts:
		p.alertsDropped.Add(1)
		log.Warn().Str("camera_id", a.CameraID).Msg("Notification queue full, dropped oldest alert")
	default:
	}

	select {
	case p.alerts <- a:
	default:
		p.alertsDropped.Add(1)
	}
}

func (p *Pipeline) dispatch() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case a := <-p.alerts:
			if err := p.notifier.Notify(p.ctx, a); err != nil {
				log.Error().
					Err(err).
					Str("camera_id", a.CameraID).
					Str("identity", a.Identity).
					Msg("Failed to deliver alert")
				continue
			}
			p.alertsSent.Add(1)
			log.Info().
				Str("camera_id", a.CameraID).
				Str("identity", a.Identity).
				Float64("confidence", a.Confidence).
				Msg("Alert delivered")
		}
	}
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Persisted:        p.persisted.Load(),
		IngestDropped:    p.ingestDropped.Load(),
		AlertsSent:       p.alertsSent.Load(),
		AlertsSuppressed: p.alertsSuppressed.Load(),
		AlertsDropped:    p.alertsDropped.Load(),
		StorageDegraded:  p.storageDegraded.Load(),
	}
}

// Shutdown stops the consumer and dispatcher, bounded by ctx
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("Event pipeline shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
