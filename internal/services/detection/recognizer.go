package detection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"vigil-worker-go/internal/models"
)

// SubjectSource supplies reference encodings and intruder identity tracking
type SubjectSource interface {
	Subjects(ctx context.Context) ([]models.Subject, error)
	MatchOrAddIntruder(ctx context.Context, encoding []float64, tolerance float64) (string, error)
}

// Recognizer is the default Engine: a pluggable face encoder plus the
// registry-backed matcher. Unknown faces above the alert threshold are
// resolved to stable intruder identities so repeat visitors correlate.
type Recognizer struct {
	encoder   Encoder
	subjects  SubjectSource
	matcher   Matcher
	threshold float64

	// subject snapshot cache, refreshed at most once per refreshEvery
	mu           sync.Mutex
	cached       []models.Subject
	cachedAt     time.Time
	refreshEvery time.Duration
}

func NewRecognizer(encoder Encoder, subjects SubjectSource, tolerance, threshold float64) *Recognizer {
	return &Recognizer{
		encoder:      encoder,
		subjects:     subjects,
		matcher:      Matcher{Tolerance: tolerance},
		threshold:    threshold,
		refreshEvery: 5 * time.Second,
	}
}

func (r *Recognizer) Detect(ctx context.Context, frame *models.Frame) ([]models.MatchResult, error) {
	observations, err := r.encoder.Encode(ctx, frame)
	if err != nil {
		var derr *models.DetectionError
		if errors.As(err, &derr) {
			return nil, err
		}
		return nil, &models.DetectionError{CameraID: frame.CameraID, Err: err}
	}
	if len(observations) == 0 {
		return nil, nil
	}

	subjects, err := r.subjectSnapshot(ctx)
	if err != nil {
		return nil, &models.DetectionError{CameraID: frame.CameraID, Err: err}
	}

	matches := make([]models.MatchResult, 0, len(observations))
	for _, obs := range observations {
		m := r.matcher.Resolve(obs, subjects)

		// Label alertable unknowns with a stable intruder identity.
		// Tracking failure falls back to the plain unknown identity.
		if !m.Known && m.Confidence >= r.threshold {
			id, err := r.subjects.MatchOrAddIntruder(ctx, obs.Encoding, r.matcher.Tolerance)
			if err != nil {
				log.Warn().Err(err).Str("camera_id", frame.CameraID).Msg("Intruder tracking unavailable")
			} else {
				m.Identity = id
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (r *Recognizer) subjectSnapshot(ctx context.Context) ([]models.Subject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil && time.Since(r.cachedAt) < r.refreshEvery {
		return r.cached, nil
	}
	subjects, err := r.subjects.Subjects(ctx)
	if err != nil {
		return nil, err
	}
	r.cached = subjects
	r.cachedAt = time.Now()
	return subjects, nil
}
