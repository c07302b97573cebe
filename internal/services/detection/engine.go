// Package detection turns frames into identity matches. The face encoder
// is a pluggable capability; the matcher resolving encodings against the
// subject registry is pure Go.
package detection

import (
	"context"

	"vigil-worker-go/internal/models"
)

// Engine produces zero or more matches for a single frame. Implementations
// must be safe for use by one worker at a time and must report failures as
// a DetectionError, never as an empty result.
type Engine interface {
	Detect(ctx context.Context, frame *models.Frame) ([]models.MatchResult, error)
}

// FaceObservation is one detected face before identity resolution
type FaceObservation struct {
	Encoding   []float64     `json:"encoding"`
	Region     models.Region `json:"region"`
	Confidence float64       `json:"confidence"`
}

// Encoder extracts face observations from a frame. This is the model-bound
// half of the engine; swapping encoders must not change worker logic.
type Encoder interface {
	Encode(ctx context.Context, frame *models.Frame) ([]FaceObservation, error)
}
