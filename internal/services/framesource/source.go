// Package framesource adapts one camera connection into a sequence of
// timestamped frames.
package framesource

import (
	"context"

	"vigil-worker-go/internal/models"
)

// Source wraps a single camera connection. Open failures surface as a
// ConnectionError, mid-stream failures from Next as a StreamError; no I/O
// condition may escape as a panic.
type Source interface {
	Open(ctx context.Context) error
	// Next blocks until the next frame is available or the stream fails
	Next(ctx context.Context) (*models.Frame, error)
	Close() error
}

// Factory builds a Source for a camera configuration. The supervisor uses
// it to give every worker its own isolated adapter.
type Factory func(cfg models.CameraConfig) Source
