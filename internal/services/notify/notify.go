package notify

import (
	"context"

	"vigil-worker-go/internal/models"
)

// Notifier delivers alert payloads to the notification collaborator.
// Delivery is best-effort at-least-once; retry across transport restarts
// is the collaborator's responsibility.
type Notifier interface {
	Notify(ctx context.Context, alert models.AlertPayload) error
}
