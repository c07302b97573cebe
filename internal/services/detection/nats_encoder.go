package detection

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"vigil-worker-go/internal/models"
)

// encodeRequest is the request/reply payload to the face encoder sidecar.
// Image bytes are JPEG, base64 on the wire via encoding/json.
type encodeRequest struct {
	CameraID  string    `json:"camera_id"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Image     []byte    `json:"image"`
}

type encodeReply struct {
	Faces []FaceObservation `json:"faces"`
	Error string            `json:"error,omitempty"`
}

// NATSEncoder sends frames to a face-encoding model over NATS request/reply
type NATSEncoder struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

func NewNATSEncoder(conn *nats.Conn, subject string, timeout time.Duration) *NATSEncoder {
	log.Info().Str("subject", subject).Dur("timeout", timeout).Msg("Face encoder transport initialized")
	return &NATSEncoder{conn: conn, subject: subject, timeout: timeout}
}

func (e *NATSEncoder) Encode(ctx context.Context, frame *models.Frame) ([]FaceObservation, error) {
	payload, err := json.Marshal(encodeRequest{
		CameraID:  frame.CameraID,
		Sequence:  frame.Sequence,
		Timestamp: frame.Timestamp,
		Image:     frame.Data,
	})
	if err != nil {
		return nil, &models.DetectionError{CameraID: frame.CameraID, Err: err}
	}

	rctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	msg, err := e.conn.RequestWithContext(rctx, e.subject, payload)
	if err != nil {
		return nil, &models.DetectionError{CameraID: frame.CameraID, Err: fmt.Errorf("encoder request: %w", err)}
	}

	var reply encodeReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, &models.DetectionError{CameraID: frame.CameraID, Err: fmt.Errorf("encoder reply: %w", err)}
	}
	if reply.Error != "" {
		return nil, &models.DetectionError{CameraID: frame.CameraID, Err: fmt.Errorf("encoder: %s", reply.Error)}
	}

	return reply.Faces, nil
}
