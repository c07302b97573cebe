package models

import (
	"time"
)

// CameraConfig is the connection configuration for a single camera
type CameraConfig struct {
	CameraID string `json:"camera_id" binding:"required"`
	URL      string `json:"url" binding:"required"`
	// Label is an optional operator-facing name
	Label string `json:"label,omitempty"`
}

// LifecycleStatus is the supervisor-visible state of a camera worker
type LifecycleStatus string

const (
	StatusStopped  LifecycleStatus = "stopped"
	StatusStarting LifecycleStatus = "starting"
	StatusRunning  LifecycleStatus = "running"
	StatusDegraded LifecycleStatus = "degraded"
	StatusFailed   LifecycleStatus = "failed"
	StatusStopping LifecycleStatus = "stopping"
)

// CameraState is the supervisor-owned record for one configured camera.
// Mutated only by the supervisor in response to worker transitions.
type CameraState struct {
	CameraID      string          `json:"camera_id"`
	Config        CameraConfig    `json:"config"`
	Status        LifecycleStatus `json:"status"`
	RestartCount  int             `json:"restart_count"`
	LastError     string          `json:"last_error,omitempty"`
	LastHeartbeat time.Time       `json:"last_heartbeat,omitempty"`

	// Live worker counters, merged in on status queries
	FrameCount    int64     `json:"frame_count"`
	EventCount    int64     `json:"event_count"`
	DroppedEvents int64     `json:"dropped_events"`
	LastFrameTime time.Time `json:"last_frame_time,omitempty"`
}

// Transition is a worker-reported state change
type Transition struct {
	CameraID string
	From     LifecycleStatus
	To       LifecycleStatus
	Err      error
	At       time.Time
}
