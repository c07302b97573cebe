package models

import (
	"time"
)

// Classification represents the outcome class of a persisted detection
type Classification string

const (
	ClassificationAuthorized Classification = "authorized"
	ClassificationIntruder   Classification = "intruder"
	ClassificationUnknown    Classification = "unknown"
)

// IdentityUnknown is the identity assigned when a face matches no known subject
const IdentityUnknown = "unknown"

// Frame represents one timestamped image sample from a camera
type Frame struct {
	CameraID  string
	Timestamp time.Time
	Sequence  int64
	Data      []byte // JPEG encoded
	Width     int
	Height    int
}

// Region is a face bounding box in frame coordinates
type Region struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// MatchResult is one candidate identity detection from a single frame.
// Known is true when Identity refers to a registered subject; otherwise
// Identity is either IdentityUnknown or a stable intruder label and
// Confidence carries the detector's confidence for the face itself.
type MatchResult struct {
	Identity   string  `json:"identity"`
	Known      bool    `json:"known"`
	Confidence float64 `json:"confidence"`
	Region     Region  `json:"region"`
}

// Classify maps a match to its event classification. Matches against a
// registered subject are authorized; unregistered faces at or above the
// confidence threshold are intruders, below it they stay unknown.
func Classify(m MatchResult, threshold float64) Classification {
	if m.Known {
		return ClassificationAuthorized
	}
	if m.Confidence >= threshold {
		return ClassificationIntruder
	}
	return ClassificationUnknown
}

// Event is a persisted, classified detection outcome. Immutable once created.
type Event struct {
	EventID        string         `json:"event_id"`
	CameraID       string         `json:"camera_id"`
	Timestamp      time.Time      `json:"timestamp"`
	Identity       string         `json:"identity"`
	Confidence     float64        `json:"confidence"`
	Classification Classification `json:"classification"`
	SnapshotPath   string         `json:"snapshot_path,omitempty"`
}

// Alertable reports whether the event should be forwarded to the
// notification collaborator (subject to cooldown suppression).
func (e Event) Alertable() bool {
	return e.Classification == ClassificationIntruder
}

// AlertPayload is the message delivered to the notification collaborator
type AlertPayload struct {
	CameraID   string    `json:"camera_id"`
	Timestamp  time.Time `json:"timestamp"`
	Identity   string    `json:"identity"`
	Confidence float64   `json:"confidence"`
	Snapshot   string    `json:"snapshot,omitempty"`
	EventID    string    `json:"event_id"`
}

// AlertFromEvent builds the notification payload for an alertable event
func AlertFromEvent(e Event) AlertPayload {
	return AlertPayload{
		CameraID:   e.CameraID,
		Timestamp:  e.Timestamp,
		Identity:   e.Identity,
		Confidence: e.Confidence,
		Snapshot:   e.SnapshotPath,
		EventID:    e.EventID,
	}
}

// Subject is a registered person with one or more reference encodings
type Subject struct {
	SubjectID   string      `json:"subject_id"`
	DisplayName string      `json:"display_name"`
	Encodings   [][]float64 `json:"encodings,omitempty"`
}
