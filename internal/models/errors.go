package models

import (
	"fmt"
)

// ConnectionError indicates a camera could not be reached or opened
type ConnectionError struct {
	CameraID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("camera %s: connection failed: %v", e.CameraID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StreamError indicates a mid-stream read failure or EOF on an open camera
type StreamError struct {
	CameraID string
	Err      error
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("camera %s: stream failure: %v", e.CameraID, e.Err)
}

func (e *StreamError) Unwrap() error { return e.Err }

// DetectionError indicates the detection engine failed on a frame. It is
// distinct from a successful detection with zero matches.
type DetectionError struct {
	CameraID string
	Err      error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("camera %s: detection failed: %v", e.CameraID, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// StorageError indicates an event store append or query failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("event store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ExportError indicates the export destination was unwritable
type ExportError struct {
	Destination string
	Err         error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export to %s: %v", e.Destination, e.Err)
}

func (e *ExportError) Unwrap() error { return e.Err }

// SupervisorTimeoutError indicates a worker did not respond to a control
// command within its deadline
type SupervisorTimeoutError struct {
	CameraID string
	Op       string
}

func (e *SupervisorTimeoutError) Error() string {
	return fmt.Sprintf("camera %s: worker unresponsive to %s", e.CameraID, e.Op)
}
