package models

import "time"

// SessionStatus is the lifecycle state of a session
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusPaused    SessionStatus = "paused"
	SessionStatusCancelled SessionStatus = "cancelled"
	SessionStatusClosed    SessionStatus = "closed"
	SessionStatusPurged    SessionStatus = "purged"
	SessionStatusDeleted   SessionStatus = "deleted"
)

// SessionInfo describes a session as known by the control plane
type SessionInfo struct {
	SessionID          string        `json:"session_id"`
	Status             SessionStatus `json:"status"`
	PartitionIDs       []string      `json:"partition_ids,omitempty"`
	DefaultTaskOptions *TaskOptions  `json:"task_options,omitempty"`
	ClientSubmission   bool          `json:"client_submission"`
	CreatedAt          time.Time     `json:"created_at"`
	CancelledAt        *time.Time    `json:"cancelled_at,omitempty"`
	ClosedAt           *time.Time    `json:"closed_at,omitempty"`
}

// BlobEvent is a status change pushed by the control plane
type BlobEvent struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id"`
	BlobID    string     `json:"result_id"`
	Name      string     `json:"name,omitempty"`
	Status    BlobStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}

// EventResultStatusUpdate is the BlobEvent type for result status changes
const EventResultStatusUpdate = "result_status_update"
