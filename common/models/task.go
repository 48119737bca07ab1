package models

import (
	"slices"
	"time"
)

// TaskOptions configure how the control plane schedules a task.
// Zero-valued fields are omitted on the wire so they can be merged over defaults.
type TaskOptions struct {
	MaxDuration        time.Duration     `json:"max_duration,omitempty"`
	MaxRetries         int               `json:"max_retries,omitempty"`
	Priority           int               `json:"priority,omitempty"`
	PartitionID        string            `json:"partition_id,omitempty"`
	ApplicationName    string            `json:"application_name,omitempty"`
	ApplicationVersion string            `json:"application_version,omitempty"`
	Options            map[string]string `json:"options,omitempty"`
}

// Clone returns a deep copy
func (o *TaskOptions) Clone() *TaskOptions {
	if o == nil {
		return nil
	}
	c := *o
	if o.Options != nil {
		c.Options = make(map[string]string, len(o.Options))
		for k, v := range o.Options {
			c.Options[k] = v
		}
	}
	return &c
}

// TaskNode describes one task before submission.
//
// Blobs can be referenced by id (ExpectedOutputs, DataDependencies, Payload) or
// supplied inline (DataDependenciesContent, PayloadContent) for the resolver to
// create. After resolution Payload is set and every inline dependency has a
// matching entry in DataDependencies.
type TaskNode struct {
	ExpectedOutputs         []BlobInfo
	DataDependencies        []BlobInfo
	DataDependenciesContent []BlobContent
	Payload                 *BlobInfo
	PayloadContent          *BlobContent
	TaskOptions             *TaskOptions
}

// Clone returns a deep copy so resolution never aliases caller state
func (n TaskNode) Clone() TaskNode {
	c := TaskNode{
		ExpectedOutputs:         slices.Clone(n.ExpectedOutputs),
		DataDependencies:        slices.Clone(n.DataDependencies),
		DataDependenciesContent: slices.Clone(n.DataDependenciesContent),
		TaskOptions:             n.TaskOptions.Clone(),
	}
	if n.Payload != nil {
		p := *n.Payload
		c.Payload = &p
	}
	if n.PayloadContent != nil {
		pc := *n.PayloadContent
		c.PayloadContent = &pc
	}
	return c
}

// HasPendingDependencies reports whether inline dependencies still need creation
func (n TaskNode) HasPendingDependencies() bool {
	return len(n.DataDependenciesContent) > 0
}

// HasPendingPayload reports whether the payload still needs creation
func (n TaskNode) HasPendingPayload() bool {
	return n.Payload == nil || n.Payload.Pending()
}

// TaskInfos is the control plane's confirmation of a submitted task
type TaskInfos struct {
	TaskID           string   `json:"task_id"`
	SessionID        string   `json:"session_id"`
	PayloadID        string   `json:"payload_id"`
	ExpectedOutputs  []string `json:"expected_output_ids"`
	DataDependencies []string `json:"data_dependency_ids"`
}

// TaskStatus mirrors the task status taxonomy of the control plane
type TaskStatus string

const (
	TaskStatusUnspecified TaskStatus = "unspecified"
	TaskStatusCreating    TaskStatus = "creating"
	TaskStatusSubmitted   TaskStatus = "submitted"
	TaskStatusDispatched  TaskStatus = "dispatched"
	TaskStatusProcessing  TaskStatus = "processing"
	TaskStatusProcessed   TaskStatus = "processed"
	TaskStatusCompleted   TaskStatus = "completed"
	TaskStatusError       TaskStatus = "error"
	TaskStatusTimeout     TaskStatus = "timeout"
	TaskStatusCancelling  TaskStatus = "cancelling"
	TaskStatusCancelled   TaskStatus = "cancelled"
	TaskStatusRetried     TaskStatus = "retried"
)
