package models

import (
	"encoding/json"
	"time"

	"github.com/lyzr/taskplane/common/models"
)

// TaskRecord is a submitted task as stored by the control plane
type TaskRecord struct {
	TaskID            string            `json:"task_id"`
	SessionID         string            `json:"session_id"`
	PayloadID         string            `json:"payload_id"`
	ExpectedOutputIDs []string          `json:"expected_output_ids"`
	DataDependencyIDs []string          `json:"data_dependency_ids"`
	Options           json.RawMessage   `json:"task_options,omitempty"`
	Status            models.TaskStatus `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Infos returns the confirmation sent back to the submitter
func (t *TaskRecord) Infos() models.TaskInfos {
	return models.TaskInfos{
		TaskID:           t.TaskID,
		SessionID:        t.SessionID,
		PayloadID:        t.PayloadID,
		ExpectedOutputs:  t.ExpectedOutputIDs,
		DataDependencies: t.DataDependencyIDs,
	}
}
