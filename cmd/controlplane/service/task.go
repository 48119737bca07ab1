package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	cpmodels "github.com/lyzr/taskplane/cmd/controlplane/models"
	"github.com/lyzr/taskplane/cmd/controlplane/repository"
	"github.com/lyzr/taskplane/common/clients"
	"github.com/lyzr/taskplane/common/logger"
	"github.com/lyzr/taskplane/common/metrics"
	"github.com/lyzr/taskplane/common/models"
)

// TaskService records submitted tasks
type TaskService struct {
	tasks    repository.TaskRepository
	results  repository.ResultRepository
	sessions *SessionService
	metrics  *metrics.Transfer
	log      *logger.Logger
}

// NewTaskService creates a task service. m may be nil.
func NewTaskService(store repository.Store, sessions *SessionService, m *metrics.Transfer, log *logger.Logger) *TaskService {
	return &TaskService{
		tasks:    store,
		results:  store,
		sessions: sessions,
		metrics:  m,
		log:      log,
	}
}

// Submit validates and stores a batch of tasks. Every referenced result must
// exist in the session; expected outputs must still be waiting for data.
// Infos come back in request order.
func (s *TaskService) Submit(ctx context.Context, sessionID string, req clients.SubmitTasksRequest) ([]models.TaskInfos, error) {
	session, err := s.sessions.RequireOpen(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.ClientSubmission {
		return nil, fmt.Errorf("%w: session %s does not accept client submissions", ErrConflict, sessionID)
	}
	if len(req.Tasks) == 0 {
		return []models.TaskInfos{}, nil
	}

	var ids []string
	for i, t := range req.Tasks {
		if t.PayloadID == "" {
			return nil, fmt.Errorf("%w: task %d has no payload", ErrInvalid, i)
		}
		if len(t.ExpectedOutputIDs) == 0 {
			return nil, fmt.Errorf("%w: task %d has no expected outputs", ErrInvalid, i)
		}
		ids = append(ids, t.PayloadID)
		ids = append(ids, t.ExpectedOutputIDs...)
		ids = append(ids, t.DataDependencyIDs...)
	}

	found, err := s.results.GetResults(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r, ok := found[id]
		if !ok || r.SessionID != sessionID {
			return nil, fmt.Errorf("%w: result %s not found in session %s", ErrNotFound, id, sessionID)
		}
	}
	for _, t := range req.Tasks {
		for _, id := range t.ExpectedOutputIDs {
			if r := found[id]; r.Status != models.BlobStatusCreated {
				return nil, fmt.Errorf("%w: expected output %s is %s", ErrConflict, id, r.Status)
			}
		}
	}

	base, err := sessionOptions(session, req.TaskOptions)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	records := make([]cpmodels.TaskRecord, len(req.Tasks))
	for i, t := range req.Tasks {
		options, err := mergeOptions(base, t.TaskOptions)
		if err != nil {
			return nil, fmt.Errorf("%w: task %d options: %v", ErrInvalid, i, err)
		}
		records[i] = cpmodels.TaskRecord{
			TaskID:            uuid.NewString(),
			SessionID:         sessionID,
			PayloadID:         t.PayloadID,
			ExpectedOutputIDs: t.ExpectedOutputIDs,
			DataDependencyIDs: t.DataDependencyIDs,
			Options:           options,
			Status:            models.TaskStatusSubmitted,
			CreatedAt:         now,
		}
	}

	if err := s.tasks.CreateTasks(ctx, records); err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := s.results.SetOwner(ctx, rec.ExpectedOutputIDs, rec.TaskID); err != nil {
			return nil, err
		}
	}

	infos := make([]models.TaskInfos, len(records))
	for i := range records {
		infos[i] = records[i].Infos()
	}

	s.metrics.RecordTasksSubmitted(len(infos))
	s.log.WithContext(ctx).WithSession(sessionID).Info("tasks submitted", "count", len(infos))
	return infos, nil
}

// List returns the tasks of a session
func (s *TaskService) List(ctx context.Context, sessionID string) ([]cpmodels.TaskRecord, error) {
	if _, err := s.sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.tasks.ListTasks(ctx, sessionID)
}

// sessionOptions merges the request options over the session defaults
func sessionOptions(session models.SessionInfo, requested json.RawMessage) (json.RawMessage, error) {
	var base json.RawMessage
	if session.DefaultTaskOptions != nil {
		data, err := json.Marshal(session.DefaultTaskOptions)
		if err != nil {
			return nil, fmt.Errorf("encode session task options: %w", err)
		}
		base = data
	}

	merged, err := mergeOptions(base, requested)
	if err != nil {
		return nil, fmt.Errorf("%w: request options: %v", ErrInvalid, err)
	}
	return merged, nil
}

// mergeOptions applies patch over base as a JSON merge patch; either may be empty
func mergeOptions(base, patch json.RawMessage) (json.RawMessage, error) {
	switch {
	case len(patch) == 0:
		return base, nil
	case len(base) == 0:
		return patch, nil
	}
	return jsonpatch.MergePatch(base, patch)
}
