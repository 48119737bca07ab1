package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/taskplane/cmd/controlplane/content"
	"github.com/lyzr/taskplane/cmd/controlplane/events"
	"github.com/lyzr/taskplane/cmd/controlplane/repository"
	"github.com/lyzr/taskplane/common/clients"
	"github.com/lyzr/taskplane/common/logger"
	"github.com/lyzr/taskplane/common/models"
)

// Session actions as they appear in routes
const (
	ActionCancel         = "cancel"
	ActionClose          = "close"
	ActionPause          = "pause"
	ActionResume         = "resume"
	ActionStopSubmission = "stop-submission"
	ActionPurge          = "purge"
	ActionDelete         = "delete"
)

// transition is one edge of the session state machine
type transition struct {
	from []models.SessionStatus
	// to is empty for actions that keep the status
	to models.SessionStatus
}

var transitions = map[string]transition{
	ActionPause: {
		from: []models.SessionStatus{models.SessionStatusRunning},
		to:   models.SessionStatusPaused,
	},
	ActionResume: {
		from: []models.SessionStatus{models.SessionStatusPaused},
		to:   models.SessionStatusRunning,
	},
	ActionCancel: {
		from: []models.SessionStatus{models.SessionStatusRunning, models.SessionStatusPaused},
		to:   models.SessionStatusCancelled,
	},
	ActionClose: {
		from: []models.SessionStatus{models.SessionStatusRunning, models.SessionStatusPaused, models.SessionStatusCancelled},
		to:   models.SessionStatusClosed,
	},
	ActionStopSubmission: {
		from: []models.SessionStatus{models.SessionStatusRunning, models.SessionStatusPaused},
	},
	ActionPurge: {
		from: []models.SessionStatus{models.SessionStatusCancelled, models.SessionStatusClosed},
		to:   models.SessionStatusPurged,
	},
	ActionDelete: {
		from: []models.SessionStatus{
			models.SessionStatusRunning, models.SessionStatusPaused, models.SessionStatusCancelled,
			models.SessionStatusClosed, models.SessionStatusPurged,
		},
		to: models.SessionStatusDeleted,
	},
}

// pendingTasks can still be cancelled
var pendingTasks = []models.TaskStatus{
	models.TaskStatusCreating, models.TaskStatusSubmitted, models.TaskStatusDispatched, models.TaskStatusProcessing,
}

// SessionService runs the session lifecycle
type SessionService struct {
	sessions  repository.SessionRepository
	results   repository.ResultRepository
	tasks     repository.TaskRepository
	content   content.Store
	publisher events.Publisher
	log       *logger.Logger
}

// NewSessionService creates a session service
func NewSessionService(store repository.Store, data content.Store, publisher events.Publisher, log *logger.Logger) *SessionService {
	return &SessionService{
		sessions:  store,
		results:   store,
		tasks:     store,
		content:   data,
		publisher: publisher,
		log:       log,
	}
}

// Create opens a running session
func (s *SessionService) Create(ctx context.Context, req clients.CreateSessionRequest) (models.SessionInfo, error) {
	info := models.SessionInfo{
		SessionID:          uuid.NewString(),
		Status:             models.SessionStatusRunning,
		PartitionIDs:       req.PartitionIDs,
		DefaultTaskOptions: req.TaskOptions,
		ClientSubmission:   true,
		CreatedAt:          time.Now().UTC(),
	}
	if err := s.sessions.CreateSession(ctx, info); err != nil {
		return models.SessionInfo{}, err
	}

	s.log.Info("session created", "session_id", info.SessionID, "partitions", info.PartitionIDs)
	return info, nil
}

// Get returns a session
func (s *SessionService) Get(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	info, err := s.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.SessionInfo{}, fmt.Errorf("%w: session %s not found", ErrNotFound, sessionID)
	}
	return info, err
}

// RequireOpen returns the session if it accepts new results and tasks
func (s *SessionService) RequireOpen(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	info, err := s.Get(ctx, sessionID)
	if err != nil {
		return info, err
	}
	if info.Status != models.SessionStatusRunning && info.Status != models.SessionStatusPaused {
		return info, fmt.Errorf("%w: session %s is %s", ErrConflict, sessionID, info.Status)
	}
	return info, nil
}

// Apply runs a lifecycle action on a session
func (s *SessionService) Apply(ctx context.Context, sessionID, action string) (models.SessionInfo, error) {
	t, ok := transitions[action]
	if !ok {
		return models.SessionInfo{}, fmt.Errorf("%w: unknown session action %q", ErrInvalid, action)
	}

	info, err := s.Get(ctx, sessionID)
	if err != nil {
		return info, err
	}
	if !slices.Contains(t.from, info.Status) {
		return info, fmt.Errorf("%w: cannot %s session %s in status %s", ErrConflict, action, sessionID, info.Status)
	}

	now := time.Now().UTC()
	switch action {
	case ActionCancel:
		info.CancelledAt = &now
		if err := s.cancelWork(ctx, sessionID); err != nil {
			return info, err
		}
	case ActionClose:
		info.ClosedAt = &now
	case ActionStopSubmission:
		info.ClientSubmission = false
	case ActionPurge:
		if err := s.purgeData(ctx, sessionID); err != nil {
			return info, err
		}
	}
	if t.to != "" {
		info.Status = t.to
	}

	if err := s.sessions.UpdateSession(ctx, info); err != nil {
		return info, err
	}

	s.log.WithContext(ctx).WithSession(sessionID).Info("session updated", "action", action, "status", info.Status)
	return info, nil
}

// cancelWork cancels pending tasks and aborts results nobody will produce
func (s *SessionService) cancelWork(ctx context.Context, sessionID string) error {
	n, err := s.tasks.SetSessionTaskStatus(ctx, sessionID, pendingTasks, models.TaskStatusCancelled)
	if err != nil {
		return err
	}

	aborted, err := s.results.SetSessionStatus(ctx, sessionID,
		[]models.BlobStatus{models.BlobStatusCreated}, models.BlobStatusAborted)
	if err != nil {
		return err
	}
	s.publishAll(ctx, aborted)

	s.log.WithSession(sessionID).Info("session work cancelled", "tasks", n, "results", len(aborted))
	return nil
}

// purgeData drops the data of every result of the session
func (s *SessionService) purgeData(ctx context.Context, sessionID string) error {
	deleted, err := s.results.SetSessionStatus(ctx, sessionID,
		[]models.BlobStatus{models.BlobStatusCompleted, models.BlobStatusCreated, models.BlobStatusAborted},
		models.BlobStatusDeleted)
	if err != nil {
		return err
	}

	ids := make([]string, len(deleted))
	for i, r := range deleted {
		ids[i] = r.ID
	}
	if err := s.content.Delete(ctx, ids...); err != nil {
		return err
	}
	s.publishAll(ctx, deleted)
	return nil
}

func (s *SessionService) publishAll(ctx context.Context, states []models.BlobState) {
	for _, state := range states {
		publish(ctx, s.publisher, s.log, state)
	}
}

// publish sends a status event; failures are logged, the status change stands
func publish(ctx context.Context, p events.Publisher, log *logger.Logger, state models.BlobState) {
	err := p.Publish(ctx, models.BlobEvent{
		Type:      models.EventResultStatusUpdate,
		SessionID: state.SessionID,
		BlobID:    state.ID,
		Name:      state.Name,
		Status:    state.Status,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		log.Warn("failed to publish result event", "result_id", state.ID, "error", err)
	}
}
