// Package repository persists results, sessions and tasks of the control plane.
package repository

import (
	"context"
	"errors"
	"time"

	cpmodels "github.com/lyzr/taskplane/cmd/controlplane/models"
	"github.com/lyzr/taskplane/common/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// ResultRepository stores result metadata
type ResultRepository interface {
	CreateResults(ctx context.Context, results []models.BlobState) error
	GetResult(ctx context.Context, resultID string) (models.BlobState, error)
	// GetResults returns the results found among ids; missing ids are omitted
	GetResults(ctx context.Context, ids []string) (map[string]models.BlobState, error)
	// ListResults returns every result of a session, or of all sessions when sessionID is empty
	ListResults(ctx context.Context, sessionID string) ([]models.BlobState, error)
	MarkCompleted(ctx context.Context, resultID string, size int64, at time.Time) (models.BlobState, error)
	// SetOwner records the task expected to produce the results
	SetOwner(ctx context.Context, ids []string, taskID string) error
	// SetSessionStatus moves the results of a session whose status is in from to to
	SetSessionStatus(ctx context.Context, sessionID string, from []models.BlobStatus, to models.BlobStatus) ([]models.BlobState, error)
}

// SessionRepository stores sessions
type SessionRepository interface {
	CreateSession(ctx context.Context, session models.SessionInfo) error
	GetSession(ctx context.Context, sessionID string) (models.SessionInfo, error)
	UpdateSession(ctx context.Context, session models.SessionInfo) error
}

// TaskRepository stores submitted tasks
type TaskRepository interface {
	CreateTasks(ctx context.Context, tasks []cpmodels.TaskRecord) error
	ListTasks(ctx context.Context, sessionID string) ([]cpmodels.TaskRecord, error)
	// SetSessionTaskStatus moves the tasks of a session whose status is in from to to
	SetSessionTaskStatus(ctx context.Context, sessionID string, from []models.TaskStatus, to models.TaskStatus) (int, error)
}

// Store bundles the three repositories of one backend
type Store interface {
	ResultRepository
	SessionRepository
	TaskRepository
}
