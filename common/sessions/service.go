// Package sessions manages session lifecycles and the per-session SDK services.
package sessions

import (
	"context"
	"errors"
	"net/http"

	"github.com/lyzr/taskplane/common/clients"
	taskerrors "github.com/lyzr/taskplane/common/errors"
	"github.com/lyzr/taskplane/common/models"
)

// Service exposes the session lifecycle with classified errors
type Service struct {
	client clients.SessionsClient
	logger clients.Logger
}

// NewService creates a session service
func NewService(client clients.SessionsClient, logger clients.Logger) *Service {
	return &Service{client: client, logger: logger}
}

// Create opens a new session
func (s *Service) Create(ctx context.Context, req clients.CreateSessionRequest) (models.SessionInfo, error) {
	info, err := s.client.CreateSession(ctx, req)
	if err != nil {
		return models.SessionInfo{}, s.remote(err, "Create", "")
	}
	s.logger.Info("session created", "session_id", info.SessionID, "partitions", len(info.PartitionIDs))
	return info, nil
}

// Get returns the current state of a session. An unknown session is an
// UnresolvedReference.
func (s *Service) Get(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return s.do(ctx, sessionID, "Get", s.client.GetSession)
}

// Cancel cancels the session and its pending tasks
func (s *Service) Cancel(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return s.do(ctx, sessionID, "Cancel", s.client.CancelSession)
}

// Close stops accepting tasks once the running ones finish
func (s *Service) Close(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return s.do(ctx, sessionID, "Close", s.client.CloseSession)
}

func (s *Service) Pause(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return s.do(ctx, sessionID, "Pause", s.client.PauseSession)
}

func (s *Service) Resume(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return s.do(ctx, sessionID, "Resume", s.client.ResumeSession)
}

// StopSubmission forbids further client submissions in the session
func (s *Service) StopSubmission(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return s.do(ctx, sessionID, "StopSubmission", s.client.StopSubmission)
}

// Purge removes the data of every result of the session
func (s *Service) Purge(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return s.do(ctx, sessionID, "Purge", s.client.PurgeSession)
}

func (s *Service) Delete(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return s.do(ctx, sessionID, "Delete", s.client.DeleteSession)
}

func (s *Service) do(ctx context.Context, sessionID, op string, call func(context.Context, string) (models.SessionInfo, error)) (models.SessionInfo, error) {
	if sessionID == "" {
		return models.SessionInfo{}, taskerrors.UnresolvedReference("sessions", op, "no session id")
	}

	info, err := call(clients.WithSessionID(ctx, sessionID), sessionID)
	if err != nil {
		return models.SessionInfo{}, s.remote(err, op, sessionID)
	}
	s.logger.Debug("session updated", "session_id", sessionID, "operation", op, "status", info.Status)
	return info, nil
}

func (s *Service) remote(err error, op, sessionID string) error {
	var re *clients.RemoteError
	if errors.As(err, &re) && re.Status == http.StatusNotFound {
		return &taskerrors.ClassifiedError{
			Kind:      taskerrors.KindUnresolvedReference,
			Err:       err,
			Component: "sessions",
			Operation: op,
		}
	}

	classified := taskerrors.Remote(err, "sessions", op)
	if taskerrors.KindOf(classified) != taskerrors.KindCancellationRequested {
		s.logger.Error("session call failed", "session_id", sessionID, "operation", op, "error", err)
	}
	return classified
}
