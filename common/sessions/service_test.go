package sessions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/taskplane/common/clients"
	"github.com/lyzr/taskplane/common/clients/clientstest"
	taskerrors "github.com/lyzr/taskplane/common/errors"
	"github.com/lyzr/taskplane/common/logger"
	"github.com/lyzr/taskplane/common/models"
)

func TestService_Lifecycle(t *testing.T) {
	fake := clientstest.New(64)
	svc := NewService(fake, logger.Nop())
	ctx := context.Background()

	info, err := svc.Create(ctx, clients.CreateSessionRequest{PartitionIDs: []string{"p1"}})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusRunning, info.Status)
	assert.True(t, info.ClientSubmission)

	steps := []struct {
		name string
		call func(context.Context, string) (models.SessionInfo, error)
		want models.SessionStatus
	}{
		{"pause", svc.Pause, models.SessionStatusPaused},
		{"resume", svc.Resume, models.SessionStatusRunning},
		{"cancel", svc.Cancel, models.SessionStatusCancelled},
		{"close", svc.Close, models.SessionStatusClosed},
		{"purge", svc.Purge, models.SessionStatusPurged},
		{"delete", svc.Delete, models.SessionStatusDeleted},
	}
	for _, step := range steps {
		got, err := step.call(ctx, info.SessionID)
		require.NoError(t, err, step.name)
		assert.Equal(t, step.want, got.Status, step.name)
	}
}

func TestService_StopSubmission(t *testing.T) {
	fake := clientstest.New(64)
	svc := NewService(fake, logger.Nop())

	info, err := svc.Create(context.Background(), clients.CreateSessionRequest{})
	require.NoError(t, err)

	got, err := svc.StopSubmission(context.Background(), info.SessionID)
	require.NoError(t, err)
	assert.False(t, got.ClientSubmission)
	assert.Equal(t, models.SessionStatusRunning, got.Status)
}

func TestService_EmptySessionID(t *testing.T) {
	svc := NewService(clientstest.New(64), logger.Nop())

	_, err := svc.Get(context.Background(), "")
	assert.ErrorIs(t, err, taskerrors.ErrUnresolvedReference)
	_, err = svc.Cancel(context.Background(), "")
	assert.ErrorIs(t, err, taskerrors.ErrUnresolvedReference)
}

func TestService_UnknownSession(t *testing.T) {
	svc := NewService(clientstest.New(64), logger.Nop())

	_, err := svc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, taskerrors.ErrUnresolvedReference)
	assert.Contains(t, err.Error(), "session missing not found")
}

func TestService_RemoteFailure(t *testing.T) {
	fake := clientstest.New(64)
	fake.Errors["CreateSession"] = errors.New("connection refused")
	svc := NewService(fake, logger.Nop())

	_, err := svc.Create(context.Background(), clients.CreateSessionRequest{})
	assert.ErrorIs(t, err, taskerrors.ErrRemoteCallFailure)
	assert.Contains(t, err.Error(), "connection refused")

	fake.Errors["pause"] = context.Canceled
	_, err = svc.Pause(context.Background(), "s-1")
	assert.ErrorIs(t, err, taskerrors.ErrCancellationRequested)
}
