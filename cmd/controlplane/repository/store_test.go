package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cpmodels "github.com/lyzr/taskplane/cmd/controlplane/models"
	"github.com/lyzr/taskplane/common/models"
)

// testStore runs the behaviour every Store implementation shares
func testStore(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	session := models.SessionInfo{
		SessionID:          "s-1",
		Status:             models.SessionStatusRunning,
		PartitionIDs:       []string{"p1"},
		DefaultTaskOptions: &models.TaskOptions{Priority: 2},
		ClientSubmission:   true,
		CreatedAt:          now,
	}
	require.NoError(t, store.CreateSession(ctx, session))
	require.NoError(t, store.CreateSession(ctx, models.SessionInfo{
		SessionID: "s-2", Status: models.SessionStatusRunning, CreatedAt: now,
	}))

	t.Run("sessions", func(t *testing.T) {
		got, err := store.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusRunning, got.Status)
		assert.Equal(t, []string{"p1"}, got.PartitionIDs)
		require.NotNil(t, got.DefaultTaskOptions)
		assert.Equal(t, 2, got.DefaultTaskOptions.Priority)
		assert.True(t, got.ClientSubmission)

		got.Status = models.SessionStatusPaused
		got.ClientSubmission = false
		require.NoError(t, store.UpdateSession(ctx, got))

		got, err = store.GetSession(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, models.SessionStatusPaused, got.Status)
		assert.False(t, got.ClientSubmission)

		_, err = store.GetSession(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, store.UpdateSession(ctx, models.SessionInfo{SessionID: "missing"}), ErrNotFound)
	})

	t.Run("results", func(t *testing.T) {
		results := []models.BlobState{
			{BlobInfo: models.BlobInfo{ID: "r-1", SessionID: "s-1", Name: "a"}, Status: models.BlobStatusCreated, CreatedAt: now},
			{BlobInfo: models.BlobInfo{ID: "r-2", SessionID: "s-1", Name: "b"}, Status: models.BlobStatusCreated, CreatedAt: now.Add(time.Second)},
			{BlobInfo: models.BlobInfo{ID: "r-3", SessionID: "s-2", Name: "c"}, Status: models.BlobStatusCreated, CreatedAt: now},
		}
		require.NoError(t, store.CreateResults(ctx, results))

		got, err := store.GetResult(ctx, "r-1")
		require.NoError(t, err)
		assert.Equal(t, "a", got.Name)
		assert.Equal(t, models.BlobStatusCreated, got.Status)
		assert.True(t, got.CompletedAt.IsZero())

		_, err = store.GetResult(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)

		found, err := store.GetResults(ctx, []string{"r-1", "r-3", "missing"})
		require.NoError(t, err)
		assert.Len(t, found, 2)
		assert.Contains(t, found, "r-3")

		listed, err := store.ListResults(ctx, "s-1")
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, "r-1", listed[0].ID)
		assert.Equal(t, "r-2", listed[1].ID)

		all, err := store.ListResults(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		completed, err := store.MarkCompleted(ctx, "r-1", 42, now.Add(2*time.Second))
		require.NoError(t, err)
		assert.Equal(t, models.BlobStatusCompleted, completed.Status)
		assert.EqualValues(t, 42, completed.Size)
		assert.WithinDuration(t, now.Add(2*time.Second), completed.CompletedAt, time.Millisecond)

		_, err = store.MarkCompleted(ctx, "missing", 1, now)
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, store.SetOwner(ctx, []string{"r-2"}, "t-1"))
		got, err = store.GetResult(ctx, "r-2")
		require.NoError(t, err)
		assert.Equal(t, "t-1", got.OwnerTaskID)
		assert.ErrorIs(t, store.SetOwner(ctx, []string{"missing"}, "t-1"), ErrNotFound)

		changed, err := store.SetSessionStatus(ctx, "s-1",
			[]models.BlobStatus{models.BlobStatusCreated}, models.BlobStatusAborted)
		require.NoError(t, err)
		require.Len(t, changed, 1)
		assert.Equal(t, "r-2", changed[0].ID)
		assert.Equal(t, models.BlobStatusAborted, changed[0].Status)

		untouched, err := store.GetResult(ctx, "r-3")
		require.NoError(t, err)
		assert.Equal(t, models.BlobStatusCreated, untouched.Status)
	})

	t.Run("tasks", func(t *testing.T) {
		tasks := []cpmodels.TaskRecord{
			{
				TaskID: "t-1", SessionID: "s-1", PayloadID: "r-1",
				ExpectedOutputIDs: []string{"r-2"},
				Options:           []byte(`{"priority":2}`),
				Status:            models.TaskStatusSubmitted,
				CreatedAt:         now,
			},
			{
				TaskID: "t-2", SessionID: "s-1", PayloadID: "r-1",
				ExpectedOutputIDs: []string{"r-2"},
				DataDependencyIDs: []string{"r-1"},
				Status:            models.TaskStatusCompleted,
				CreatedAt:         now.Add(time.Second),
			},
		}
		require.NoError(t, store.CreateTasks(ctx, tasks))

		listed, err := store.ListTasks(ctx, "s-1")
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, "t-1", listed[0].TaskID)
		assert.JSONEq(t, `{"priority":2}`, string(listed[0].Options))
		assert.Equal(t, []string{"r-1"}, listed[1].DataDependencyIDs)

		n, err := store.SetSessionTaskStatus(ctx, "s-1",
			[]models.TaskStatus{models.TaskStatusSubmitted}, models.TaskStatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		listed, err = store.ListTasks(ctx, "s-1")
		require.NoError(t, err)
		assert.Equal(t, models.TaskStatusCancelled, listed[0].Status)
		assert.Equal(t, models.TaskStatusCompleted, listed[1].Status)

		none, err := store.ListTasks(ctx, "s-2")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}
