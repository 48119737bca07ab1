package service

import (
	"bytes"
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/taskplane/cmd/controlplane/content"
	"github.com/lyzr/taskplane/cmd/controlplane/repository"
	"github.com/lyzr/taskplane/common/clients"
	"github.com/lyzr/taskplane/common/logger"
	"github.com/lyzr/taskplane/common/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.BlobEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, event models.BlobEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) statuses(resultID string) []models.BlobStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.BlobStatus
	for _, e := range p.events {
		if e.BlobID == resultID {
			out = append(out, e.Status)
		}
	}
	return out
}

type fixture struct {
	store     *repository.MemoryStore
	content   *content.MemoryStore
	publisher *recordingPublisher
	sessions  *SessionService
	results   *ResultService
	tasks     *TaskService
}

const testChunkMax = 4

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Nop()
	store := repository.NewMemoryStore()
	data := content.NewMemoryStore()
	pub := &recordingPublisher{}
	filter, err := NewFilter()
	require.NoError(t, err)

	sessions := NewSessionService(store, data, pub, log)
	return &fixture{
		store:     store,
		content:   data,
		publisher: pub,
		sessions:  sessions,
		results:   NewResultService(store, sessions, data, pub, filter, testChunkMax, nil, log),
		tasks:     NewTaskService(store, sessions, nil, log),
	}
}

func (f *fixture) session(t *testing.T) string {
	t.Helper()
	info, err := f.sessions.Create(context.Background(), clients.CreateSessionRequest{})
	require.NoError(t, err)
	return info.SessionID
}

func frames(t *testing.T, fs ...clients.Frame) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	for i := range fs {
		require.NoError(t, fs[i].Encode(&buf))
	}
	return &buf
}

func TestSessionService_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		actions []string
		want    models.SessionStatus
		wantErr error
	}{
		{name: "pause", actions: []string{ActionPause}, want: models.SessionStatusPaused},
		{name: "pause then resume", actions: []string{ActionPause, ActionResume}, want: models.SessionStatusRunning},
		{name: "resume running", actions: []string{ActionResume}, wantErr: ErrConflict},
		{name: "cancel then close", actions: []string{ActionCancel, ActionClose}, want: models.SessionStatusClosed},
		{name: "purge running", actions: []string{ActionPurge}, wantErr: ErrConflict},
		{name: "close then purge", actions: []string{ActionClose, ActionPurge}, want: models.SessionStatusPurged},
		{name: "delete", actions: []string{ActionDelete}, want: models.SessionStatusDeleted},
		{name: "delete twice", actions: []string{ActionDelete, ActionDelete}, wantErr: ErrConflict},
		{name: "unknown", actions: []string{"explode"}, wantErr: ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sid := f.session(t)

			var info models.SessionInfo
			var err error
			for _, action := range tt.actions {
				info, err = f.sessions.Apply(context.Background(), sid, action)
				if err != nil {
					break
				}
			}

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, info.Status)

			stored, err := f.sessions.Get(context.Background(), sid)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stored.Status)
		})
	}
}

func TestSessionService_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.sessions.Apply(context.Background(), "missing", ActionPause)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionService_CancelAbortsPendingResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session(t)

	pending, err := f.results.CreateMetadata(ctx, sid, []string{"out"})
	require.NoError(t, err)
	done, err := f.results.CreateWithData(ctx, sid, []clients.ResultData{{Name: "in", Data: []byte("ab")}})
	require.NoError(t, err)

	info, err := f.sessions.Apply(ctx, sid, ActionCancel)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, info.Status)
	assert.NotNil(t, info.CancelledAt)

	aborted, err := f.results.Get(ctx, pending[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.BlobStatusAborted, aborted.Status)

	kept, err := f.results.Get(ctx, done[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.BlobStatusCompleted, kept.Status)

	assert.Equal(t, []models.BlobStatus{models.BlobStatusAborted}, f.publisher.statuses(pending[0].ID))

	// A cancelled session takes no new results
	_, err = f.results.CreateMetadata(ctx, sid, []string{"late"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSessionService_PurgeDropsData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session(t)

	created, err := f.results.CreateWithData(ctx, sid, []clients.ResultData{{Name: "in", Data: []byte("abc")}})
	require.NoError(t, err)
	id := created[0].ID

	_, err = f.sessions.Apply(ctx, sid, ActionClose)
	require.NoError(t, err)
	_, err = f.sessions.Apply(ctx, sid, ActionPurge)
	require.NoError(t, err)

	state, err := f.results.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.BlobStatusDeleted, state.Status)

	_, err = f.content.Get(ctx, id)
	assert.ErrorIs(t, err, content.ErrNotFound)

	_, err = f.results.OpenDownload(ctx, sid, id)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestResultService_CreateWithDataAndDownload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session(t)

	states, err := f.results.CreateWithData(ctx, sid, []clients.ResultData{
		{Name: "a", Data: []byte("abcd")},
		{Name: "empty", Data: nil},
	})
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "a", states[0].Name)
	assert.Equal(t, models.BlobStatusCompleted, states[0].Status)
	assert.EqualValues(t, 4, states[0].Size)
	assert.Equal(t, []models.BlobStatus{models.BlobStatusCompleted}, f.publisher.statuses(states[0].ID))

	pieces, err := f.results.OpenDownload(ctx, sid, states[0].ID)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("abcd")}, pieces)

	pieces, err = f.results.OpenDownload(ctx, sid, states[1].ID)
	require.NoError(t, err)
	assert.Empty(t, pieces)

	_, err = f.results.OpenDownload(ctx, "other-session", states[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResultService_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session(t)

	_, err := f.results.CreateWithData(ctx, sid, []clients.ResultData{{Name: "big", Data: []byte("abcde")}})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.results.CreateMetadata(ctx, sid, []string{"ok", ""})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.results.CreateMetadata(ctx, "missing", []string{"x"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, models.ServiceConfiguration{DataChunkMaxSize: testChunkMax}, f.results.ServiceConfiguration())
}

func TestResultService_Upload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session(t)

	states, err := f.results.CreateMetadata(ctx, sid, []string{"x", "y"})
	require.NoError(t, err)
	x, y := states[0].ID, states[1].ID

	stream := frames(t,
		clients.Frame{Op: clients.OpData, SessionID: sid, ResultID: x, Data: []byte("hell")},
		clients.Frame{Op: clients.OpData, SessionID: sid, ResultID: y, Data: []byte("yy")},
		clients.Frame{Op: clients.OpData, SessionID: sid, ResultID: x, Data: []byte("o wo")},
		clients.Frame{Op: clients.OpData, SessionID: sid, ResultID: x, Data: []byte("rld")},
	)

	completed, err := f.results.Upload(ctx, stream)
	require.NoError(t, err)
	require.Len(t, completed, 2)
	assert.Equal(t, x, completed[0].ID)
	assert.EqualValues(t, 11, completed[0].Size)
	assert.Equal(t, models.BlobStatusCompleted, completed[0].Status)
	assert.False(t, completed[0].CompletedAt.IsZero())
	assert.Equal(t, y, completed[1].ID)

	pieces, err := f.results.OpenDownload(ctx, sid, x)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("hell"), []byte("o wo"), []byte("rld")}, pieces)

	// Completed results take no more data
	_, err = f.results.Upload(ctx, frames(t,
		clients.Frame{Op: clients.OpData, SessionID: sid, ResultID: x, Data: []byte("again")},
	))
	assert.ErrorIs(t, err, ErrConflict)
}

func TestResultService_UploadAbortedKeepsResultsPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session(t)

	states, err := f.results.CreateMetadata(ctx, sid, []string{"x"})
	require.NoError(t, err)
	x := states[0].ID

	_, err = f.results.Upload(ctx, frames(t,
		clients.Frame{Op: clients.OpData, SessionID: sid, ResultID: x, Data: []byte("part")},
		clients.Frame{Op: clients.OpError, Data: []byte("producer crashed")},
	))
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "producer crashed")

	state, err := f.results.Get(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, models.BlobStatusCreated, state.Status)

	_, err = f.content.Get(ctx, x)
	assert.ErrorIs(t, err, content.ErrNotFound)
}

func TestResultService_UploadWrongSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session(t)
	other := f.session(t)

	states, err := f.results.CreateMetadata(ctx, sid, []string{"x"})
	require.NoError(t, err)

	_, err = f.results.Upload(ctx, frames(t,
		clients.Frame{Op: clients.OpData, SessionID: other, ResultID: states[0].ID, Data: []byte("a")},
	))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.results.Upload(ctx, bytes.NewReader([]byte{0x01, 0x00}))
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestResultService_List(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session(t)
	other := f.session(t)

	_, err := f.results.CreateWithData(ctx, sid, []clients.ResultData{
		{Name: "c", Data: []byte("cccc")},
		{Name: "a", Data: []byte("a")},
		{Name: "b", Data: []byte("bb")},
	})
	require.NoError(t, err)
	_, err = f.results.CreateMetadata(ctx, sid, []string{"pending"})
	require.NoError(t, err)
	_, err = f.results.CreateMetadata(ctx, other, []string{"elsewhere"})
	require.NoError(t, err)

	names := func(page models.BlobPage) []string {
		var out []string
		for _, b := range page.Blobs {
			out = append(out, b.Name)
		}
		return out
	}

	t.Run("sorted by name", func(t *testing.T) {
		page, err := f.results.List(ctx, models.ListBlobsRequest{SessionID: sid, SortField: "name"})
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
		assert.Equal(t, 100, page.PageSize)
		assert.Equal(t, []string{"a", "b", "c", "pending"}, names(page))
	})

	t.Run("filter and descending size", func(t *testing.T) {
		page, err := f.results.List(ctx, models.ListBlobsRequest{
			SessionID:     sid,
			Filter:        `result.status == "completed" && $.size > 1`,
			SortField:     "size",
			SortDirection: models.SortDescending,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b"}, names(page))
	})

	t.Run("paged", func(t *testing.T) {
		page, err := f.results.List(ctx, models.ListBlobsRequest{SessionID: sid, SortField: "name", Page: 1, PageSize: 3})
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
		assert.Equal(t, []string{"pending"}, names(page))

		page, err = f.results.List(ctx, models.ListBlobsRequest{SessionID: sid, Page: 5, PageSize: 3})
		require.NoError(t, err)
		assert.Empty(t, page.Blobs)
	})

	t.Run("page far out of range", func(t *testing.T) {
		for _, p := range []int{1 << 62, math.MaxInt} {
			page, err := f.results.List(ctx, models.ListBlobsRequest{SessionID: sid, Page: p, PageSize: 3})
			require.NoError(t, err)
			assert.Empty(t, page.Blobs)
			assert.Equal(t, 4, page.Total)
			assert.Equal(t, p, page.Page)
		}
	})

	t.Run("all sessions", func(t *testing.T) {
		page, err := f.results.List(ctx, models.ListBlobsRequest{})
		require.NoError(t, err)
		assert.Equal(t, 5, page.Total)
	})

	t.Run("invalid", func(t *testing.T) {
		for _, req := range []models.ListBlobsRequest{
			{Filter: "result.size >"},
			{Filter: "result.size"},
			{SortField: "color"},
			{SortDirection: "sideways"},
			{Page: -1},
		} {
			_, err := f.results.List(ctx, req)
			assert.ErrorIs(t, err, ErrInvalid, "%+v", req)
		}
	})
}

func TestFilter_CachesPrograms(t *testing.T) {
	filter, err := NewFilter()
	require.NoError(t, err)

	state := models.BlobState{BlobInfo: models.BlobInfo{Name: "x"}, Status: models.BlobStatusCreated}
	for range 3 {
		ok, err := filter.Match(`$.name == "x"`, state)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, 1, filter.CacheSize())

	ok, err := filter.Match(`result.status == "completed"`, state)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, filter.CacheSize())
}

func TestTaskService_Submit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.sessions.Create(ctx, clients.CreateSessionRequest{
		TaskOptions: &models.TaskOptions{Priority: 1, MaxRetries: 1},
	})
	require.NoError(t, err)
	sid := session.SessionID

	inputs, err := f.results.CreateWithData(ctx, sid, []clients.ResultData{
		{Name: "payload", Data: []byte("p")},
		{Name: "dep", Data: []byte("d")},
	})
	require.NoError(t, err)
	outputs, err := f.results.CreateMetadata(ctx, sid, []string{"out1", "out2"})
	require.NoError(t, err)

	infos, err := f.tasks.Submit(ctx, sid, clients.SubmitTasksRequest{
		TaskOptions: []byte(`{"max_retries":2}`),
		Tasks: []clients.TaskCreation{
			{
				PayloadID:         inputs[0].ID,
				ExpectedOutputIDs: []string{outputs[0].ID},
				DataDependencyIDs: []string{inputs[1].ID},
				TaskOptions:       []byte(`{"priority":5}`),
			},
			{
				PayloadID:         inputs[0].ID,
				ExpectedOutputIDs: []string{outputs[1].ID},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, []string{outputs[0].ID}, infos[0].ExpectedOutputs)
	assert.Equal(t, []string{inputs[1].ID}, infos[0].DataDependencies)
	assert.Equal(t, sid, infos[1].SessionID)

	owner, err := f.results.Get(ctx, outputs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, infos[0].TaskID, owner.OwnerTaskID)

	records, err := f.tasks.List(ctx, sid)
	require.NoError(t, err)
	require.Len(t, records, 2)
	byID := map[string]string{}
	for _, r := range records {
		assert.Equal(t, models.TaskStatusSubmitted, r.Status)
		byID[r.TaskID] = string(r.Options)
	}
	assert.JSONEq(t, `{"priority":5,"max_retries":2}`, byID[infos[0].TaskID])
	assert.JSONEq(t, `{"priority":1,"max_retries":2}`, byID[infos[1].TaskID])
}

func TestTaskService_SubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sid := f.session(t)

	inputs, err := f.results.CreateWithData(ctx, sid, []clients.ResultData{{Name: "payload", Data: []byte("p")}})
	require.NoError(t, err)
	outputs, err := f.results.CreateMetadata(ctx, sid, []string{"out"})
	require.NoError(t, err)
	payload, out := inputs[0].ID, outputs[0].ID

	tests := []struct {
		name    string
		task    clients.TaskCreation
		wantErr error
	}{
		{name: "no payload", task: clients.TaskCreation{ExpectedOutputIDs: []string{out}}, wantErr: ErrInvalid},
		{name: "no outputs", task: clients.TaskCreation{PayloadID: payload}, wantErr: ErrInvalid},
		{name: "unknown dependency", task: clients.TaskCreation{PayloadID: payload, ExpectedOutputIDs: []string{out}, DataDependencyIDs: []string{"nope"}}, wantErr: ErrNotFound},
		{name: "completed output", task: clients.TaskCreation{PayloadID: payload, ExpectedOutputIDs: []string{payload}}, wantErr: ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.tasks.Submit(ctx, sid, clients.SubmitTasksRequest{Tasks: []clients.TaskCreation{tt.task}})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	infos, err := f.tasks.Submit(ctx, sid, clients.SubmitTasksRequest{})
	require.NoError(t, err)
	assert.Empty(t, infos)

	_, err = f.sessions.Apply(ctx, sid, ActionStopSubmission)
	require.NoError(t, err)
	_, err = f.tasks.Submit(ctx, sid, clients.SubmitTasksRequest{
		Tasks: []clients.TaskCreation{{PayloadID: payload, ExpectedOutputIDs: []string{out}}},
	})
	assert.ErrorIs(t, err, ErrConflict)
}
