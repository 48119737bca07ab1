// Package clientstest provides an in-memory control plane for tests of code
// built on the clients interfaces.
package clientstest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/lyzr/taskplane/common/clients"
	"github.com/lyzr/taskplane/common/models"
)

// Fake implements clients.Transport in memory and records every call.
// Set Errors[method] to make that method fail.
type Fake struct {
	mu sync.Mutex

	ChunkMax int
	Errors   map[string]error
	// DropNames are left out of create responses to simulate an incomplete answer
	DropNames map[string]bool
	// CreateDelay slows CreateResults so concurrency can be observed
	CreateDelay time.Duration
	// SendHook runs before every upload chunk is recorded
	SendHook func(chunk clients.UploadChunk)
	// SubmitHook replaces the default SubmitTasks answer
	SubmitHook func(req clients.SubmitTasksRequest) (clients.SubmitTasksResponse, error)

	ConfigCalls    int
	MetadataCalls  [][]string
	CreateCalls    [][]clients.ResultData
	Uploads        [][]clients.UploadChunk
	AbortedUploads int
	SubmitCalls    []clients.SubmitTasksRequest
	SessionCalls   []string
	MaxInFlight    int

	inFlight int
	nextID   int
	states   map[string]models.BlobState
	data     map[string][]byte
	sessions map[string]models.SessionInfo
}

var _ clients.Transport = (*Fake)(nil)

// New creates a fake advertising chunkMax as data chunk limit
func New(chunkMax int) *Fake {
	return &Fake{
		ChunkMax:  chunkMax,
		Errors:    map[string]error{},
		DropNames: map[string]bool{},
		states:    map[string]models.BlobState{},
		data:      map[string][]byte{},
		sessions:  map[string]models.SessionInfo{},
	}
}

func (f *Fake) fail(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Errors[method]
}

func (f *Fake) newState(sessionID, name string, status models.BlobStatus) models.BlobState {
	f.nextID++
	state := models.BlobState{
		BlobInfo: models.BlobInfo{
			Name:      name,
			ID:        fmt.Sprintf("r-%d", f.nextID),
			SessionID: sessionID,
		},
		Status:    status,
		CreatedAt: time.Now(),
	}
	f.states[state.ID] = state
	return state
}

// Data returns what was stored for a result id
func (f *Fake) Data(resultID string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[resultID]
}

// Put stores a completed result directly
func (f *Fake) Put(sessionID, name string, data []byte) models.BlobInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.newState(sessionID, name, models.BlobStatusCompleted)
	state.Size = int64(len(data))
	f.states[state.ID] = state
	f.data[state.ID] = data
	return state.BlobInfo
}

// SetStatus changes the status of a stored result
func (f *Fake) SetStatus(resultID string, status models.BlobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.states[resultID]
	state.Status = status
	f.states[resultID] = state
}

// UploadCallCount returns how many upload streams were closed
func (f *Fake) UploadCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Uploads)
}

// CreateCallCount returns the number of CreateResults and CreateResultsMetaData calls
func (f *Fake) CreateCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.CreateCalls) + len(f.MetadataCalls)
}

func (f *Fake) GetServiceConfiguration(ctx context.Context) (models.ServiceConfiguration, error) {
	if err := f.fail("GetServiceConfiguration"); err != nil {
		return models.ServiceConfiguration{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConfigCalls++
	return models.ServiceConfiguration{DataChunkMaxSize: f.ChunkMax}, nil
}

func (f *Fake) CreateResultsMetaData(ctx context.Context, sessionID string, names []string) ([]models.BlobState, error) {
	if err := f.fail("CreateResultsMetaData"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.MetadataCalls = append(f.MetadataCalls, append([]string(nil), names...))
	out := make([]models.BlobState, 0, len(names))
	for _, name := range names {
		if f.DropNames[name] {
			continue
		}
		out = append(out, f.newState(sessionID, name, models.BlobStatusCreated))
	}
	return out, nil
}

func (f *Fake) CreateResults(ctx context.Context, sessionID string, results []clients.ResultData) ([]models.BlobState, error) {
	f.mu.Lock()
	f.inFlight++
	f.MaxInFlight = max(f.MaxInFlight, f.inFlight)
	delay := f.CreateDelay
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err := f.fail("CreateResults"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateCalls = append(f.CreateCalls, append([]clients.ResultData(nil), results...))
	out := make([]models.BlobState, 0, len(results))
	for _, r := range results {
		if f.DropNames[r.Name] {
			continue
		}
		state := f.newState(sessionID, r.Name, models.BlobStatusCompleted)
		state.Size = int64(len(r.Data))
		f.states[state.ID] = state
		f.data[state.ID] = append([]byte(nil), r.Data...)
		out = append(out, state)
	}
	return out, nil
}

func (f *Fake) UploadResultData(ctx context.Context) (clients.UploadStream, error) {
	if err := f.fail("UploadResultData"); err != nil {
		return nil, err
	}
	return &fakeUpload{ctx: ctx, fake: f}, nil
}

type fakeUpload struct {
	ctx    context.Context
	fake   *Fake
	chunks []clients.UploadChunk
}

func (u *fakeUpload) Abort(cause error) {
	u.fake.mu.Lock()
	defer u.fake.mu.Unlock()
	u.fake.AbortedUploads++
}

func (u *fakeUpload) Send(chunk clients.UploadChunk) error {
	if err := u.ctx.Err(); err != nil {
		return err
	}
	if err := u.fake.fail("Send"); err != nil {
		return err
	}
	if u.fake.SendHook != nil {
		u.fake.SendHook(chunk)
	}
	chunk.Data = append([]byte(nil), chunk.Data...)
	u.chunks = append(u.chunks, chunk)
	return nil
}

func (u *fakeUpload) CloseAndRecv() (clients.UploadAck, error) {
	f := u.fake
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Uploads = append(f.Uploads, u.chunks)

	var ack clients.UploadAck
	seen := map[string]bool{}
	for _, c := range u.chunks {
		f.data[c.ResultID] = append(f.data[c.ResultID], c.Data...)
		seen[c.ResultID] = true
	}
	for id := range seen {
		state := f.states[id]
		state.Status = models.BlobStatusCompleted
		state.Size = int64(len(f.data[id]))
		f.states[id] = state
		ack.Results = append(ack.Results, state)
	}
	return ack, nil
}

func (f *Fake) DownloadResultData(ctx context.Context, sessionID, resultID string) (clients.DownloadStream, error) {
	if err := f.fail("DownloadResultData"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.data[resultID]
	if !ok {
		return nil, &clients.RemoteError{Status: 404, Message: fmt.Sprintf("result %s not found", resultID)}
	}

	var pieces [][]byte
	for len(data) > 0 {
		n := min(f.ChunkMax, len(data))
		pieces = append(pieces, data[:n])
		data = data[n:]
	}
	return &fakeDownload{ctx: ctx, pieces: pieces}, nil
}

type fakeDownload struct {
	ctx    context.Context
	pieces [][]byte
}

func (d *fakeDownload) Recv() ([]byte, error) {
	if err := d.ctx.Err(); err != nil {
		return nil, err
	}
	if len(d.pieces) == 0 {
		return nil, io.EOF
	}
	p := d.pieces[0]
	d.pieces = d.pieces[1:]
	return p, nil
}

func (d *fakeDownload) Close() error { return nil }

func (f *Fake) GetResult(ctx context.Context, resultID string) (models.BlobState, error) {
	if err := f.fail("GetResult"); err != nil {
		return models.BlobState{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	state, ok := f.states[resultID]
	if !ok {
		return models.BlobState{}, &clients.RemoteError{Status: 404, Message: fmt.Sprintf("result %s not found", resultID)}
	}
	return state, nil
}

func (f *Fake) ListResults(ctx context.Context, req models.ListBlobsRequest) (models.BlobPage, error) {
	if err := f.fail("ListResults"); err != nil {
		return models.BlobPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []models.BlobState
	for _, s := range f.states {
		if req.SessionID == "" || s.SessionID == req.SessionID {
			all = append(all, s)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	page := models.BlobPage{Total: len(all), Page: req.Page, PageSize: req.PageSize}
	if req.PageSize <= 0 {
		page.Blobs = all
		return page, nil
	}
	start := min(req.Page*req.PageSize, len(all))
	end := min(start+req.PageSize, len(all))
	page.Blobs = all[start:end]
	return page, nil
}

func (f *Fake) SubmitTasks(ctx context.Context, req clients.SubmitTasksRequest) (clients.SubmitTasksResponse, error) {
	if err := f.fail("SubmitTasks"); err != nil {
		return clients.SubmitTasksResponse{}, err
	}
	f.mu.Lock()
	f.SubmitCalls = append(f.SubmitCalls, req)
	hook := f.SubmitHook
	f.mu.Unlock()

	if hook != nil {
		return hook(req)
	}

	var resp clients.SubmitTasksResponse
	for i, t := range req.Tasks {
		resp.TaskInfos = append(resp.TaskInfos, models.TaskInfos{
			TaskID:           fmt.Sprintf("t-%d", i+1),
			SessionID:        req.SessionID,
			PayloadID:        t.PayloadID,
			ExpectedOutputs:  t.ExpectedOutputIDs,
			DataDependencies: t.DataDependencyIDs,
		})
	}
	return resp, nil
}

func (f *Fake) CreateSession(ctx context.Context, req clients.CreateSessionRequest) (models.SessionInfo, error) {
	if err := f.fail("CreateSession"); err != nil {
		return models.SessionInfo{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SessionCalls = append(f.SessionCalls, "create")
	info := models.SessionInfo{
		SessionID:          fmt.Sprintf("s-%d", len(f.sessions)+1),
		Status:             models.SessionStatusRunning,
		PartitionIDs:       req.PartitionIDs,
		DefaultTaskOptions: req.TaskOptions,
		ClientSubmission:   true,
		CreatedAt:          time.Now(),
	}
	f.sessions[info.SessionID] = info
	return info, nil
}

func (f *Fake) GetSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return f.transition(sessionID, "get", "")
}

func (f *Fake) CancelSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return f.transition(sessionID, "cancel", models.SessionStatusCancelled)
}

func (f *Fake) CloseSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return f.transition(sessionID, "close", models.SessionStatusClosed)
}

func (f *Fake) PauseSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return f.transition(sessionID, "pause", models.SessionStatusPaused)
}

func (f *Fake) ResumeSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return f.transition(sessionID, "resume", models.SessionStatusRunning)
}

func (f *Fake) StopSubmission(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return f.transition(sessionID, "stop-submission", "")
}

func (f *Fake) PurgeSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return f.transition(sessionID, "purge", models.SessionStatusPurged)
}

func (f *Fake) DeleteSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return f.transition(sessionID, "delete", models.SessionStatusDeleted)
}

func (f *Fake) transition(sessionID, action string, to models.SessionStatus) (models.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.SessionCalls = append(f.SessionCalls, action)
	if err := f.Errors[action]; err != nil {
		return models.SessionInfo{}, err
	}

	info, ok := f.sessions[sessionID]
	if !ok {
		return models.SessionInfo{}, &clients.RemoteError{Status: 404, Message: fmt.Sprintf("session %s not found", sessionID)}
	}
	if action == "stop-submission" {
		info.ClientSubmission = false
	}
	if to != "" {
		info.Status = to
	}
	f.sessions[sessionID] = info
	return info, nil
}
