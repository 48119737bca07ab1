package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/taskplane/cmd/controlplane/content"
	"github.com/lyzr/taskplane/cmd/controlplane/events"
	"github.com/lyzr/taskplane/cmd/controlplane/repository"
	"github.com/lyzr/taskplane/common/chunk"
	"github.com/lyzr/taskplane/common/clients"
	"github.com/lyzr/taskplane/common/logger"
	"github.com/lyzr/taskplane/common/metrics"
	"github.com/lyzr/taskplane/common/models"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// ResultService stores result metadata and data
type ResultService struct {
	results   repository.ResultRepository
	sessions  *SessionService
	content   content.Store
	publisher events.Publisher
	filter    *Filter
	chunkMax  int
	metrics   *metrics.Transfer
	log       *logger.Logger
}

// NewResultService creates a result service. chunkMax is the advertised
// DATA_CHUNK_MAX_SIZE; m may be nil.
func NewResultService(
	results repository.ResultRepository,
	sessions *SessionService,
	data content.Store,
	publisher events.Publisher,
	filter *Filter,
	chunkMax int,
	m *metrics.Transfer,
	log *logger.Logger,
) *ResultService {
	return &ResultService{
		results:   results,
		sessions:  sessions,
		content:   data,
		publisher: publisher,
		filter:    filter,
		chunkMax:  chunkMax,
		metrics:   m,
		log:       log,
	}
}

// ServiceConfiguration returns the limits clients must honour
func (s *ResultService) ServiceConfiguration() models.ServiceConfiguration {
	return models.ServiceConfiguration{DataChunkMaxSize: s.chunkMax}
}

// CreateMetadata creates results without data, in the order of names
func (s *ResultService) CreateMetadata(ctx context.Context, sessionID string, names []string) ([]models.BlobState, error) {
	if _, err := s.sessions.RequireOpen(ctx, sessionID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	states := make([]models.BlobState, len(names))
	for i, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w: result %d has an empty name", ErrInvalid, i)
		}
		states[i] = models.BlobState{
			BlobInfo:  models.BlobInfo{Name: name, ID: uuid.NewString(), SessionID: sessionID},
			Status:    models.BlobStatusCreated,
			CreatedAt: now,
		}
	}

	if err := s.results.CreateResults(ctx, states); err != nil {
		return nil, err
	}
	s.metrics.RecordBlobsCreated(metrics.ModeMetadata, len(states))
	s.log.Debug("results created", "session_id", sessionID, "count", len(states))
	return states, nil
}

// CreateWithData creates completed results from inline data, in order
func (s *ResultService) CreateWithData(ctx context.Context, sessionID string, results []clients.ResultData) ([]models.BlobState, error) {
	if _, err := s.sessions.RequireOpen(ctx, sessionID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	states := make([]models.BlobState, len(results))
	for i, r := range results {
		if r.Name == "" {
			return nil, fmt.Errorf("%w: result %d has an empty name", ErrInvalid, i)
		}
		if len(r.Data) > s.chunkMax {
			return nil, fmt.Errorf("%w: result %q has %d bytes, inline limit is %d", ErrInvalid, r.Name, len(r.Data), s.chunkMax)
		}
		states[i] = models.BlobState{
			BlobInfo:    models.BlobInfo{Name: r.Name, ID: uuid.NewString(), SessionID: sessionID},
			Status:      models.BlobStatusCompleted,
			CreatedAt:   now,
			CompletedAt: now,
			Size:        int64(len(r.Data)),
		}
	}

	for i, r := range results {
		if err := s.content.Put(ctx, states[i].ID, r.Data); err != nil {
			return nil, err
		}
		s.metrics.RecordUpload(len(r.Data))
	}
	if err := s.results.CreateResults(ctx, states); err != nil {
		return nil, err
	}

	for _, state := range states {
		publish(ctx, s.publisher, s.log, state)
	}
	s.metrics.RecordBlobsCreated(metrics.ModeSingle, len(states))
	return states, nil
}

// upload tracks one result touched by an upload stream
type upload struct {
	state models.BlobState
	size  int64
}

// Upload consumes a framed upload stream. Data of one result is appended in
// arrival order; every result the stream touched is completed when it ends
// cleanly. On failure the partial data is dropped and the results stay Created.
func (s *ResultService) Upload(ctx context.Context, r io.Reader) ([]models.BlobState, error) {
	touched := make(map[string]*upload)
	var order []string

	fail := func(err error) ([]models.BlobState, error) {
		if derr := s.content.Delete(context.WithoutCancel(ctx), order...); derr != nil {
			s.log.Warn("failed to drop partial upload", "results", order, "error", derr)
		}
		s.log.Debug("upload failed", "results", len(order), "error", err)
		return nil, err
	}

	for {
		frame, err := clients.ReadFrame(r)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("%w: bad upload frame: %v", ErrInvalid, err))
		}

		switch frame.Op {
		case clients.OpData:
		case clients.OpError:
			return fail(fmt.Errorf("%w: upload aborted by client: %s", ErrInvalid, frame.Data))
		default:
			return fail(fmt.Errorf("%w: unknown frame op %d", ErrInvalid, frame.Op))
		}

		u, seen := touched[frame.ResultID]
		if !seen {
			state, err := s.uploadable(ctx, frame.SessionID, frame.ResultID)
			if err != nil {
				return fail(err)
			}
			u = &upload{state: state}
			touched[frame.ResultID] = u
			order = append(order, frame.ResultID)
			err = s.content.Put(ctx, frame.ResultID, frame.Data)
			if err != nil {
				return fail(err)
			}
		} else if frame.SessionID != u.state.SessionID {
			return fail(fmt.Errorf("%w: result %s belongs to session %s", ErrInvalid, frame.ResultID, u.state.SessionID))
		} else if err := s.content.Append(ctx, frame.ResultID, frame.Data); err != nil {
			return fail(err)
		}

		u.size += int64(len(frame.Data))
		s.metrics.RecordChunk(len(frame.Data))
	}

	now := time.Now().UTC()
	completed := make([]models.BlobState, 0, len(order))
	for _, id := range order {
		state, err := s.results.MarkCompleted(ctx, id, touched[id].size, now)
		if err != nil {
			return nil, err
		}
		publish(ctx, s.publisher, s.log, state)
		completed = append(completed, state)
	}

	s.metrics.RecordBlobsCreated(metrics.ModeChunked, len(completed))
	s.log.Debug("upload completed", "results", len(completed))
	return completed, nil
}

// uploadable returns the result if data may be uploaded to it
func (s *ResultService) uploadable(ctx context.Context, sessionID, resultID string) (models.BlobState, error) {
	state, err := s.Get(ctx, resultID)
	if err != nil {
		return state, err
	}
	if state.SessionID != sessionID {
		return state, fmt.Errorf("%w: result %s not found in session %s", ErrNotFound, resultID, sessionID)
	}
	if state.Status != models.BlobStatusCreated {
		return state, fmt.Errorf("%w: result %s is %s", ErrConflict, resultID, state.Status)
	}
	if _, err := s.sessions.RequireOpen(ctx, sessionID); err != nil {
		return state, err
	}
	return state, nil
}

// OpenDownload returns the data of a completed result cut into pieces of at
// most DATA_CHUNK_MAX_SIZE bytes. Empty data yields no piece.
func (s *ResultService) OpenDownload(ctx context.Context, sessionID, resultID string) ([][]byte, error) {
	state, err := s.Get(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if state.SessionID != sessionID {
		return nil, fmt.Errorf("%w: result %s not found in session %s", ErrNotFound, resultID, sessionID)
	}
	if state.Status != models.BlobStatusCompleted {
		return nil, fmt.Errorf("%w: result %s is %s", ErrConflict, resultID, state.Status)
	}

	data, err := s.content.Get(ctx, resultID)
	if errors.Is(err, content.ErrNotFound) {
		return nil, fmt.Errorf("%w: data of result %s not found", ErrNotFound, resultID)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordDownload(len(data))
	return chunk.Split(data, s.chunkMax)
}

// Get returns a result
func (s *ResultService) Get(ctx context.Context, resultID string) (models.BlobState, error) {
	state, err := s.results.GetResult(ctx, resultID)
	if errors.Is(err, repository.ErrNotFound) {
		return state, fmt.Errorf("%w: result %s not found", ErrNotFound, resultID)
	}
	return state, err
}

// List filters, sorts and pages the results of a session (all sessions when empty)
func (s *ResultService) List(ctx context.Context, req models.ListBlobsRequest) (models.BlobPage, error) {
	if req.Page < 0 {
		return models.BlobPage{}, fmt.Errorf("%w: page must not be negative", ErrInvalid)
	}
	pageSize := req.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}

	less, err := resultOrder(req.SortField, req.SortDirection)
	if err != nil {
		return models.BlobPage{}, err
	}

	all, err := s.results.ListResults(ctx, req.SessionID)
	if err != nil {
		return models.BlobPage{}, err
	}

	matched := all[:0]
	for _, state := range all {
		if req.Filter != "" {
			ok, err := s.filter.Match(req.Filter, state)
			if err != nil {
				return models.BlobPage{}, err
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, state)
	}
	sort.SliceStable(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	// pages past the end are empty; checked before multiplying so huge pages cannot overflow
	start := len(matched)
	if req.Page <= len(matched)/pageSize {
		start = req.Page * pageSize
	}
	end := min(start+pageSize, len(matched))
	return models.BlobPage{
		Total:    len(matched),
		Page:     req.Page,
		PageSize: pageSize,
		Blobs:    matched[start:end],
	}, nil
}

func resultOrder(field string, dir models.SortDirection) (func(a, b models.BlobState) bool, error) {
	var less func(a, b models.BlobState) bool
	switch strings.ToLower(field) {
	case "", "created_at":
		less = func(a, b models.BlobState) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case "completed_at":
		less = func(a, b models.BlobState) bool { return a.CompletedAt.Before(b.CompletedAt) }
	case "name":
		less = func(a, b models.BlobState) bool { return a.Name < b.Name }
	case "result_id":
		less = func(a, b models.BlobState) bool { return a.ID < b.ID }
	case "status":
		less = func(a, b models.BlobState) bool { return a.Status < b.Status }
	case "size":
		less = func(a, b models.BlobState) bool { return a.Size < b.Size }
	default:
		return nil, fmt.Errorf("%w: unknown sort field %q", ErrInvalid, field)
	}

	switch dir {
	case "", models.SortAscending:
		return less, nil
	case models.SortDescending:
		return func(a, b models.BlobState) bool { return less(b, a) }, nil
	}
	return nil, fmt.Errorf("%w: unknown sort direction %q", ErrInvalid, dir)
}
