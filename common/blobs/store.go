// Package blobs creates, uploads and downloads results on the control plane.
//
// Content that fits the advertised chunk limit is created in a single call.
// Anything larger is created as metadata first and then streamed in chunks
// no bigger than the limit. The limit is fetched once per Store.
package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lyzr/taskplane/common/chunk"
	"github.com/lyzr/taskplane/common/clients"
	taskerrors "github.com/lyzr/taskplane/common/errors"
	"github.com/lyzr/taskplane/common/metrics"
	"github.com/lyzr/taskplane/common/models"
)

const component = "blobs"

// DefaultConcurrency bounds CreateBlobsWithContent when Options.Concurrency is unset
const DefaultConcurrency = 8

// Options tune a Store
type Options struct {
	// ChunkSizeOverride caps the chunk limit advertised by the service (0 = no cap)
	ChunkSizeOverride int
	// Concurrency bounds parallel creations in CreateBlobsWithContent
	Concurrency int
}

// Store is the blob API of one results service. It is safe for concurrent use.
type Store struct {
	client  clients.ResultsClient
	logger  clients.Logger
	metrics *metrics.Transfer
	opts    Options

	config atomic.Pointer[models.ServiceConfiguration]
}

// New creates a Store. m may be nil.
func New(client clients.ResultsClient, logger clients.Logger, m *metrics.Transfer, opts Options) *Store {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Store{
		client:  client,
		logger:  logger,
		metrics: m,
		opts:    opts,
	}
}

// ServiceConfiguration returns the results service configuration, fetching it on first use.
// Concurrent first calls may each fetch; the first stored value wins and is never replaced.
func (s *Store) ServiceConfiguration(ctx context.Context) (models.ServiceConfiguration, error) {
	if cfg := s.config.Load(); cfg != nil {
		return *cfg, nil
	}

	cfg, err := s.client.GetServiceConfiguration(ctx)
	if err != nil {
		return models.ServiceConfiguration{}, s.remote(err, "ServiceConfiguration")
	}
	if cfg.DataChunkMaxSize <= 0 {
		return models.ServiceConfiguration{}, taskerrors.InvalidConfiguration(component, "ServiceConfiguration",
			"service advertised a non-positive chunk size: %d", cfg.DataChunkMaxSize)
	}
	if o := s.opts.ChunkSizeOverride; o > 0 && o < cfg.DataChunkMaxSize {
		cfg.DataChunkMaxSize = o
	}
	// chunks travel as single frames
	if cfg.DataChunkMaxSize > clients.MaxFrameData {
		cfg.DataChunkMaxSize = clients.MaxFrameData
	}

	if !s.config.CompareAndSwap(nil, &cfg) {
		return *s.config.Load(), nil
	}
	s.logger.Debug("cached results service configuration", "data_chunk_max_size", cfg.DataChunkMaxSize)
	return cfg, nil
}

func (s *Store) chunkMax(ctx context.Context) (int, error) {
	cfg, err := s.ServiceConfiguration(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.DataChunkMaxSize, nil
}

// CreateBlob creates blob metadata without content. An empty name gets a random one.
func (s *Store) CreateBlob(ctx context.Context, sessionID, name string) (models.BlobInfo, error) {
	info, err := s.createMetadata(ctx, sessionID, name, "CreateBlob")
	if err != nil {
		return models.BlobInfo{}, err
	}
	s.metrics.RecordBlobsCreated(metrics.ModeMetadata, 1)
	return info, nil
}

// CreateBlobWithContent creates a blob holding content. Content within the chunk
// limit goes in one create call; larger content is created empty and uploaded in chunks.
func (s *Store) CreateBlobWithContent(ctx context.Context, sessionID, name string, content []byte) (models.BlobInfo, error) {
	if err := requireSession(sessionID, "CreateBlobWithContent"); err != nil {
		return models.BlobInfo{}, err
	}
	if name == "" {
		name = uuid.NewString()
	}

	limit, err := s.chunkMax(ctx)
	if err != nil {
		return models.BlobInfo{}, err
	}

	if len(content) <= limit {
		states, err := s.client.CreateResults(ctx, sessionID, []clients.ResultData{{Name: name, Data: content}})
		if err != nil {
			return models.BlobInfo{}, s.remote(err, "CreateBlobWithContent")
		}
		if len(states) != 1 {
			return models.BlobInfo{}, s.remote(fmt.Errorf("expected 1 result for %q, got %d", name, len(states)), "CreateBlobWithContent")
		}
		s.metrics.RecordUpload(len(content))
		s.metrics.RecordBlobsCreated(metrics.ModeSingle, 1)
		return states[0].BlobInfo, nil
	}

	info, err := s.createMetadata(ctx, sessionID, name, "CreateBlobWithContent")
	if err != nil {
		return models.BlobInfo{}, err
	}
	if err := s.upload(ctx, sessionID, []models.BlobContentByID{{Info: info, Data: content}}, limit, "CreateBlobWithContent"); err != nil {
		return models.BlobInfo{}, err
	}
	s.metrics.RecordBlobsCreated(metrics.ModeChunked, 1)
	return info, nil
}

// CreateBlobFromStream creates a blob and uploads what src yields until it is closed.
// Reading src runs at most one buffer ahead of the chunk being sent.
func (s *Store) CreateBlobFromStream(ctx context.Context, sessionID, name string, src <-chan []byte) (models.BlobInfo, error) {
	info, err := s.createMetadata(ctx, sessionID, name, "CreateBlobFromStream")
	if err != nil {
		return models.BlobInfo{}, err
	}
	if err := s.UploadBlobStream(ctx, sessionID, info, src); err != nil {
		return models.BlobInfo{}, err
	}
	s.metrics.RecordBlobsCreated(metrics.ModeStream, 1)
	return info, nil
}

// CreateBlobs creates metadata for all names in one round trip.
// The result is index-aligned with names.
func (s *Store) CreateBlobs(ctx context.Context, sessionID string, names []string) ([]models.BlobInfo, error) {
	if err := requireSession(sessionID, "CreateBlobs"); err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return []models.BlobInfo{}, nil
	}

	request := make([]string, len(names))
	for i, name := range names {
		if name == "" {
			name = uuid.NewString()
		}
		request[i] = name
	}

	states, err := s.client.CreateResultsMetaData(ctx, sessionID, request)
	if err != nil {
		return nil, s.remote(err, "CreateBlobs")
	}
	if len(states) != len(request) {
		return nil, s.remote(fmt.Errorf("expected %d results, got %d", len(request), len(states)), "CreateBlobs")
	}

	infos := make([]models.BlobInfo, len(states))
	for i, st := range states {
		infos[i] = st.BlobInfo
	}
	s.metrics.RecordBlobsCreated(metrics.ModeMetadata, len(infos))
	return infos, nil
}

// CreateBlobsWithContent creates every blob concurrently, bounded by Options.Concurrency.
// The first failure cancels the others and is returned. On success the result is
// index-aligned with contents; no ordering holds between the creations themselves.
func (s *Store) CreateBlobsWithContent(ctx context.Context, sessionID string, contents []models.BlobContent) ([]models.BlobInfo, error) {
	if err := requireSession(sessionID, "CreateBlobsWithContent"); err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return []models.BlobInfo{}, nil
	}

	// fetch once up front so the fan-out does not race on the first fetch
	if _, err := s.chunkMax(ctx); err != nil {
		return nil, err
	}

	infos := make([]models.BlobInfo, len(contents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for i, c := range contents {
		g.Go(func() error {
			info, err := s.CreateBlobWithContent(gctx, sessionID, c.Name, c.Data)
			if err != nil {
				return err
			}
			infos[i] = info
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// a sibling's failure cancels gctx; report the caller's cancellation if that is what happened
		if cerr := taskerrors.Cancelled(ctx, component, "CreateBlobsWithContent"); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}
	return infos, nil
}

// DownloadBlob fetches the full content of a blob
func (s *Store) DownloadBlob(ctx context.Context, sessionID string, info models.BlobInfo) (*models.Blob, error) {
	if err := requireSession(sessionID, "DownloadBlob"); err != nil {
		return nil, err
	}
	if err := requireID(info, "DownloadBlob"); err != nil {
		return nil, err
	}

	stream, err := s.client.DownloadResultData(ctx, sessionID, info.ID)
	if err != nil {
		return nil, s.remote(err, "DownloadBlob")
	}
	defer stream.Close()

	var content []byte
	for {
		data, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, s.remote(err, "DownloadBlob")
		}
		content = append(content, data...)
	}
	s.metrics.RecordDownload(len(content))

	blob := models.NewBlob(info)
	if err := blob.SetContent(content); err != nil {
		return nil, err
	}
	return blob, nil
}

// UploadBlobChunks uploads content for blobs that already exist, on one upload stream
func (s *Store) UploadBlobChunks(ctx context.Context, sessionID string, contents []models.BlobContentByID) error {
	if err := requireSession(sessionID, "UploadBlobChunks"); err != nil {
		return err
	}
	for _, c := range contents {
		if err := requireID(c.Info, "UploadBlobChunks"); err != nil {
			return err
		}
	}
	if len(contents) == 0 {
		return nil
	}

	limit, err := s.chunkMax(ctx)
	if err != nil {
		return err
	}
	return s.upload(ctx, sessionID, contents, limit, "UploadBlobChunks")
}

// UploadBlobStream uploads what src yields to an existing blob until src is closed
func (s *Store) UploadBlobStream(ctx context.Context, sessionID string, info models.BlobInfo, src <-chan []byte) error {
	if err := requireSession(sessionID, "UploadBlobStream"); err != nil {
		return err
	}
	if err := requireID(info, "UploadBlobStream"); err != nil {
		return err
	}

	limit, err := s.chunkMax(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pairs := make(chan chunk.Pair[string])
	go func() {
		defer close(pairs)
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-src:
				if !ok {
					return
				}
				select {
				case pairs <- chunk.Pair[string]{Key: info.ID, Data: data}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	groups, err := chunk.Stream(ctx, pairs, limit)
	if err != nil {
		return err
	}
	return s.send(ctx, sessionID, []string{info.ID}, groups, "UploadBlobStream")
}

// GetBlobState returns the remote state of a blob
func (s *Store) GetBlobState(ctx context.Context, info models.BlobInfo) (models.BlobState, error) {
	if err := requireID(info, "GetBlobState"); err != nil {
		return models.BlobState{}, err
	}

	state, err := s.client.GetResult(ctx, info.ID)
	if err != nil {
		return models.BlobState{}, s.remote(err, "GetBlobState")
	}
	return state, nil
}

// ListBlobs returns one page of blobs, passing pagination, sort and filter through
func (s *Store) ListBlobs(ctx context.Context, req models.ListBlobsRequest) (models.BlobPage, error) {
	if req.Page < 0 || req.PageSize < 0 {
		return models.BlobPage{}, taskerrors.InvalidArgument(component, "ListBlobs", "page and page size must not be negative")
	}
	switch req.SortDirection {
	case "", models.SortAscending, models.SortDescending:
	default:
		return models.BlobPage{}, taskerrors.InvalidArgument(component, "ListBlobs", "unknown sort direction %q", req.SortDirection)
	}

	page, err := s.client.ListResults(ctx, req)
	if err != nil {
		return models.BlobPage{}, s.remote(err, "ListBlobs")
	}
	return page, nil
}

func (s *Store) createMetadata(ctx context.Context, sessionID, name, op string) (models.BlobInfo, error) {
	if err := requireSession(sessionID, op); err != nil {
		return models.BlobInfo{}, err
	}
	if name == "" {
		name = uuid.NewString()
	}

	states, err := s.client.CreateResultsMetaData(ctx, sessionID, []string{name})
	if err != nil {
		return models.BlobInfo{}, s.remote(err, op)
	}
	if len(states) != 1 {
		return models.BlobInfo{}, s.remote(fmt.Errorf("expected 1 result for %q, got %d", name, len(states)), op)
	}
	return states[0].BlobInfo, nil
}

// upload chunks eagerly available content and sends it on one stream
func (s *Store) upload(ctx context.Context, sessionID string, contents []models.BlobContentByID, limit int, op string) error {
	pairs := make([]chunk.Pair[string], len(contents))
	ids := make([]string, len(contents))
	for i, c := range contents {
		pairs[i] = chunk.Pair[string]{Key: c.Info.ID, Data: c.Data}
		ids[i] = c.Info.ID
	}

	groups, err := chunk.Chunk(pairs, limit)
	if err != nil {
		return err
	}

	return s.send(ctx, sessionID, ids, func(yield func([]chunk.Pair[string], error) bool) {
		for g := range groups {
			if !yield(g, nil) {
				return
			}
		}
	}, op)
}

// send opens one upload stream and writes every group to it in order.
// Every id in ids gets at least one chunk, empty if its content was empty,
// so the service completes it when the stream closes.
func (s *Store) send(ctx context.Context, sessionID string, ids []string, groups iter.Seq2[[]chunk.Pair[string], error], op string) error {
	stream, err := s.client.UploadResultData(ctx)
	if err != nil {
		return s.remote(err, op)
	}

	seen := make(map[string]bool, len(ids))
	sent := 0
	abort := func(err error) error {
		stream.Abort(err)
		return s.remote(err, op)
	}

	for group, err := range groups {
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			return abort(err)
		}
		for _, p := range group {
			if err := stream.Send(clients.UploadChunk{SessionID: sessionID, ResultID: p.Key, Data: p.Data}); err != nil {
				return abort(err)
			}
			seen[p.Key] = true
			s.metrics.RecordChunk(len(p.Data))
			sent += len(p.Data)
		}
	}
	// src may have been cut short by cancellation
	if err := ctx.Err(); err != nil {
		return abort(err)
	}

	for _, id := range ids {
		if seen[id] {
			continue
		}
		if err := stream.Send(clients.UploadChunk{SessionID: sessionID, ResultID: id}); err != nil {
			return abort(err)
		}
		seen[id] = true
	}

	if _, err := stream.CloseAndRecv(); err != nil {
		return s.remote(err, op)
	}
	s.logger.Debug("uploaded blob data", "session_id", sessionID, "bytes", sent)
	return nil
}

// remote logs a transport failure and classifies it
func (s *Store) remote(err error, op string) error {
	err = taskerrors.Remote(err, component, op)
	if errors.Is(err, taskerrors.ErrCancellationRequested) {
		s.logger.Debug("blob operation cancelled", "operation", op, "error", err)
	} else {
		s.logger.Error("blob operation failed", "operation", op, "error", err)
	}
	return err
}

func requireSession(sessionID, op string) error {
	if sessionID == "" {
		return taskerrors.UnresolvedReference(component, op, "no session id")
	}
	return nil
}

func requireID(info models.BlobInfo, op string) error {
	if info.Pending() {
		return taskerrors.UnresolvedReference(component, op, "blob %q has no id", info.Name)
	}
	return nil
}
