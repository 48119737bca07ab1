package clients

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/lyzr/taskplane/common/models"
)

// errUploadFinished closes the request body reader once the server has answered
var errUploadFinished = errors.New("upload stream already finished")

// ControlPlaneClient talks to the control plane over HTTP.
// Unary calls are JSON; result data moves as framed binary streams.
type ControlPlaneClient struct {
	pool    *ChannelPool
	timeout time.Duration
	logger  Logger
}

// NewControlPlaneClient creates a client on top of a channel pool.
// timeout bounds unary calls only; streams are bounded by their context.
func NewControlPlaneClient(pool *ChannelPool, timeout time.Duration, logger Logger) *ControlPlaneClient {
	return &ControlPlaneClient{
		pool:    pool,
		timeout: timeout,
		logger:  logger,
	}
}

func (c *ControlPlaneClient) call(ctx context.Context, method, path string, in, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	return c.pool.WithChannel(ctx, func(ch *Channel) error {
		return ch.HTTP.DoJSON(ctx, method, ch.URL(path), in, out)
	})
}

// ---- results ----

type resultsEnvelope struct {
	Results []models.BlobState `json:"results"`
}

// GetServiceConfiguration fetches the results service limits
func (c *ControlPlaneClient) GetServiceConfiguration(ctx context.Context) (models.ServiceConfiguration, error) {
	var cfg models.ServiceConfiguration
	err := c.call(ctx, http.MethodGet, "/api/v1/results/service-configuration", nil, &cfg)
	return cfg, err
}

// CreateResultsMetaData creates results without data, one per name, in order
func (c *ControlPlaneClient) CreateResultsMetaData(ctx context.Context, sessionID string, names []string) ([]models.BlobState, error) {
	var out resultsEnvelope
	in := map[string][]string{"names": names}
	err := c.call(ctx, http.MethodPost, sessionPath(sessionID, "/results/metadata"), in, &out)
	return out.Results, err
}

// CreateResults creates results together with their data
func (c *ControlPlaneClient) CreateResults(ctx context.Context, sessionID string, results []ResultData) ([]models.BlobState, error) {
	var out resultsEnvelope
	in := map[string][]ResultData{"results": results}
	err := c.call(ctx, http.MethodPost, sessionPath(sessionID, "/results"), in, &out)
	return out.Results, err
}

// GetResult fetches the state of one result
func (c *ControlPlaneClient) GetResult(ctx context.Context, resultID string) (models.BlobState, error) {
	var state models.BlobState
	err := c.call(ctx, http.MethodGet, "/api/v1/results/"+url.PathEscape(resultID), nil, &state)
	return state, err
}

// ListResults passes pagination, sort and filter through as query parameters
func (c *ControlPlaneClient) ListResults(ctx context.Context, req models.ListBlobsRequest) (models.BlobPage, error) {
	q := url.Values{}
	if req.SessionID != "" {
		q.Set("session_id", req.SessionID)
	}
	if req.Filter != "" {
		q.Set("filter", req.Filter)
	}
	if req.Page > 0 {
		q.Set("page", strconv.Itoa(req.Page))
	}
	if req.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(req.PageSize))
	}
	if req.SortField != "" {
		q.Set("sort_field", req.SortField)
	}
	if req.SortDirection != "" {
		q.Set("sort_direction", string(req.SortDirection))
	}

	path := "/api/v1/results"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page models.BlobPage
	err := c.call(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

// UploadResultData opens an upload stream. The stream holds a pooled channel
// until CloseAndRecv returns.
func (c *ControlPlaneClient) UploadResultData(ctx context.Context) (UploadStream, error) {
	ch, release, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	s := &uploadStream{
		pw:      pw,
		done:    make(chan struct{}),
		release: release,
	}

	go func() {
		defer close(s.done)

		resp, err := ch.HTTP.DoRequestWithType(ctx, http.MethodPost, ch.URL("/api/v1/results/upload"), pr, "application/octet-stream")
		if err != nil {
			s.err = err
			pr.CloseWithError(err)
			return
		}
		defer resp.Body.Close()

		if err := CheckResponse(resp); err != nil {
			s.err = err
			pr.CloseWithError(err)
			return
		}

		if err := json.NewDecoder(resp.Body).Decode(&s.ack); err != nil {
			s.err = fmt.Errorf("failed to decode upload response: %w", err)
		}
		pr.CloseWithError(errUploadFinished)
	}()

	return s, nil
}

type uploadStream struct {
	pw      *io.PipeWriter
	done    chan struct{}
	release func()
	once    sync.Once

	ack UploadAck
	err error
}

func (s *uploadStream) Send(chunk UploadChunk) error {
	frame := Frame{
		Op:        OpData,
		SessionID: chunk.SessionID,
		ResultID:  chunk.ResultID,
		Data:      chunk.Data,
	}

	var buf bytes.Buffer
	if err := frame.Encode(&buf); err != nil {
		return err
	}
	_, err := s.pw.Write(buf.Bytes())
	return err
}

// Abort writes an error frame before closing so the service never completes
// results from a partial stream
func (s *uploadStream) Abort(cause error) {
	s.once.Do(func() {
		frame := Frame{Op: OpError, Data: []byte(cause.Error())}
		var buf bytes.Buffer
		if err := frame.Encode(&buf); err == nil {
			_, _ = s.pw.Write(buf.Bytes())
		}
		s.pw.Close()
		<-s.done
		s.release()
	})
}

func (s *uploadStream) CloseAndRecv() (UploadAck, error) {
	s.once.Do(func() {
		s.pw.Close()
		<-s.done
		s.release()
	})
	return s.ack, s.err
}

// DownloadResultData opens a download stream for one result
func (c *ControlPlaneClient) DownloadResultData(ctx context.Context, sessionID, resultID string) (DownloadStream, error) {
	ch, release, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	path := sessionPath(sessionID, "/results/"+url.PathEscape(resultID)+"/data")
	resp, err := ch.HTTP.DoRequest(ctx, http.MethodGet, ch.URL(path), nil)
	if err != nil {
		release()
		return nil, err
	}
	if err := CheckResponse(resp); err != nil {
		resp.Body.Close()
		release()
		return nil, err
	}

	return &downloadStream{
		body:    resp.Body,
		reader:  bufio.NewReader(resp.Body),
		release: release,
	}, nil
}

type downloadStream struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	release func()
	once    sync.Once
}

func (s *downloadStream) Recv() ([]byte, error) {
	frame, err := ReadFrame(s.reader)
	if err != nil {
		return nil, err
	}

	switch frame.Op {
	case OpData:
		return frame.Data, nil
	case OpError:
		return nil, &RemoteError{Status: http.StatusInternalServerError, Message: string(frame.Data)}
	default:
		return nil, fmt.Errorf("unexpected frame op 0x%02x", byte(frame.Op))
	}
}

func (s *downloadStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.body.Close()
		s.release()
	})
	return err
}

// ---- tasks ----

// SubmitTasks submits a batch of tasks in one round trip
func (c *ControlPlaneClient) SubmitTasks(ctx context.Context, req SubmitTasksRequest) (SubmitTasksResponse, error) {
	var out SubmitTasksResponse
	err := c.call(ctx, http.MethodPost, sessionPath(req.SessionID, "/tasks"), req, &out)
	return out, err
}

// ---- sessions ----

// CreateSession opens a new session
func (c *ControlPlaneClient) CreateSession(ctx context.Context, req CreateSessionRequest) (models.SessionInfo, error) {
	var info models.SessionInfo
	err := c.call(ctx, http.MethodPost, "/api/v1/sessions", req, &info)
	return info, err
}

// GetSession fetches a session
func (c *ControlPlaneClient) GetSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	var info models.SessionInfo
	err := c.call(ctx, http.MethodGet, sessionPath(sessionID, ""), nil, &info)
	return info, err
}

func (c *ControlPlaneClient) sessionAction(ctx context.Context, sessionID, action string) (models.SessionInfo, error) {
	var info models.SessionInfo
	err := c.call(ctx, http.MethodPost, sessionPath(sessionID, "/"+action), nil, &info)
	return info, err
}

func (c *ControlPlaneClient) CancelSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return c.sessionAction(ctx, sessionID, "cancel")
}

func (c *ControlPlaneClient) CloseSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return c.sessionAction(ctx, sessionID, "close")
}

func (c *ControlPlaneClient) PauseSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return c.sessionAction(ctx, sessionID, "pause")
}

func (c *ControlPlaneClient) ResumeSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return c.sessionAction(ctx, sessionID, "resume")
}

func (c *ControlPlaneClient) StopSubmission(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return c.sessionAction(ctx, sessionID, "stop-submission")
}

func (c *ControlPlaneClient) PurgeSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	return c.sessionAction(ctx, sessionID, "purge")
}

// DeleteSession removes the session and everything it owns
func (c *ControlPlaneClient) DeleteSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	var info models.SessionInfo
	err := c.call(ctx, http.MethodDelete, sessionPath(sessionID, ""), nil, &info)
	return info, err
}

func sessionPath(sessionID, suffix string) string {
	return "/api/v1/sessions/" + url.PathEscape(sessionID) + suffix
}
