package clients

import (
	"context"
	"encoding/json"

	"github.com/lyzr/taskplane/common/models"
)

// ResultsClient is the remote results (blob) service.
// All implementations must be context-aware and thread-safe.
type ResultsClient interface {
	GetServiceConfiguration(ctx context.Context) (models.ServiceConfiguration, error)
	CreateResultsMetaData(ctx context.Context, sessionID string, names []string) ([]models.BlobState, error)
	CreateResults(ctx context.Context, sessionID string, results []ResultData) ([]models.BlobState, error)
	UploadResultData(ctx context.Context) (UploadStream, error)
	DownloadResultData(ctx context.Context, sessionID, resultID string) (DownloadStream, error)
	GetResult(ctx context.Context, resultID string) (models.BlobState, error)
	ListResults(ctx context.Context, req models.ListBlobsRequest) (models.BlobPage, error)
}

// UploadStream sends chunks for one or more results in order.
// Exactly one of CloseAndRecv or Abort finishes the upload.
type UploadStream interface {
	Send(chunk UploadChunk) error
	CloseAndRecv() (UploadAck, error)
	// Abort makes the service drop everything sent on the stream
	Abort(cause error)
}

// DownloadStream yields the content of one result chunk by chunk.
// Recv returns io.EOF after the last chunk.
type DownloadStream interface {
	Recv() ([]byte, error)
	Close() error
}

// TasksClient is the remote task submission service
type TasksClient interface {
	SubmitTasks(ctx context.Context, req SubmitTasksRequest) (SubmitTasksResponse, error)
}

// SessionsClient is the remote session lifecycle service
type SessionsClient interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (models.SessionInfo, error)
	GetSession(ctx context.Context, sessionID string) (models.SessionInfo, error)
	CancelSession(ctx context.Context, sessionID string) (models.SessionInfo, error)
	CloseSession(ctx context.Context, sessionID string) (models.SessionInfo, error)
	PauseSession(ctx context.Context, sessionID string) (models.SessionInfo, error)
	ResumeSession(ctx context.Context, sessionID string) (models.SessionInfo, error)
	StopSubmission(ctx context.Context, sessionID string) (models.SessionInfo, error)
	PurgeSession(ctx context.Context, sessionID string) (models.SessionInfo, error)
	DeleteSession(ctx context.Context, sessionID string) (models.SessionInfo, error)
}

// EventsClient subscribes to status events of a session
type EventsClient interface {
	Subscribe(ctx context.Context, sessionID string) (EventStream, error)
}

// EventStream yields events until closed or the subscription context ends
type EventStream interface {
	Recv() (models.BlobEvent, error)
	Close() error
}

// ResultData is a result to create together with its content
type ResultData struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// UploadChunk is one piece of result content on an upload stream
type UploadChunk struct {
	SessionID string
	ResultID  string
	Data      []byte
}

// UploadAck is returned once an upload stream is closed
type UploadAck struct {
	Results []models.BlobState `json:"results"`
}

// TaskCreation is one task of a submission batch
type TaskCreation struct {
	PayloadID         string          `json:"payload_id"`
	ExpectedOutputIDs []string        `json:"expected_output_ids"`
	DataDependencyIDs []string        `json:"data_dependency_ids"`
	TaskOptions       json.RawMessage `json:"task_options,omitempty"`
}

// SubmitTasksRequest submits a batch of tasks in one session
type SubmitTasksRequest struct {
	SessionID   string          `json:"-"`
	TaskOptions json.RawMessage `json:"task_options,omitempty"`
	Tasks       []TaskCreation  `json:"tasks"`
}

// SubmitTasksResponse carries one record per created task
type SubmitTasksResponse struct {
	TaskInfos []models.TaskInfos `json:"task_infos"`
}

// CreateSessionRequest opens a session
type CreateSessionRequest struct {
	PartitionIDs []string            `json:"partition_ids,omitempty"`
	TaskOptions  *models.TaskOptions `json:"task_options,omitempty"`
}

// Transport bundles the remote services
type Transport interface {
	ResultsClient
	TasksClient
	SessionsClient
}
