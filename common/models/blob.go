package models

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// BlobStatus mirrors the result status taxonomy of the control plane
type BlobStatus int

const (
	BlobStatusUnspecified BlobStatus = iota
	// BlobStatusCreated means metadata exists but no data has been attached yet
	BlobStatusCreated
	// BlobStatusCompleted means data is fully uploaded and readable
	BlobStatusCompleted
	// BlobStatusAborted means the producing task failed or the upload was abandoned
	BlobStatusAborted
	// BlobStatusDeleted means data was purged from the store
	BlobStatusDeleted
)

var blobStatusNames = map[BlobStatus]string{
	BlobStatusUnspecified: "unspecified",
	BlobStatusCreated:     "created",
	BlobStatusCompleted:   "completed",
	BlobStatusAborted:     "aborted",
	BlobStatusDeleted:     "deleted",
}

// String returns the lowercase name of the status
func (s BlobStatus) String() string {
	if name, ok := blobStatusNames[s]; ok {
		return name
	}
	return "unspecified"
}

// ParseBlobStatus is the inverse of String; unknown names yield BlobStatusUnspecified
func ParseBlobStatus(name string) BlobStatus {
	name = strings.ToLower(strings.TrimSpace(name))
	for status, n := range blobStatusNames {
		if n == name {
			return status
		}
	}
	return BlobStatusUnspecified
}

// MarshalText encodes the status by name
func (s BlobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *BlobStatus) UnmarshalText(text []byte) error {
	*s = ParseBlobStatus(string(text))
	return nil
}

// IsTerminal reports whether no further transition is expected
func (s BlobStatus) IsTerminal() bool {
	return s == BlobStatusCompleted || s == BlobStatusAborted || s == BlobStatusDeleted
}

// IsSuccess reports terminal success
func (s BlobStatus) IsSuccess() bool {
	return s == BlobStatusCompleted
}

// IsFailure reports terminal failure
func (s BlobStatus) IsFailure() bool {
	return s == BlobStatusAborted || s == BlobStatusDeleted
}

// BlobInfo identifies a blob. ID is empty until the remote store assigns one;
// such a BlobInfo is pending and cannot be referenced by a submission.
type BlobInfo struct {
	Name      string `json:"name"`
	ID        string `json:"result_id"`
	SessionID string `json:"session_id"`
}

// Pending reports whether the blob has not been created yet
func (b BlobInfo) Pending() bool {
	return b.ID == ""
}

// Blob is a BlobInfo with materialized content. Content can be set once.
type Blob struct {
	Info BlobInfo

	mu      sync.Mutex
	content []byte
	set     bool
}

// NewBlob creates a blob without content
func NewBlob(info BlobInfo) *Blob {
	return &Blob{Info: info}
}

// SetContent attaches content; a second call fails and leaves the first value in place
func (b *Blob) SetContent(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.set {
		return fmt.Errorf("content of blob %s already set", b.Info.ID)
	}
	b.content = data
	b.set = true
	return nil
}

// Content returns the content, or nil when not set
func (b *Blob) Content() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content
}

// HasContent reports whether SetContent succeeded
func (b *Blob) HasContent() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.set
}

// BlobContent is a pending (name, bytes) pair not yet materialized
type BlobContent struct {
	Name string
	Data []byte
}

// BlobContentByID is content destined for a blob that already has an id
type BlobContentByID struct {
	Info BlobInfo
	Data []byte
}

// BlobState is the remote view of a blob
type BlobState struct {
	BlobInfo
	Status      BlobStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	OwnerTaskID string     `json:"owner_task_id,omitempty"`
	Size        int64      `json:"size"`
}

// SortDirection orders list results
type SortDirection string

const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)

// ListBlobsRequest is passed through to the remote store unchanged
type ListBlobsRequest struct {
	SessionID     string
	Filter        string
	Page          int
	PageSize      int
	SortField     string
	SortDirection SortDirection
}

// BlobPage is one page of a blob listing
type BlobPage struct {
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Blobs    []BlobState `json:"results"`
}

// ServiceConfiguration is advertised by the results service
type ServiceConfiguration struct {
	DataChunkMaxSize int `json:"data_chunk_max_size"`
}
