package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	cpmodels "github.com/lyzr/taskplane/cmd/controlplane/models"
	"github.com/lyzr/taskplane/common/models"
)

// MemoryStore keeps everything in maps. Used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	results  map[string]models.BlobState
	sessions map[string]models.SessionInfo
	tasks    map[string]cpmodels.TaskRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results:  make(map[string]models.BlobState),
		sessions: make(map[string]models.SessionInfo),
		tasks:    make(map[string]cpmodels.TaskRecord),
	}
}

func (m *MemoryStore) CreateResults(ctx context.Context, results []models.BlobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range results {
		if _, ok := m.results[r.ID]; ok {
			return fmt.Errorf("result %s already exists", r.ID)
		}
	}
	for _, r := range results {
		m.results[r.ID] = r
	}
	return nil
}

func (m *MemoryStore) GetResult(ctx context.Context, resultID string) (models.BlobState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.results[resultID]
	if !ok {
		return models.BlobState{}, fmt.Errorf("result %s: %w", resultID, ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) GetResults(ctx context.Context, ids []string) (map[string]models.BlobState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	found := make(map[string]models.BlobState, len(ids))
	for _, id := range ids {
		if r, ok := m.results[id]; ok {
			found[id] = r
		}
	}
	return found, nil
}

func (m *MemoryStore) ListResults(ctx context.Context, sessionID string) ([]models.BlobState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.BlobState
	for _, r := range m.results {
		if sessionID == "" || r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) MarkCompleted(ctx context.Context, resultID string, size int64, at time.Time) (models.BlobState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.results[resultID]
	if !ok {
		return models.BlobState{}, fmt.Errorf("result %s: %w", resultID, ErrNotFound)
	}
	r.Status = models.BlobStatusCompleted
	r.Size = size
	r.CompletedAt = at
	m.results[resultID] = r
	return r, nil
}

func (m *MemoryStore) SetOwner(ctx context.Context, ids []string, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		r, ok := m.results[id]
		if !ok {
			return fmt.Errorf("result %s: %w", id, ErrNotFound)
		}
		r.OwnerTaskID = taskID
		m.results[id] = r
	}
	return nil
}

func (m *MemoryStore) SetSessionStatus(ctx context.Context, sessionID string, from []models.BlobStatus, to models.BlobStatus) ([]models.BlobState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed []models.BlobState
	for id, r := range m.results {
		if r.SessionID != sessionID || !slices.Contains(from, r.Status) {
			continue
		}
		r.Status = to
		m.results[id] = r
		changed = append(changed, r)
	}
	return changed, nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, session models.SessionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.SessionID]; ok {
		return fmt.Errorf("session %s already exists", session.SessionID)
	}
	m.sessions[session.SessionID] = session
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return models.SessionInfo{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return s, nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, session models.SessionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[session.SessionID]; !ok {
		return fmt.Errorf("session %s: %w", session.SessionID, ErrNotFound)
	}
	m.sessions[session.SessionID] = session
	return nil
}

func (m *MemoryStore) CreateTasks(ctx context.Context, tasks []cpmodels.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tasks {
		m.tasks[t.TaskID] = t
	}
	return nil
}

func (m *MemoryStore) ListTasks(ctx context.Context, sessionID string) ([]cpmodels.TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []cpmodels.TaskRecord
	for _, t := range m.tasks {
		if t.SessionID == sessionID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].TaskID < out[j].TaskID
	})
	return out, nil
}

func (m *MemoryStore) SetSessionTaskStatus(ctx context.Context, sessionID string, from []models.TaskStatus, to models.TaskStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, t := range m.tasks {
		if t.SessionID != sessionID || !slices.Contains(from, t.Status) {
			continue
		}
		t.Status = to
		m.tasks[id] = t
		n++
	}
	return n, nil
}
