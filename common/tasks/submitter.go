// Package tasks validates and submits batches of task nodes.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/lyzr/taskplane/common/clients"
	taskerrors "github.com/lyzr/taskplane/common/errors"
	"github.com/lyzr/taskplane/common/metrics"
	"github.com/lyzr/taskplane/common/models"
	"github.com/lyzr/taskplane/common/resolver"
)

const component = "tasks"

// Resolver materializes pending task data. *resolver.Resolver implements it.
type Resolver interface {
	Resolve(ctx context.Context, sessionID string, nodes []models.TaskNode) ([]models.TaskNode, error)
}

var _ Resolver = (*resolver.Resolver)(nil)

// Submitter sends task batches to the control plane
type Submitter struct {
	client   clients.TasksClient
	resolver Resolver
	logger   clients.Logger
	metrics  *metrics.Transfer
	defaults json.RawMessage
}

// New creates a submitter. defaults are the session's task options that node
// options are merged over; nil means none. m may be nil.
func New(client clients.TasksClient, r Resolver, logger clients.Logger, m *metrics.Transfer, defaults *models.TaskOptions) (*Submitter, error) {
	s := &Submitter{
		client:   client,
		resolver: r,
		logger:   logger,
		metrics:  m,
	}

	if defaults != nil {
		data, err := json.Marshal(defaults)
		if err != nil {
			return nil, taskerrors.InvalidConfiguration(component, "New", "encode default task options: %v", err)
		}
		s.defaults = data
	}
	return s, nil
}

// SubmitTasks validates every node, resolves pending data, and submits the batch
// in one round trip. Records come back in the order the control plane answered.
func (s *Submitter) SubmitTasks(ctx context.Context, sessionID string, nodes []models.TaskNode) ([]models.TaskInfos, error) {
	if sessionID == "" {
		return nil, taskerrors.UnresolvedReference(component, "SubmitTasks", "no session id")
	}
	if len(nodes) == 0 {
		return []models.TaskInfos{}, nil
	}

	// validate before resolving so a bad batch creates no blobs
	for i, n := range nodes {
		if err := validate(n, i); err != nil {
			return nil, err
		}
	}

	resolved, err := s.resolver.Resolve(ctx, sessionID, nodes)
	if err != nil {
		return nil, err
	}

	req := clients.SubmitTasksRequest{
		SessionID:   sessionID,
		TaskOptions: s.defaults,
		Tasks:       make([]clients.TaskCreation, len(resolved)),
	}
	for i, n := range resolved {
		options, err := s.mergeOptions(n.TaskOptions)
		if err != nil {
			return nil, taskerrors.InvalidArgument(component, "SubmitTasks", "task %d options: %v", i, err)
		}
		req.Tasks[i] = clients.TaskCreation{
			PayloadID:         n.Payload.ID,
			ExpectedOutputIDs: ids(n.ExpectedOutputs),
			DataDependencyIDs: ids(n.DataDependencies),
			TaskOptions:       options,
		}
	}

	resp, err := s.client.SubmitTasks(ctx, req)
	if err != nil {
		err = taskerrors.Remote(err, component, "SubmitTasks")
		if !errors.Is(err, taskerrors.ErrCancellationRequested) {
			s.logger.Error("task submission failed", "session_id", sessionID, "tasks", len(req.Tasks), "error", err)
		}
		return nil, err
	}

	infos := make([]models.TaskInfos, len(resp.TaskInfos))
	for i, ti := range resp.TaskInfos {
		if ti.SessionID == "" {
			ti.SessionID = sessionID
		}
		infos[i] = ti
	}

	s.metrics.RecordTasksSubmitted(len(infos))
	s.logger.Info("submitted tasks", "session_id", sessionID, "count", len(infos))
	return infos, nil
}

// mergeOptions merges node options over the defaults as a JSON merge patch
func (s *Submitter) mergeOptions(node *models.TaskOptions) (json.RawMessage, error) {
	if node == nil {
		return s.defaults, nil
	}

	patch, err := json.Marshal(node)
	if err != nil {
		return nil, err
	}
	if s.defaults == nil {
		return patch, nil
	}

	merged, err := jsonpatch.MergePatch(s.defaults, patch)
	if err != nil {
		return nil, fmt.Errorf("merge over defaults: %w", err)
	}
	return merged, nil
}

func validate(n models.TaskNode, index int) error {
	if len(n.ExpectedOutputs) == 0 {
		return taskerrors.InvalidArgument(component, "SubmitTasks", "task %d: expected outputs cannot be empty", index)
	}
	for _, o := range n.ExpectedOutputs {
		if o.Pending() {
			return taskerrors.InvalidArgument(component, "SubmitTasks", "task %d: expected output %q has no id", index, o.Name)
		}
	}
	for _, d := range n.DataDependencies {
		if d.Pending() {
			return taskerrors.InvalidArgument(component, "SubmitTasks", "task %d: data dependency %q has no id", index, d.Name)
		}
	}
	if n.HasPendingPayload() && n.PayloadContent == nil {
		return taskerrors.InvalidArgument(component, "SubmitTasks", "task %d: payload has neither an id nor content", index)
	}
	return nil
}

func ids(infos []models.BlobInfo) []string {
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.ID
	}
	return out
}
