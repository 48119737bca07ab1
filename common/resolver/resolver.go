// Package resolver materializes inline task data before submission.
//
// Task nodes may carry dependencies and payloads as (name, bytes) pairs that do
// not exist on the control plane yet. Resolve creates them, one creation call
// for all pending dependencies of the batch and one for all pending payloads,
// and returns copies of the nodes that reference the created blobs by id.
package resolver

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/lyzr/taskplane/common/clients"
	taskerrors "github.com/lyzr/taskplane/common/errors"
	"github.com/lyzr/taskplane/common/models"
)

const component = "resolver"

// Mode decides what happens to a pending entry the creation response does not name
type Mode int

const (
	// Strict fails the batch with UnresolvedReference
	Strict Mode = iota
	// Lenient drops the dependency and logs a warning. Payloads are always strict.
	Lenient
)

func (m Mode) String() string {
	if m == Lenient {
		return "lenient"
	}
	return "strict"
}

// ParseMode parses "strict" or "lenient"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return Strict, nil
	case "lenient":
		return Lenient, nil
	}
	return Strict, taskerrors.InvalidConfiguration(component, "ParseMode", "unknown resolution mode %q", s)
}

// BlobCreator creates blobs from content. *blobs.Store implements it.
type BlobCreator interface {
	CreateBlobsWithContent(ctx context.Context, sessionID string, contents []models.BlobContent) ([]models.BlobInfo, error)
}

// Resolution is the outcome for one pending entry
type Resolution struct {
	Name    string
	Payload bool
	Info    models.BlobInfo
	Err     error
}

// Result is the output of ResolveDetailed
type Result struct {
	Nodes       []models.TaskNode
	Resolutions []Resolution
}

// Resolver turns pending task data into created blobs
type Resolver struct {
	creator BlobCreator
	logger  clients.Logger
	mode    Mode
}

// New creates a resolver
func New(creator BlobCreator, logger clients.Logger, mode Mode) *Resolver {
	return &Resolver{
		creator: creator,
		logger:  logger,
		mode:    mode,
	}
}

// Mode returns the configured mode
func (r *Resolver) Mode() Mode {
	return r.mode
}

// Resolve returns resolved copies of nodes. The input is never modified.
func (r *Resolver) Resolve(ctx context.Context, sessionID string, nodes []models.TaskNode) ([]models.TaskNode, error) {
	res, err := r.ResolveDetailed(ctx, sessionID, nodes)
	if err != nil {
		return nil, err
	}
	return res.Nodes, nil
}

// ResolveDetailed is Resolve that also reports the outcome of every pending entry
func (r *Resolver) ResolveDetailed(ctx context.Context, sessionID string, nodes []models.TaskNode) (Result, error) {
	if sessionID == "" {
		return Result{}, taskerrors.UnresolvedReference(component, "Resolve", "no session id")
	}

	out := make([]models.TaskNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}

	// payload names are fixed here so a generated name is the same for gathering and matching
	payloadNames := make([]string, len(out))
	for i := range out {
		if out[i].HasPendingPayload() {
			name, err := payloadName(out[i], i)
			if err != nil {
				return Result{}, err
			}
			payloadNames[i] = name
		}
	}

	deps := newBatch("dependency")
	payloads := newBatch("payload")
	for i, n := range out {
		for _, c := range n.DataDependenciesContent {
			if err := deps.add(c.Name, c.Data); err != nil {
				return Result{}, err
			}
		}
		if payloadNames[i] != "" {
			if err := payloads.add(payloadNames[i], n.PayloadContent.Data); err != nil {
				return Result{}, err
			}
		}
	}

	depInfos, err := r.create(ctx, sessionID, deps)
	if err != nil {
		return Result{}, err
	}
	payloadInfos, err := r.create(ctx, sessionID, payloads)
	if err != nil {
		return Result{}, err
	}

	var resolutions []Resolution
	resolutions = append(resolutions, resolve(deps, depInfos, false)...)
	resolutions = append(resolutions, resolve(payloads, payloadInfos, true)...)

	var unresolved []error
	for _, res := range resolutions {
		if res.Err == nil {
			continue
		}
		if res.Payload || r.mode == Strict {
			unresolved = append(unresolved, res.Err)
			continue
		}
		r.logger.Warn("dropping unresolved dependency", "session_id", sessionID, "name", res.Name)
	}
	if len(unresolved) > 0 {
		return Result{}, errors.Join(unresolved...)
	}

	for i := range out {
		n := &out[i]
		for _, c := range n.DataDependenciesContent {
			if info, ok := depInfos[c.Name]; ok {
				n.DataDependencies = append(n.DataDependencies, info)
			}
		}
		n.DataDependenciesContent = nil

		if payloadNames[i] != "" {
			info := payloadInfos[payloadNames[i]]
			n.Payload = &info
			n.PayloadContent = nil
		}
	}

	return Result{Nodes: out, Resolutions: resolutions}, nil
}

// create sends every pending entry of b in one call and indexes the answer by name
func (r *Resolver) create(ctx context.Context, sessionID string, b *batch) (map[string]models.BlobInfo, error) {
	if len(b.contents) == 0 {
		return nil, nil
	}

	infos, err := r.creator.CreateBlobsWithContent(ctx, sessionID, b.contents)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("created pending blobs", "session_id", sessionID, "kind", b.kind, "count", len(infos))

	byName := make(map[string]models.BlobInfo, len(infos))
	for _, info := range infos {
		if info.Pending() {
			continue
		}
		byName[info.Name] = info
	}
	return byName, nil
}

func resolve(b *batch, created map[string]models.BlobInfo, payload bool) []Resolution {
	out := make([]Resolution, 0, len(b.contents))
	for _, c := range b.contents {
		res := Resolution{Name: c.Name, Payload: payload}
		if info, ok := created[c.Name]; ok {
			res.Info = info
		} else {
			res.Err = taskerrors.UnresolvedReference(component, "Resolve", "%s %q was not created", b.kind, c.Name)
		}
		out = append(out, res)
	}
	return out
}

func payloadName(n models.TaskNode, index int) (string, error) {
	if n.PayloadContent == nil {
		return "", taskerrors.InvalidArgument(component, "Resolve", "task %d has neither a payload id nor payload content", index)
	}
	if n.PayloadContent.Name != "" {
		return n.PayloadContent.Name, nil
	}
	if n.Payload != nil && n.Payload.Name != "" {
		return n.Payload.Name, nil
	}
	return uuid.NewString(), nil
}

// batch is the deduplicated union of pending entries of one kind
type batch struct {
	kind     string
	contents []models.BlobContent
	seen     map[string][]byte
}

func newBatch(kind string) *batch {
	return &batch{kind: kind, seen: map[string][]byte{}}
}

func (b *batch) add(name string, data []byte) error {
	if name == "" {
		return taskerrors.InvalidArgument(component, "Resolve", "%s content needs a name", b.kind)
	}
	if prev, ok := b.seen[name]; ok {
		if !bytes.Equal(prev, data) {
			return taskerrors.InvalidArgument(component, "Resolve", "%s %q is given twice with different content", b.kind, name)
		}
		return nil
	}
	b.seen[name] = data
	b.contents = append(b.contents, models.BlobContent{Name: name, Data: data})
	return nil
}
