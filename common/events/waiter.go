// Package events waits for results to complete using control plane events.
package events

import (
	"context"

	"github.com/lyzr/taskplane/common/clients"
	taskerrors "github.com/lyzr/taskplane/common/errors"
	"github.com/lyzr/taskplane/common/models"
)

// StateGetter reads the current state of a blob. *blobs.Store implements it.
type StateGetter interface {
	GetBlobState(ctx context.Context, info models.BlobInfo) (models.BlobState, error)
}

// Waiter blocks until results reach a terminal status
type Waiter struct {
	events clients.EventsClient
	states StateGetter
	logger clients.Logger
}

// NewWaiter creates a waiter
func NewWaiter(events clients.EventsClient, states StateGetter, logger clients.Logger) *Waiter {
	return &Waiter{
		events: events,
		states: states,
		logger: logger,
	}
}

// WaitForBlobs returns once every id is completed. An aborted or deleted result
// fails the wait with RemoteCallFailure naming it.
//
// The subscription is opened before current states are read so a completion
// between the two is not missed.
func (w *Waiter) WaitForBlobs(ctx context.Context, sessionID string, ids []string) error {
	if sessionID == "" {
		return taskerrors.UnresolvedReference("events", "WaitForBlobs", "no session id")
	}

	pending := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" {
			return taskerrors.UnresolvedReference("events", "WaitForBlobs", "empty result id")
		}
		pending[id] = true
	}
	if len(pending) == 0 {
		return nil
	}

	stream, err := w.events.Subscribe(ctx, sessionID)
	if err != nil {
		return taskerrors.Remote(err, "events", "WaitForBlobs")
	}
	defer stream.Close()

	for id := range pending {
		state, err := w.states.GetBlobState(ctx, models.BlobInfo{ID: id, SessionID: sessionID})
		if err != nil {
			return err
		}
		if err := w.settle(pending, id, state.Status); err != nil {
			return err
		}
	}

	for len(pending) > 0 {
		event, err := stream.Recv()
		if err != nil {
			if cerr := taskerrors.Cancelled(ctx, "events", "WaitForBlobs"); cerr != nil {
				return cerr
			}
			return taskerrors.Remote(err, "events", "WaitForBlobs")
		}
		if event.Type != models.EventResultStatusUpdate || !pending[event.BlobID] {
			continue
		}
		if err := w.settle(pending, event.BlobID, event.Status); err != nil {
			return err
		}
	}

	w.logger.Debug("results completed", "session_id", sessionID, "count", len(ids))
	return nil
}

func (w *Waiter) settle(pending map[string]bool, id string, status models.BlobStatus) error {
	switch {
	case status.IsSuccess():
		delete(pending, id)
	case status.IsFailure():
		return &taskerrors.ClassifiedError{
			Kind:      taskerrors.KindRemoteCallFailure,
			Err:       &resultFailed{id: id, status: status},
			Component: "events",
			Operation: "WaitForBlobs",
		}
	}
	return nil
}

type resultFailed struct {
	id     string
	status models.BlobStatus
}

func (e *resultFailed) Error() string {
	return "result " + e.id + " is " + e.status.String()
}
