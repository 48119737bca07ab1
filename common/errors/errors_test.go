package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError_MatchesSentinel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{"invalid configuration", InvalidConfiguration("Chunker", "Chunk", "max chunk size %d", 0), ErrInvalidConfiguration, KindInvalidConfiguration},
		{"invalid argument", InvalidArgument("Submitter", "SubmitTasks", "expected outputs cannot be empty"), ErrInvalidArgument, KindInvalidArgument},
		{"unresolved reference", UnresolvedReference("Resolver", "Resolve", "blob %q", "a"), ErrUnresolvedReference, KindUnresolvedReference},
		{"remote", Remote(errors.New("connection reset"), "Store", "CreateBlob"), ErrRemoteCallFailure, KindRemoteCallFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestRemote_PreservesOriginalMessageAndChain(t *testing.T) {
	original := errors.New("result not found: r-1")
	err := Remote(fmt.Errorf("download: %w", original), "Store", "DownloadBlob")

	assert.Contains(t, err.Error(), "result not found: r-1")
	assert.ErrorIs(t, err, original)
	assert.NotErrorIs(t, err, ErrCancellationRequested)
}

func TestRemote_ContextErrorsAreCancellation(t *testing.T) {
	err := Remote(context.Canceled, "Store", "UploadBlobChunks")
	assert.ErrorIs(t, err, ErrCancellationRequested)
	assert.ErrorIs(t, err, context.Canceled)

	err = Remote(fmt.Errorf("send: %w", context.DeadlineExceeded), "Store", "UploadBlobChunks")
	assert.ErrorIs(t, err, ErrCancellationRequested)
}

func TestRemote_KeepsExistingClassification(t *testing.T) {
	inner := InvalidArgument("Resolver", "Resolve", "bad")
	err := Remote(inner, "Submitter", "SubmitTasks")
	assert.Same(t, inner, err)
	assert.Nil(t, Remote(nil, "x", "y"))
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, Cancelled(ctx, "Store", "CreateBlob"))

	cancel()
	err := Cancelled(ctx, "Store", "CreateBlob")
	assert.ErrorIs(t, err, ErrCancellationRequested)
	assert.Equal(t, "cancellation_requested", KindOf(err).String())
}
