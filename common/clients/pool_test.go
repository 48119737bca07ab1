package clients

import (
	"context"
	"errors"
	"testing"
	"time"

	taskerrors "github.com/lyzr/taskplane/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, size int) *ChannelPool {
	t.Helper()
	p, err := NewChannelPool(size, func(id int) *Channel {
		return &Channel{ID: id, BaseURL: "http://test"}
	})
	require.NoError(t, err)
	return p
}

func TestChannelPool_InvalidSize(t *testing.T) {
	_, err := NewChannelPool(0, func(int) *Channel { return &Channel{} })
	assert.ErrorIs(t, err, taskerrors.ErrInvalidConfiguration)
}

func TestChannelPool_ReleasesOnError(t *testing.T) {
	p := newTestPool(t, 1)
	boom := errors.New("boom")

	err := p.WithChannel(context.Background(), func(*Channel) error { return boom })
	assert.ErrorIs(t, err, boom)

	// the single channel must be back
	err = p.WithChannel(context.Background(), func(*Channel) error { return nil })
	assert.NoError(t, err)
}

func TestChannelPool_ReleasesOnPanic(t *testing.T) {
	p := newTestPool(t, 1)

	assert.Panics(t, func() {
		_ = p.WithChannel(context.Background(), func(*Channel) error { panic("oops") })
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, p.WithChannel(ctx, func(*Channel) error { return nil }))
}

func TestChannelPool_AcquireHonoursContext(t *testing.T) {
	p := newTestPool(t, 1)
	_, release, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = p.WithChannel(ctx, func(*Channel) error {
		t.Fatal("must not run without a channel")
		return nil
	})
	assert.ErrorIs(t, err, taskerrors.ErrCancellationRequested)
}

func TestChannelPool_ReleaseIsIdempotent(t *testing.T) {
	p := newTestPool(t, 2)
	_, release, err := p.Acquire(context.Background())
	require.NoError(t, err)

	release()
	release()
	assert.Equal(t, 2, len(p.slots))
}
