package content

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Get(ctx, "r-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Append(ctx, "r-1", []byte("ab")))
	require.NoError(t, s.Append(ctx, "r-1", []byte("cd")))
	data, err := s.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)

	require.NoError(t, s.Put(ctx, "r-1", []byte("x")))
	data, err = s.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)

	// returned slices are copies
	data[0] = 'y'
	again, _ := s.Get(ctx, "r-1")
	assert.Equal(t, []byte("x"), again)

	require.NoError(t, s.Put(ctx, "empty", nil))
	data, err = s.Get(ctx, "empty")
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, s.Delete(ctx, "r-1", "empty"))
	_, err = s.Get(ctx, "r-1")
	assert.ErrorIs(t, err, ErrNotFound)
}
