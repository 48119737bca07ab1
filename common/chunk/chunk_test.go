package chunk

import (
	"bytes"
	"context"
	"testing"

	taskerrors "github.com/lyzr/taskplane/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect[K any](t *testing.T, pairs []Pair[K], max int) [][]Pair[K] {
	t.Helper()
	seq, err := Chunk(pairs, max)
	require.NoError(t, err)

	var groups [][]Pair[K]
	for g := range seq {
		groups = append(groups, g)
	}
	return groups
}

func groupSize[K any](g []Pair[K]) int {
	n := 0
	for _, p := range g {
		n += len(p.Data)
	}
	return n
}

func filled(n int, b byte) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestChunk_SizeInvariantAndReassembly(t *testing.T) {
	inputs := [][]int{
		{1},
		{5, 3, 9},
		{100},
		{7, 0, 7},
		{16, 16, 16},
		{3, 3, 3, 3, 3, 3, 3},
	}
	maxSizes := []int{1, 2, 4, 7, 16, 64}

	for _, sizes := range inputs {
		for _, max := range maxSizes {
			pairs := make([]Pair[string], len(sizes))
			want := map[string][]byte{}
			for i, n := range sizes {
				key := string(rune('a' + i))
				pairs[i] = Pair[string]{Key: key, Data: filled(n, byte(i+1))}
				want[key] = pairs[i].Data
			}

			got := map[string][]byte{}
			var order []string
			for _, g := range collect(t, pairs, max) {
				assert.LessOrEqual(t, groupSize(g), max, "sizes=%v max=%d", sizes, max)
				for _, p := range g {
					if len(order) == 0 || order[len(order)-1] != p.Key {
						order = append(order, p.Key)
					}
					got[p.Key] = append(got[p.Key], p.Data...)
				}
			}

			for key, data := range want {
				assert.Equal(t, len(data), len(got[key]), "key %s sizes=%v max=%d", key, sizes, max)
				assert.True(t, bytes.Equal(data, got[key]))
			}
			assert.Len(t, order, len(sizes), "keys must appear contiguously and in input order")
		}
	}
}

func TestChunk_ExactMultipleHasNoTrailingEmptyGroup(t *testing.T) {
	groups := collect(t, []Pair[string]{{Key: "r", Data: filled(12, 1)}}, 4)
	assert.Len(t, groups, 3)
	for _, g := range groups {
		assert.Equal(t, 4, groupSize(g))
	}
}

func TestChunk_EmptyInputYieldsNothing(t *testing.T) {
	assert.Empty(t, collect[string](t, nil, 8))
	assert.Empty(t, collect(t, []Pair[string]{}, 8))
}

func TestChunk_ZeroLengthBufferKeepsItsKey(t *testing.T) {
	groups := collect(t, []Pair[string]{{Key: "empty", Data: nil}}, 8)
	require.Len(t, groups, 1)
	require.Len(t, groups[0], 1)
	assert.Equal(t, "empty", groups[0][0].Key)
	assert.Empty(t, groups[0][0].Data)
}

func TestChunk_SmallBuffersShareGroup(t *testing.T) {
	groups := collect(t, []Pair[string]{
		{Key: "a", Data: filled(2, 1)},
		{Key: "b", Data: filled(2, 2)},
		{Key: "c", Data: filled(3, 3)},
	}, 4)

	require.Len(t, groups, 2)
	require.Len(t, groups[0], 2)
	assert.Equal(t, []string{"a", "b"}, []string{groups[0][0].Key, groups[0][1].Key})
	require.Len(t, groups[1], 1)
	assert.Equal(t, "c", groups[1][0].Key)
	assert.Len(t, groups[1][0].Data, 3)
}

func TestChunk_InvalidMaxSize(t *testing.T) {
	for _, max := range []int{0, -1} {
		_, err := Chunk([]Pair[string]{{Key: "a", Data: []byte("x")}}, max)
		assert.ErrorIs(t, err, taskerrors.ErrInvalidConfiguration)

		_, err = Stream(context.Background(), make(chan Pair[string]), max)
		assert.ErrorIs(t, err, taskerrors.ErrInvalidConfiguration)

		_, err = Split([]byte("x"), max)
		assert.ErrorIs(t, err, taskerrors.ErrInvalidConfiguration)
	}
}

func TestChunk_EarlyBreakStopsIteration(t *testing.T) {
	seq, err := Chunk([]Pair[int]{{Key: 1, Data: filled(100, 1)}}, 10)
	require.NoError(t, err)

	count := 0
	for range seq {
		count++
		if count == 2 {
			break
		}
	}
	assert.Equal(t, 2, count)
}

func TestStream_GroupsIncrementally(t *testing.T) {
	src := make(chan Pair[string])
	seq, err := Stream(context.Background(), src, 4)
	require.NoError(t, err)

	go func() {
		defer close(src)
		src <- Pair[string]{Key: "r", Data: filled(3, 1)}
		src <- Pair[string]{Key: "r", Data: filled(3, 2)}
		src <- Pair[string]{Key: "r", Data: filled(2, 3)}
	}()

	var total []byte
	var sizes []int
	for g, err := range seq {
		require.NoError(t, err)
		sizes = append(sizes, groupSize(g))
		for _, p := range g {
			total = append(total, p.Data...)
		}
	}

	assert.Equal(t, []int{4, 4}, sizes)
	assert.Equal(t, append(append(filled(3, 1), filled(3, 2)...), filled(2, 3)...), total)
}

func TestStream_EmptySource(t *testing.T) {
	src := make(chan Pair[string])
	close(src)
	seq, err := Stream(context.Background(), src, 4)
	require.NoError(t, err)

	for range seq {
		t.Fatal("no group expected")
	}
}

func TestStream_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := make(chan Pair[string])
	seq, err := Stream(ctx, src, 4)
	require.NoError(t, err)

	cancel()
	var gotErr error
	for _, err := range seq {
		gotErr = err
	}
	assert.ErrorIs(t, gotErr, taskerrors.ErrCancellationRequested)
}

func TestSplit(t *testing.T) {
	pieces, err := Split(filled(10, 1), 4)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 4, 2}, []int{len(pieces[0]), len(pieces[1]), len(pieces[2])})

	pieces, err = Split(nil, 4)
	require.NoError(t, err)
	assert.Empty(t, pieces)

	pieces, err = Split(filled(8, 1), 4)
	require.NoError(t, err)
	assert.Len(t, pieces, 2)
}
