// Package chunk splits keyed byte buffers into size-bounded groups for streaming upload.
//
// A group is a slice of pairs whose combined data length never exceeds the
// configured maximum. Consecutive small buffers share a group; a buffer larger
// than the remaining room is split across groups, every piece keeping its key.
// Pieces of one key always appear in input order.
package chunk

import (
	"context"
	"iter"

	taskerrors "github.com/lyzr/taskplane/common/errors"
)

// Pair associates a buffer with the identity it belongs to
type Pair[K any] struct {
	Key  K
	Data []byte
}

// Chunk groups eagerly available pairs. The returned sequence is lazy and can be
// ranged more than once since it only reads pairs.
//
// Empty input yields no group. A zero-length buffer is kept as a zero-length
// piece so its key still reaches the receiver.
func Chunk[K any](pairs []Pair[K], maxChunkSize int) (iter.Seq[[]Pair[K]], error) {
	if err := validate(maxChunkSize, "Chunk"); err != nil {
		return nil, err
	}

	return func(yield func([]Pair[K]) bool) {
		g := &grouper[K]{max: maxChunkSize}
		for _, p := range pairs {
			if !g.add(p, yield) {
				return
			}
		}
		g.flush(yield)
	}, nil
}

// Stream groups pairs received from src as they arrive. The next pair is only
// read after the consumer has taken the previous full group, so a slow sender
// holds back the producer. The sequence consumes src and is not restartable.
//
// Cancellation of ctx yields a CancellationRequested error and stops reading.
func Stream[K any](ctx context.Context, src <-chan Pair[K], maxChunkSize int) (iter.Seq2[[]Pair[K], error], error) {
	if err := validate(maxChunkSize, "Stream"); err != nil {
		return nil, err
	}

	return func(yield func([]Pair[K], error) bool) {
		g := &grouper[K]{max: maxChunkSize}
		emit := func(group []Pair[K]) bool { return yield(group, nil) }

		for {
			select {
			case <-ctx.Done():
				yield(nil, taskerrors.Cancelled(ctx, "chunk", "Stream"))
				return
			case p, ok := <-src:
				if !ok {
					g.flush(emit)
					return
				}
				if !g.add(p, emit) {
					return
				}
			}
		}
	}, nil
}

// Split cuts one buffer into pieces of at most maxChunkSize bytes
func Split(data []byte, maxChunkSize int) ([][]byte, error) {
	if err := validate(maxChunkSize, "Split"); err != nil {
		return nil, err
	}

	pieces := make([][]byte, 0, (len(data)+maxChunkSize-1)/maxChunkSize)
	for len(data) > 0 {
		n := min(maxChunkSize, len(data))
		pieces = append(pieces, data[:n:n])
		data = data[n:]
	}
	return pieces, nil
}

func validate(maxChunkSize int, op string) error {
	if maxChunkSize <= 0 {
		return taskerrors.InvalidConfiguration("chunk", op, "max chunk size must be positive, got %d", maxChunkSize)
	}
	return nil
}

// grouper accumulates pieces until a group is full
type grouper[K any] struct {
	max   int
	group []Pair[K]
	size  int
}

// add appends p, emitting each group that reaches max. Returns false once the consumer stops.
func (g *grouper[K]) add(p Pair[K], yield func([]Pair[K]) bool) bool {
	data := p.Data
	if len(data) == 0 {
		g.group = append(g.group, Pair[K]{Key: p.Key, Data: data})
		return true
	}

	for len(data) > 0 {
		n := min(g.max-g.size, len(data))
		g.group = append(g.group, Pair[K]{Key: p.Key, Data: data[:n:n]})
		g.size += n
		data = data[n:]

		if g.size == g.max && !g.emit(yield) {
			return false
		}
	}
	return true
}

func (g *grouper[K]) emit(yield func([]Pair[K]) bool) bool {
	group := g.group
	g.group = nil
	g.size = 0
	return yield(group)
}

// flush emits the partial group, if any
func (g *grouper[K]) flush(yield func([]Pair[K]) bool) {
	if len(g.group) > 0 {
		g.emit(yield)
	}
}
