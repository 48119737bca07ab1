// Package content stores the bytes of results, keyed by result id.
package content

import (
	"context"
	"errors"
)

// ErrNotFound is returned for a result without stored data
var ErrNotFound = errors.New("content not found")

// Store holds result data. Implementations must be safe for concurrent use.
type Store interface {
	// Put replaces the data of id
	Put(ctx context.Context, id string, data []byte) error
	// Append adds data to id, creating it when missing
	Append(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, ids ...string) error
}
