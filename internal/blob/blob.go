// Package blob stores opaque backup payloads under string keys.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete for keys that do not exist.
var ErrNotFound = errors.New("blob not found")

// Store is a flat key/value object store.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
