package backupio

import (
	"context"
	"io"
)

// RemoteStore is a flat key/blob store.
type RemoteStore interface {
	// Put stores body under key, replacing any previous blob.
	Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error

	// Get opens the blob stored under key. Missing keys return an error
	// wrapping common.ErrorNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}
