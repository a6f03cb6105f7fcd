package kv

import (
	"context"
)

// Entry is one observed key/value state, either from a read or a watch
// notification.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
	Deleted  bool
}

// IStore is a versioned key/value bucket with optimistic concurrency. Get
// returns pkg/error.NotFoundError for missing keys; Update must return
// pkg/optimistic.ErrConflict (possibly wrapped) when the revision is stale.
type IStore interface {
	Get(ctx context.Context, key string) (value []byte, revision uint64, err error)
	Create(ctx context.Context, key string, value []byte) error
	Update(ctx context.Context, key string, value []byte, revision uint64) error
	Keys(ctx context.Context) ([]string, error)
	Watch(ctx context.Context, pattern string) (<-chan Entry, error)
}
