package bus

import (
	"context"
	"errors"
	"fmt"

	domainKV "github.com/AzielCF/az-cast/domains/kv"
	pkgError "github.com/AzielCF/az-cast/pkg/error"
	"github.com/AzielCF/az-cast/pkg/optimistic"
	"github.com/nats-io/nats.go/jetstream"
)

// KVStore adapts a JetStream KV bucket to the domain kv.IStore interface,
// translating the driver's error vocabulary into the one the use cases expect.
type KVStore struct {
	kv jetstream.KeyValue
}

func NewKVStore(kv jetstream.KeyValue) *KVStore {
	return &KVStore{kv: kv}
}

func (s *KVStore) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, 0, pkgError.NotFoundError(fmt.Sprintf("key not found: %s", key))
		}
		return nil, 0, err
	}
	return entry.Value(), entry.Revision(), nil
}

func (s *KVStore) Create(ctx context.Context, key string, value []byte) error {
	_, err := s.kv.Create(ctx, key, value)
	if err != nil && errors.Is(err, jetstream.ErrKeyExists) {
		return fmt.Errorf("key %s already exists: %w", key, optimistic.ErrConflict)
	}
	return err
}

func (s *KVStore) Update(ctx context.Context, key string, value []byte, revision uint64) error {
	_, err := s.kv.Update(ctx, key, value, revision)
	if err == nil {
		return nil
	}

	var apiErr *jetstream.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence {
		return fmt.Errorf("stale revision %d for key %s: %w", revision, key, optimistic.ErrConflict)
	}
	return err
}

func (s *KVStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	return keys, nil
}

// Watch streams mutations matching the key pattern. Only updates made after
// the watch starts are delivered; the channel closes when ctx is cancelled.
func (s *KVStore) Watch(ctx context.Context, pattern string) (<-chan domainKV.Entry, error) {
	watcher, err := s.kv.Watch(ctx, pattern, jetstream.UpdatesOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", pattern, err)
	}

	out := make(chan domainKV.Entry)
	go func() {
		defer close(out)
		defer watcher.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// Initial-values marker; nothing to forward with UpdatesOnly.
					continue
				}
				op := entry.Operation()
				mapped := domainKV.Entry{
					Key:      entry.Key(),
					Value:    entry.Value(),
					Revision: entry.Revision(),
					Deleted:  op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge,
				}
				select {
				case out <- mapped:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
