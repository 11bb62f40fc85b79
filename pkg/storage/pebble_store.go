package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// Reader is the read side shared by PebbleStore and MemStore.
type Reader interface {
	// Get decodes the value at key into v. Returns false if the key doesn't exist.
	Get(key []byte, v any) (bool, error)
	// Scan calls fn for every key with the given prefix, in key order.
	Scan(prefix []byte, fn func(key, value []byte) error) error
}

// Writer receives the writes of one committed call.
type Writer interface {
	Put(key []byte, v any) error
	Delete(key []byte) error
}

// WriteBatch is a Writer whose writes become visible together on Commit.
type WriteBatch interface {
	Writer
	Commit() error
	Close() error
}

// KV is a store that can hand out atomic write batches.
type KV interface {
	Reader
	NewWriteBatch() WriteBatch
	Close() error
}

type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens (or creates) a Pebble database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) Get(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()

	if err := decode(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *PebbleStore) Scan(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (s *PebbleStore) NewWriteBatch() WriteBatch {
	return &pebbleBatch{batch: s.db.NewBatch()}
}

// pebbleBatch provides atomic batch writes for one committed call
type pebbleBatch struct {
	batch *pebble.Batch
}

func (b *pebbleBatch) Put(key []byte, v any) error {
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return b.batch.Set(key, data, nil)
}

func (b *pebbleBatch) Delete(key []byte) error {
	return b.batch.Delete(key, nil)
}

func (b *pebbleBatch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

func (b *pebbleBatch) Close() error {
	return b.batch.Close()
}

var (
	_ KV         = (*PebbleStore)(nil)
	_ WriteBatch = (*pebbleBatch)(nil)
)
