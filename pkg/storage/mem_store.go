package storage

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
)

// MemStore is a map-backed KV used by tests and ephemeral devnet nodes.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (s *MemStore) Close() error { return nil }

func (s *MemStore) Get(key []byte, v any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.data[string(key)]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := decode(raw, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

func (s *MemStore) Scan(prefix []byte, fn func(key, value []byte) error) error {
	s.mu.RLock()
	keys := make([]string, 0)
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = s.data[k]
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if err := fn([]byte(k), vals[i]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored keys.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemStore) NewWriteBatch() WriteBatch {
	return &memBatch{store: s}
}

type memOp struct {
	key   string
	value []byte // nil = delete
}

type memBatch struct {
	store *MemStore
	ops   []memOp
}

func (b *memBatch) Put(key []byte, v any) error {
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	b.ops = append(b.ops, memOp{key: string(key), value: data})
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.ops = append(b.ops, memOp{key: string(key)})
	return nil
}

func (b *memBatch) Commit() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, op := range b.ops {
		if op.value == nil {
			delete(b.store.data, op.key)
			continue
		}
		b.store.data[op.key] = op.value
	}
	b.ops = nil
	return nil
}

func (b *memBatch) Close() error {
	b.ops = nil
	return nil
}

var _ KV = (*MemStore)(nil)
