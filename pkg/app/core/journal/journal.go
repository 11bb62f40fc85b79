// Package journal provides an undo log and a map whose writes can be rolled back
// to a snapshot and flushed to storage on commit.
package journal

// Journal is an ordered undo log.
type Journal struct {
	undo []func()
}

func (j *Journal) Append(undo func()) {
	j.undo = append(j.undo, undo)
}

func (j *Journal) Snapshot() int {
	return len(j.undo)
}

// RevertToSnapshot runs the undo entries recorded after snap, newest first.
func (j *Journal) RevertToSnapshot(snap int) {
	for i := len(j.undo) - 1; i >= snap; i-- {
		j.undo[i]()
	}
	j.undo = j.undo[:snap]
}

func (j *Journal) Reset() {
	j.undo = j.undo[:0]
}

// Map records every write in its Journal and remembers which keys were touched
// since the last Commit.
type Map[K comparable, V any] struct {
	journal *Journal
	m       map[K]V
	dirty   map[K]struct{}
	order   []K
}

func NewMap[K comparable, V any](j *Journal) *Map[K, V] {
	return &Map[K, V]{
		journal: j,
		m:       make(map[K]V),
		dirty:   make(map[K]struct{}),
	}
}

func (m *Map[K, V]) Get(k K) (V, bool) {
	v, ok := m.m[k]
	return v, ok
}

func (m *Map[K, V]) Len() int { return len(m.m) }

func (m *Map[K, V]) Set(k K, v V) {
	m.record(k)
	m.m[k] = v
}

func (m *Map[K, V]) Delete(k K) {
	if _, ok := m.m[k]; !ok {
		return
	}
	m.record(k)
	delete(m.m, k)
}

func (m *Map[K, V]) record(k K) {
	prev, existed := m.m[k]
	m.journal.Append(func() {
		if existed {
			m.m[k] = prev
		} else {
			delete(m.m, k)
		}
	})
	if _, ok := m.dirty[k]; !ok {
		m.dirty[k] = struct{}{}
		m.order = append(m.order, k)
	}
}

// Range calls fn for every entry until fn returns false. Order is unspecified.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	for k, v := range m.m {
		if !fn(k, v) {
			return
		}
	}
}

// Flush calls fn for every key touched since the last Commit, in first-touch
// order. present is false when the key no longer exists.
func (m *Map[K, V]) Flush(fn func(k K, v V, present bool) error) error {
	for _, k := range m.order {
		v, ok := m.m[k]
		if err := fn(k, v, ok); err != nil {
			return err
		}
	}
	return nil
}

func (m *Map[K, V]) Commit() {
	m.dirty = make(map[K]struct{})
	m.order = m.order[:0]
}

// Load sets an entry without journaling it. Used when restoring from storage.
func (m *Map[K, V]) Load(k K, v V) {
	m.m[k] = v
}
