package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// EventLog is an append-only journal of committed marketplace events.
type EventLog interface {
	Append(v any) error
	Close() error
}

type NopEventLog struct{}

func NewNopEventLog() *NopEventLog     { return &NopEventLog{} }
func (NopEventLog) Append(_ any) error { return nil }
func (NopEventLog) Close() error       { return nil }

// FileEventLog writes one JSON object per line.
type FileEventLog struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileEventLog(path string) (*FileEventLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileEventLog{f: f}, nil
}

func (w *FileEventLog) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (w *FileEventLog) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// ReadEventLog calls fn with each line of the journal at path, oldest first.
func ReadEventLog(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		if err := fn(sc.Bytes()); err != nil {
			return err
		}
	}
	return sc.Err()
}

var _ EventLog = (*NopEventLog)(nil)
var _ EventLog = (*FileEventLog)(nil)
