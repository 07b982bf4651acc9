// Package memstore is an in-memory storage.Backend.
package memstore

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/c360/vatdata/errors"
	"github.com/c360/vatdata/storage"
)

// Store keeps every key in a map guarded by a mutex. Apply is atomic.
type Store struct {
	mu       sync.RWMutex
	data     map[string]string
	applyErr error
	closed   bool
}

var _ storage.Backend = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]string)}
}

// Get implements storage.Backend.
func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, errors.WrapTransient(errors.ErrStorageUnavailable, "memstore", "Get", "store closed")
	}
	value, ok := s.data[key]
	return value, ok, nil
}

// Apply implements storage.Backend.
func (s *Store) Apply(_ context.Context, batch []storage.Write) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.WrapTransient(errors.ErrStorageUnavailable, "memstore", "Apply", "store closed")
	}
	if s.applyErr != nil {
		err := s.applyErr
		s.applyErr = nil
		return err
	}
	for _, w := range batch {
		if w.Delete {
			delete(s.data, w.Key)
		} else {
			s.data[w.Key] = w.Value
		}
	}
	return nil
}

// List implements storage.Backend.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements storage.Backend. Data stays readable through Snapshot.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Reopen clears the closed flag so a test can simulate a process restart
// over the same durable data.
func (s *Store) Reopen() *Store {
	s.mu.Lock()
	s.closed = false
	s.mu.Unlock()
	return s
}

// FailNextApply makes the next Apply return err without writing anything.
func (s *Store) FailNextApply(err error) {
	s.mu.Lock()
	s.applyErr = err
	s.mu.Unlock()
}

// Snapshot returns a copy of the committed contents.
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.data)
}

// Len returns the number of committed keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
