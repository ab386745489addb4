// Package memstore is an in-memory entitlements backend for tests and the
// sandbox.
package memstore

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/rcourtman/buttonclicker/internal/entitlements"
)

// ErrCommitRejected is returned by commits while failures are injected.
var ErrCommitRejected = errors.New("memstore: commit rejected")

var _ entitlements.Opener = (*Store)(nil)

// Store keeps committed values per user.
type Store struct {
	mu      sync.Mutex
	users   map[string]map[string]string
	failing bool
	commits int
}

// New creates an empty store.
func New() *Store {
	return &Store{users: make(map[string]map[string]string)}
}

// Open returns a staged view over the user's committed values.
func (s *Store) Open(_ context.Context, userID string) (entitlements.Store, error) {
	s.mu.Lock()
	values := maps.Clone(s.users[userID])
	s.mu.Unlock()
	return entitlements.NewStaged(values, func(_ context.Context, changes map[string]string) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failing {
			return ErrCommitRejected
		}
		if s.users[userID] == nil {
			s.users[userID] = make(map[string]string)
		}
		maps.Copy(s.users[userID], changes)
		s.commits++
		return nil
	}), nil
}

// Seed replaces a user's committed values.
func (s *Store) Seed(userID string, values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = maps.Clone(values)
}

// Values returns a copy of a user's committed values.
func (s *Store) Values(userID string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.users[userID])
}

// SetFailing makes subsequent commits fail until reset.
func (s *Store) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

// Commits returns the number of successful commits.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}
