package entitlements

import (
	"context"
	"maps"
	"strconv"
	"sync"

	"github.com/rcourtman/buttonclicker/internal/catalog"
)

// FlushFunc durably writes changes on top of previously committed values.
type FlushFunc func(ctx context.Context, changes map[string]string) error

// Staged implements Store over string-encoded values. Backends supply the
// committed values and a FlushFunc; Staged handles typing and staging.
type Staged struct {
	mu        sync.Mutex
	committed map[string]string
	pending   map[string]string
	flush     FlushFunc
}

var _ Store = (*Staged)(nil)

// NewStaged wraps committed values. The map is copied.
func NewStaged(committed map[string]string, flush FlushFunc) *Staged {
	return &Staged{
		committed: maps.Clone(committed),
		pending:   make(map[string]string),
		flush:     flush,
	}
}

func (s *Staged) lookup(key catalog.Key) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.pending[string(key)]; ok {
		return v, true
	}
	v, ok := s.committed[string(key)]
	return v, ok
}

func (s *Staged) stage(key catalog.Key, value string) {
	s.mu.Lock()
	s.pending[string(key)] = value
	s.mu.Unlock()
}

// GetBool returns def when the key is missing or not a boolean.
func (s *Staged) GetBool(key catalog.Key, def bool) bool {
	raw, ok := s.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

// GetInt returns def when the key is missing or not an integer.
func (s *Staged) GetInt(key catalog.Key, def int64) int64 {
	raw, ok := s.lookup(key)
	if !ok {
		return def
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return v
}

func (s *Staged) GetString(key catalog.Key, def string) string {
	raw, ok := s.lookup(key)
	if !ok {
		return def
	}
	return raw
}

func (s *Staged) SetBool(key catalog.Key, value bool) {
	s.stage(key, strconv.FormatBool(value))
}

func (s *Staged) SetInt(key catalog.Key, value int64) {
	s.stage(key, strconv.FormatInt(value, 10))
}

func (s *Staged) SetString(key catalog.Key, value string) {
	s.stage(key, value)
}

// Commit flushes staged writes. On failure the staged writes are dropped so
// that a later Commit cannot apply them by accident.
func (s *Staged) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}
	changes := s.pending
	s.pending = make(map[string]string)
	if err := s.flush(ctx, maps.Clone(changes)); err != nil {
		return err
	}
	maps.Copy(s.committed, changes)
	return nil
}

// Snapshot returns a copy of the committed values.
func (s *Staged) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.committed)
}
