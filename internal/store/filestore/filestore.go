// Package filestore persists each user's entitlements as a JSON file under a
// data directory.
package filestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rcourtman/buttonclicker/internal/entitlements"
)

var _ entitlements.Opener = (*Store)(nil)

// Store keeps one entitlements file per user under baseDataDir/users.
type Store struct {
	baseDataDir string
	mu          sync.RWMutex
}

// New creates a file-backed store rooted at baseDataDir.
func New(baseDataDir string) *Store {
	return &Store{baseDataDir: baseDataDir}
}

// Open loads the user's file. A missing file is treated as "no state yet".
func (s *Store) Open(_ context.Context, userID string) (entitlements.Store, error) {
	path, err := s.userPath(userID)
	if err != nil {
		return nil, err
	}
	values, err := s.read(path, userID)
	if err != nil {
		return nil, err
	}
	return entitlements.NewStaged(values, func(_ context.Context, changes map[string]string) error {
		return s.write(path, userID, changes)
	}), nil
}

func (s *Store) read(path, userID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readFile(path, userID)
}

func readFile(path, userID string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read entitlements for user %q: %w", userID, err)
	}
	if len(data) == 0 {
		return map[string]string{}, nil
	}
	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode entitlements for user %q: %w", userID, err)
	}
	return values, nil
}

// write merges changes into the file on disk and swaps it in atomically.
func (s *Store) write(path, userID string, changes map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := readFile(path, userID)
	if err != nil {
		return err
	}
	maps.Copy(values, changes)

	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode entitlements for user %q: %w", userID, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create entitlements directory for user %q: %w", userID, err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temp entitlements for user %q: %w", userID, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit entitlements for user %q: %w", userID, err)
	}
	return nil
}

// userPath maps an opaque user id to a file name that is safe on any
// filesystem.
func (s *Store) userPath(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}
	name := base64.RawURLEncoding.EncodeToString([]byte(userID)) + ".json"
	return filepath.Join(s.resolveDataDir(), "users", name), nil
}

func (s *Store) resolveDataDir() string {
	if dir := strings.TrimSpace(s.baseDataDir); dir != "" {
		return dir
	}
	if dir := strings.TrimSpace(os.Getenv("BUTTONCLICKER_DATA_DIR")); dir != "" {
		return dir
	}
	return "."
}
