package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ashureev/calgenie/internal/domain"
)

// document is the on-disk shape: {"meetings": [...]}.
type document struct {
	Meetings []domain.Meeting `json:"meetings"`
}

// JSONFileStore keeps meetings in a single JSON document. The version token is
// a digest of the file contents, so edits made outside the process are seen
// as conflicts too.
type JSONFileStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONFileStore returns a store backed by path. The file is created on the
// first Save.
func NewJSONFileStore(path string) *JSONFileStore {
	return &JSONFileStore{path: path}
}

// Path returns the backing file path.
func (s *JSONFileStore) Path() string {
	return s.path
}

// Load reads the meeting set. A missing file is an empty set.
func (s *JSONFileStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *JSONFileStore) loadLocked() (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{Meetings: []domain.Meeting{}}, nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: read %s: %w", ErrUnavailable, s.path, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decode %s: %w", ErrUnavailable, s.path, err)
	}
	if doc.Meetings == nil {
		doc.Meetings = []domain.Meeting{}
	}
	return Snapshot{Meetings: doc.Meetings, Version: digest(data)}, nil
}

// Save atomically replaces the document if expectedVersion is current.
func (s *JSONFileStore) Save(ctx context.Context, meetings []domain.Meeting, expectedVersion string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.currentVersionLocked()
	if err != nil {
		return "", err
	}
	if current != expectedVersion {
		return "", &ConflictError{Expected: expectedVersion, Current: current}
	}

	if meetings == nil {
		meetings = []domain.Meeting{}
	}
	data, err := json.MarshalIndent(document{Meetings: meetings}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode meetings: %w", err)
	}
	data = append(data, '\n')

	if err := writeFileAtomic(s.path, data); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	slog.Info("Saved meetings", "count", len(meetings), "path", s.path)
	return digest(data), nil
}

func (s *JSONFileStore) currentVersionLocked() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrUnavailable, s.path, err)
	}
	return digest(data), nil
}

// writeFileAtomic writes to a temp file in the target directory, syncs it and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		if rmErr := os.Remove(tmpPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			slog.Warn("failed to remove temp store file", "path", tmpPath, "error", rmErr)
		}
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
