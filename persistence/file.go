package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultStateFile is the file name used when none is configured.
const DefaultStateFile = "system_state.json"

// envelope is the on-disk layout of a FileStore.
type envelope struct {
	Digest string          `json:"digest"`
	State  json.RawMessage `json:"state"`
}

// FileStore keeps the state in one JSON file. Writes go to a temporary file in
// the same directory which is then renamed over the target, so a crash never
// leaves a half-written state behind.
type FileStore struct {
	path   string
	logger *slog.Logger
}

func NewFileStore(path string, logger *slog.Logger) *FileStore {
	if path == "" {
		path = DefaultStateFile
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Save(state State) (Receipt, error) {
	raw, err := encodeState(state)
	if err != nil {
		return Receipt{}, err
	}
	digest, err := Digest(raw)
	if err != nil {
		return Receipt{}, err
	}
	data, err := json.MarshalIndent(envelope{Digest: digest, State: raw}, "", "  ")
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to encode state file: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Receipt{}, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp_state_*.json")
	if err != nil {
		return Receipt{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return Receipt{}, fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return Receipt{}, fmt.Errorf("failed to sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return Receipt{}, fmt.Errorf("failed to close state: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return Receipt{}, fmt.Errorf("failed to replace %s: %w", s.path, err)
	}

	s.logger.Debug("state saved", "path", s.path, "digest", digest, "bytes", len(data))
	return Receipt{Location: s.path, Digest: digest}, nil
}

func (s *FileStore) Load() (Loaded, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return Loaded{IntegrityOK: true}, nil
	}
	if err != nil {
		return Loaded{}, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Loaded{}, fmt.Errorf("failed to decode %s: %w", s.path, err)
	}
	if len(env.State) == 0 {
		return Loaded{}, fmt.Errorf("%s has no state section", s.path)
	}
	loaded, err := decodeState(env.State, env.Digest)
	if err != nil {
		return Loaded{}, err
	}
	s.logger.Debug("state loaded", "path", s.path, "integrity_ok", loaded.IntegrityOK)
	return loaded, nil
}

func (s *FileStore) Close() error {
	return nil
}
