package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"photoflow/internal/domain"
)

// fileStore is the simple key-value fallback: the whole action set as one
// JSON document, written atomically via rename.
type fileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a JSON-file backed store at path. The parent directory
// is created on first save.
func NewFileStore(path string) Store { return &fileStore{path: path} }

func (f *fileStore) Save(_ context.Context, actions []domain.Action) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(f.path), 0o750); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	data, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("marshal action set: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write action set: %w", err)
	}
	return os.Rename(tmp, f.path)
}

func (f *fileStore) Load(_ context.Context) ([]domain.Action, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read action set: %w", err)
	}
	var actions []domain.Action
	if err := json.Unmarshal(data, &actions); err != nil {
		return nil, fmt.Errorf("unmarshal action set: %w", err)
	}
	return actions, nil
}

func (f *fileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
