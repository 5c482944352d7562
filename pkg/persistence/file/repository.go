package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"
)

func nowUTC() time.Time { return time.Now().UTC() }

// repository stores one record kind as JSON documents in a subdirectory,
// keyed by a sanitized identifier.
type repository[T any] struct {
	dir string
}

func newRepository[T any](root, kind string) *repository[T] {
	return &repository[T]{dir: path.Join(root, kind)}
}

func (r *repository[T]) All(_ context.Context) ([]*T, error) {
	entries, err := fs.Glob(os.DirFS(r.dir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", r.dir, err)
	}

	records := make([]*T, 0, len(entries))

	for _, entry := range entries {
		record, err := r.read(path.Join(r.dir, entry))
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, nil
}

func (r *repository[T]) Get(_ context.Context, key string) (*T, error) {
	return r.read(r.recordPath(key))
}

func (r *repository[T]) Save(_ context.Context, key string, record *T) error {
	if err := os.MkdirAll(r.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", r.dir, err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}

	return os.WriteFile(r.recordPath(key), data, 0o600)
}

// Delete removes a record. Deleting an absent record is not an error.
func (r *repository[T]) Delete(_ context.Context, key string) error {
	err := os.Remove(r.recordPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	return nil
}

func (r *repository[T]) read(filePath string) (*T, error) {
	body, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	var record T
	if err := json.Unmarshal(body, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", filePath, err)
	}

	return &record, nil
}

func (r *repository[T]) recordPath(key string) string {
	// Keys become file names, so path separators are flattened.
	safe := filepath.Base(filepath.Clean(key))

	return path.Join(r.dir, safe+".json")
}
