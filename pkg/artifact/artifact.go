// Package artifact is the durable tier of the object store: named,
// namespace-scoped containers of files persisted on disk, surviving
// executor sessions and process restarts.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"
)

const metadataFilename = ".artifact.json"

var (
	ErrNotFound = errors.New("artifact not found")
	// ErrUncommitted is returned when an artifact exists on disk but its
	// write session never committed. Readers treat it as absent.
	ErrUncommitted = errors.New("artifact is not committed")
	ErrSessionDone = errors.New("write session already finished")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Metadata is stored alongside the artifact's files. Committed flips to
// true only when a write session commits; a false value marks a partial
// write left behind by a failed session.
type Metadata struct {
	UID         string            `json:"uid"`
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	ValueType   string            `json:"value_type,omitempty"`
	Serializer  string            `json:"serializer,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Files       []string          `json:"files"`
	Committed   bool              `json:"committed"`
	CreatedAt   time.Time         `json:"created_at"`
	CommittedAt *time.Time        `json:"committed_at,omitempty"`
}

// Store manages artifacts under a base directory, one subdirectory per
// (namespace, name) pair.
type Store struct {
	base string
}

func NewStore(base string) (*Store, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create artifact base directory: %w", err)
	}

	return &Store{base: base}, nil
}

func (s *Store) path(namespace, name string) string {
	return filepath.Join(s.base, namespace, name)
}

func validateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("artifact name %q may only contain alphanumerics, underscores and hyphens", name)
	}

	return nil
}

// Get opens a committed artifact for reading. Uncommitted leftovers from a
// failed session are reported as ErrUncommitted so callers can ignore them.
func (s *Store) Get(namespace, name string) (*Artifact, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	meta, err := readMetadata(s.path(namespace, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, namespace, name)
	}

	if err != nil {
		return nil, err
	}

	if !meta.Committed {
		return nil, fmt.Errorf("%w: %s/%s", ErrUncommitted, namespace, name)
	}

	return &Artifact{store: s, meta: meta}, nil
}

// Exists reports whether a committed artifact is present.
func (s *Store) Exists(namespace, name string) bool {
	_, err := s.Get(namespace, name)

	return err == nil
}

// Delete removes an artifact. Idempotent: deleting an absent artifact
// succeeds.
func (s *Store) Delete(namespace, name string) error {
	if err := validateName(name); err != nil {
		return err
	}

	return os.RemoveAll(s.path(namespace, name))
}

// List returns the names of committed artifacts in the namespace.
func (s *Store) List(namespace string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.base, namespace))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	var names []string

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		meta, err := readMetadata(s.path(namespace, entry.Name()))
		if err != nil || !meta.Committed {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	return names, nil
}

// Clear removes every artifact in the namespace, committed or not.
func (s *Store) Clear(namespace string) error {
	return os.RemoveAll(filepath.Join(s.base, namespace))
}

func readMetadata(dir string) (*Metadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFilename))
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt artifact metadata in %s: %w", dir, err)
	}

	return &meta, nil
}

func writeMetadata(dir string, meta *Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}

	tmp := filepath.Join(dir, metadataFilename+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmp, filepath.Join(dir, metadataFilename))
}

// Artifact is a read handle on a committed artifact.
type Artifact struct {
	store *Store
	meta  *Metadata
}

func (a *Artifact) Name() string      { return a.meta.Name }
func (a *Artifact) Namespace() string { return a.meta.Namespace }
func (a *Artifact) Metadata() Metadata {
	return *a.meta
}

// ReadFile returns the content of a file inside the artifact.
func (a *Artifact) ReadFile(filename string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(a.store.path(a.meta.Namespace, a.meta.Name), filename))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("artifact %s/%s has no file %q: %w",
			a.meta.Namespace, a.meta.Name, filename, ErrNotFound)
	}

	return data, err
}

// NewWriteSession starts a scoped write. The session batches file writes
// and metadata updates; nothing becomes visible to readers until Commit
// finalizes the metadata. A session that is abandoned (or whose process
// dies) leaves its files flagged uncommitted, which readers skip. This is
// best-effort atomicity bounded by what the filesystem guarantees, not ACID.
func (s *Store) NewWriteSession(namespace, name string) (*WriteSession, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	dir := s.path(namespace, name)

	// Last-writer-wins: a new session replaces whatever was there.
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	meta := &Metadata{
		UID:        uuid.New().String(),
		Name:       name,
		Namespace:  namespace,
		Attributes: make(map[string]string),
		Committed:  false,
		CreatedAt:  time.Now().UTC(),
	}

	if err := writeMetadata(dir, meta); err != nil {
		return nil, err
	}

	return &WriteSession{store: s, dir: dir, meta: meta}, nil
}

// WriteSession accumulates file writes for one artifact and exposes an
// explicit Commit.
type WriteSession struct {
	store *Store
	dir   string
	meta  *Metadata
	done  bool
}

func (w *WriteSession) WriteFile(filename string, data []byte) error {
	if w.done {
		return ErrSessionDone
	}

	if filename == metadataFilename {
		return fmt.Errorf("%q is reserved", metadataFilename)
	}

	if err := os.WriteFile(filepath.Join(w.dir, filename), data, 0o644); err != nil {
		return err
	}

	for _, existing := range w.meta.Files {
		if existing == filename {
			return nil
		}
	}

	w.meta.Files = append(w.meta.Files, filename)

	return nil
}

func (w *WriteSession) SetValueType(valueType string)   { w.meta.ValueType = valueType }
func (w *WriteSession) SetSerializer(serializer string) { w.meta.Serializer = serializer }

func (w *WriteSession) SetAttribute(key, value string) {
	w.meta.Attributes[key] = value
}

// Commit flushes the metadata with Committed set, making the artifact
// visible to readers.
func (w *WriteSession) Commit() error {
	if w.done {
		return ErrSessionDone
	}

	now := time.Now().UTC()
	w.meta.Committed = true
	w.meta.CommittedAt = &now

	if err := writeMetadata(w.dir, w.meta); err != nil {
		return err
	}

	w.done = true

	return nil
}

// Abandon marks the session finished without committing. The partial files
// stay on disk flagged uncommitted; readers ignore them and a later
// session for the same name replaces them.
func (w *WriteSession) Abandon() {
	w.done = true
}
