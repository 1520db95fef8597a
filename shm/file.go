package shm

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileStore keeps one memory-mapped file per identifier in a directory.
// Processes that open a FileStore on the same directory share state.
type FileStore struct {
	dir string

	mu      sync.Mutex
	regions map[*fileRegion]struct{}
	closed  bool
}

// NewFileStore opens a store rooted at dir, creating the directory if
// needed. An empty dir selects DefaultDir.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, unavailable(dir, "mkdir", err)
	}
	return &FileStore{
		dir:     dir,
		regions: make(map[*fileRegion]struct{}),
	}, nil
}

// Dir returns the state directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// Open attaches to the region for id, creating it if absent.
func (s *FileStore) Open(id string, sizing Sizing) (Region, error) {
	return s.open(id, &sizing)
}

// Attach attaches to an existing region. Returns ErrNotFound if absent.
func (s *FileStore) Attach(id string) (Region, error) {
	return s.open(id, nil)
}

func (s *FileStore) open(id string, sizing *Sizing) (Region, error) {
	if err := ValidateIdentifier(id); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, ErrClosed
	}

	r, err := openFileRegion(s.path(id), id, sizing)
	if err != nil {
		return nil, err
	}
	r.store = s

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = r.release()
		return nil, ErrClosed
	}
	s.regions[r] = struct{}{}
	return r, nil
}

// Destroy marks the region destroyed and removes its file. Handles still
// open in any process observe ErrDestroyed on their next WithLock.
func (s *FileStore) Destroy(id string) error {
	if err := ValidateIdentifier(id); err != nil {
		return err
	}
	return destroyFile(s.path(id), id)
}

// List returns the identifiers that currently have state, sorted. Files
// that are not readable regions are skipped.
func (s *FileStore) List() ([]string, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, unavailable(s.dir, "list", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), regionExt) {
			continue
		}
		id, ok := readFileIdentifier(filepath.Join(s.dir, e.Name()))
		if ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes every region handle opened through the store.
func (s *FileStore) Close() error {
	s.mu.Lock()
	s.closed = true
	open := make([]*fileRegion, 0, len(s.regions))
	for r := range s.regions {
		open = append(open, r)
	}
	s.regions = make(map[*fileRegion]struct{})
	s.mu.Unlock()

	var errs []error
	for _, r := range open {
		if err := r.release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, FileName(id))
}

func (s *FileStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *FileStore) forget(r *fileRegion) {
	s.mu.Lock()
	delete(s.regions, r)
	s.mu.Unlock()
}

var _ Store = (*FileStore)(nil)
