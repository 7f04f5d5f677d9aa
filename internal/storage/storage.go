// Package storage persists JSON documents on disk, keyed by path segments.
//
// A key like ["agents", "a1"] maps to <base>/agents/a1.json. Writes go through a
// temp file and rename, guarded by an flock on a sibling .lock file so two
// processes sharing a data directory never interleave.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/opencode-ai/agentpool/pkg/types"
)

// ErrNotFound is returned by Get when no document exists for a key.
var ErrNotFound = types.ErrNotFound

const ext = ".json"

// Storage is a file-backed JSON document store.
type Storage struct {
	basePath string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a store rooted at basePath. The directory is created lazily.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Root returns the base directory.
func (s *Storage) Root() string {
	return s.basePath
}

func (s *Storage) resolve(key []string) (string, error) {
	if len(key) == 0 {
		return "", types.NewValidationError("key", "must not be empty")
	}
	for _, seg := range key {
		if seg == "" || seg == "." || seg == ".." || strings.ContainsAny(seg, `/\`) {
			return "", types.NewValidationError("key", "invalid segment %q", seg)
		}
	}
	return filepath.Join(append([]string{s.basePath}, key...)...), nil
}

// Get decodes the document at key into v.
func (s *Storage) Get(ctx context.Context, key []string, v any) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path + ext)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", strings.Join(key, "/"), ErrNotFound)
		}
		return fmt.Errorf("read %s: %w", strings.Join(key, "/"), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", strings.Join(key, "/"), err)
	}
	return nil
}

// Put encodes v and atomically replaces the document at key.
func (s *Storage) Put(ctx context.Context, key []string, v any) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", strings.Join(key, "/"), err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	unlock, err := s.lock(path)
	if err != nil {
		return err
	}
	defer unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path+ext); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Delete removes the document at key. Missing documents are not an error.
func (s *Storage) Delete(ctx context.Context, key []string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	unlock, err := s.lock(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer unlock()

	if err := os.Remove(path + ext); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", strings.Join(key, "/"), err)
	}
	return nil
}

// Exists reports whether a document exists at key.
func (s *Storage) Exists(ctx context.Context, key []string) bool {
	path, err := s.resolve(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(path + ext)
	return err == nil
}

// List returns the sorted document names (and sub-collections) under prefix.
func (s *Storage) List(ctx context.Context, prefix []string) ([]string, error) {
	dir := s.basePath
	if len(prefix) > 0 {
		var err error
		if dir, err = s.resolve(prefix); err != nil {
			return nil, err
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case entry.IsDir():
			names = append(names, name)
		case strings.HasSuffix(name, ext):
			names = append(names, strings.TrimSuffix(name, ext))
		}
	}
	sort.Strings(names)
	return names, nil
}

// Scan calls fn with the raw JSON of every document directly under prefix.
// Unreadable files are skipped; an error from fn stops the scan.
func (s *Storage) Scan(ctx context.Context, prefix []string, fn func(name string, data json.RawMessage) error) error {
	names, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		path, err := s.resolve(append(append([]string{}, prefix...), name))
		if err != nil {
			continue
		}
		data, err := os.ReadFile(path + ext)
		if err != nil {
			continue
		}
		if err := fn(name, json.RawMessage(data)); err != nil {
			return err
		}
	}
	return nil
}

// lock takes the in-process mutex for path and then an exclusive flock on
// path.lock. The returned func releases both.
func (s *Storage) lock(path string) (func(), error) {
	s.mu.Lock()
	m, ok := s.locks[path]
	if !ok {
		m = &sync.Mutex{}
		s.locks[path] = m
	}
	s.mu.Unlock()

	m.Lock()
	f, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		m.Unlock()
		return nil, err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		f.Close()
		m.Unlock()
		return nil, fmt.Errorf("flock: %w", err)
	}

	return func() {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		os.Remove(path + ".lock")
		m.Unlock()
	}, nil
}
