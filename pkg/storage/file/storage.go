// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-encstore.
//
// go-encstore is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package file provides a file-based implementation of the storage.Backend
// interface on top of an afero filesystem. Each key is one file below the
// root directory; values are replaced atomically with write-then-rename.
package file

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-encstore/pkg/storage"
	"github.com/spf13/afero"
)

const (
	// Default directory permissions (owner rwx only)
	defaultDirPerms = 0700

	// Default file permissions (owner rw only)
	defaultPerms = 0600

	// tempPrefix marks in-flight writes; List skips them.
	tempPrefix = ".encstore-"
)

// FileStorage is a file-based implementation of storage.Backend.
// It stores key-value pairs as files in a directory hierarchy and is thread-safe.
type FileStorage struct {
	mu      sync.RWMutex
	fs      afero.Fs
	rootDir string
	closed  bool
}

// New creates a new FileStorage on the OS filesystem rooted at rootDir.
// The root directory is created with 0700 permissions if it doesn't exist.
func New(rootDir string) (*FileStorage, error) {
	return NewWithFs(afero.NewOsFs(), rootDir)
}

// NewWithFs creates a FileStorage on an arbitrary afero filesystem.
func NewWithFs(fsys afero.Fs, rootDir string) (*FileStorage, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("file storage: root directory cannot be empty")
	}
	if err := fsys.MkdirAll(rootDir, defaultDirPerms); err != nil {
		return nil, fmt.Errorf("file storage: failed to create root directory: %w", err)
	}
	return &FileStorage{
		fs:      fsys,
		rootDir: filepath.Clean(rootDir),
	}, nil
}

// Get retrieves the value for the given key.
// Returns storage.ErrNotFound if the key does not exist.
func (f *FileStorage) Get(key string) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, storage.ErrClosed
	}
	return f.read(key)
}

// Put stores the value for the given key. Permissions come from opts,
// defaulting to 0600.
func (f *FileStorage) Put(key string, value []byte, opts *storage.Options) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return storage.ErrClosed
	}
	return f.write(key, value, filePermissions(opts))
}

// Delete removes the key and its value from storage.
// Returns storage.ErrNotFound if the key does not exist.
func (f *FileStorage) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return storage.ErrClosed
	}
	return f.remove(key)
}

// List returns all keys with the given prefix in sorted order.
func (f *FileStorage) List(prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, storage.ErrClosed
	}
	return f.list(prefix)
}

// Exists checks if a key exists in storage.
func (f *FileStorage) Exists(key string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return false, storage.ErrClosed
	}
	path, err := f.keyToPath(key)
	if err != nil {
		return false, err
	}
	ok, err := afero.Exists(f.fs, path)
	if err != nil {
		return false, fmt.Errorf("file storage: failed to check key %q: %w", key, err)
	}
	return ok, nil
}

// Update stages fn's writes and applies them while holding the write
// lock, so no other caller of this FileStorage observes a partial edit.
// Each file is replaced atomically; the set of files is not crash-atomic.
func (f *FileStorage) Update(fn func(tx storage.Txn) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return storage.ErrClosed
	}

	tx := storage.NewStagedTxn(reader{f})
	err := fn(tx)
	tx.Finish()
	if err != nil {
		return err
	}
	for _, op := range tx.Ops() {
		if op.Delete {
			if err := f.remove(op.Key); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			continue
		}
		if err := f.write(op.Key, op.Value, defaultPerms); err != nil {
			return err
		}
	}
	return nil
}

// Close marks the storage closed. Files are left in place.
func (f *FileStorage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *FileStorage) read(key string) ([]byte, error) {
	path, err := f.keyToPath(key)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("file storage: failed to read key %q: %w", key, err)
	}
	return data, nil
}

func (f *FileStorage) write(key string, value []byte, perms fs.FileMode) error {
	path, err := f.keyToPath(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := f.fs.MkdirAll(dir, defaultDirPerms); err != nil {
		return fmt.Errorf("file storage: failed to create directory for key %q: %w", key, err)
	}

	tmp, err := afero.TempFile(f.fs, dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("file storage: failed to create temp file for key %q: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("file storage: failed to write key %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("file storage: failed to write key %q: %w", key, err)
	}
	if err := f.fs.Chmod(tmpName, perms); err != nil {
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("file storage: failed to set permissions for key %q: %w", key, err)
	}
	if err := f.fs.Rename(tmpName, path); err != nil {
		_ = f.fs.Remove(tmpName)
		return fmt.Errorf("file storage: failed to commit key %q: %w", key, err)
	}
	return nil
}

func (f *FileStorage) remove(key string) error {
	path, err := f.keyToPath(key)
	if err != nil {
		return err
	}
	if _, err := f.fs.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("file storage: failed to stat key %q: %w", key, err)
	}
	if err := f.fs.Remove(path); err != nil {
		return fmt.Errorf("file storage: failed to delete key %q: %w", key, err)
	}
	return nil
}

func (f *FileStorage) list(prefix string) ([]string, error) {
	keys := make([]string, 0)
	err := afero.Walk(f.fs, f.rootDir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tempPrefix) {
			return nil
		}
		key, err := f.pathToKey(path)
		if err != nil {
			return err
		}
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("file storage: failed to list keys: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// keyToPath converts a storage key to a file path below the root.
func (f *FileStorage) keyToPath(key string) (string, error) {
	if err := validateStorageKey(key); err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrInvalidKey, err)
	}
	return filepath.Join(f.rootDir, filepath.FromSlash(key)), nil
}

// validateStorageKey allows path separators for organization but blocks
// traversal outside the root.
func validateStorageKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	if strings.Contains(key, "\x00") {
		return fmt.Errorf("key contains null byte")
	}

	if filepath.IsAbs(key) || strings.HasPrefix(key, "/") {
		return fmt.Errorf("key cannot be an absolute path")
	}

	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return fmt.Errorf("key contains path traversal attempt")
	}
	if strings.Contains(cleaned, string(filepath.Separator)+".."+string(filepath.Separator)) ||
		strings.HasSuffix(cleaned, string(filepath.Separator)+"..") {
		return fmt.Errorf("key contains path traversal attempt")
	}

	if strings.HasPrefix(filepath.Base(cleaned), tempPrefix) {
		return fmt.Errorf("key uses reserved prefix %q", tempPrefix)
	}

	return nil
}

// pathToKey converts a file path to a storage key.
func (f *FileStorage) pathToKey(path string) (string, error) {
	rel, err := filepath.Rel(f.rootDir, path)
	if err != nil {
		return "", fmt.Errorf("file storage: failed to convert path to key: %w", err)
	}
	return filepath.ToSlash(rel), nil
}

func filePermissions(opts *storage.Options) fs.FileMode {
	if opts != nil && opts.Permissions != 0 {
		return opts.Permissions
	}
	return defaultPerms
}

// reader exposes unlocked reads to a StagedTxn; Update holds the lock.
type reader struct {
	f *FileStorage
}

func (r reader) Get(key string) ([]byte, error)       { return r.f.read(key) }
func (r reader) List(prefix string) ([]string, error) { return r.f.list(prefix) }
