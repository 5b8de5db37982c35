// Package file implements the document repository as a single JSON file on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// Document keeps the whole document in memory and rewrites the file on Save.
// A sibling ".lock" file serializes loads and saves across processes.
type Document struct {
	path string
	lock *flock.Flock

	mu    sync.RWMutex
	data  map[string]string
	dirty bool
}

// Open loads the document at path, creating parent directories as needed.
// A missing file yields an empty document.
func Open(path string) (*Document, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("file: mkdir: %w", err)
	}
	d := &Document{
		path: path,
		lock: flock.New(path + ".lock"),
		data: map[string]string{},
	}
	if err := d.load(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Document) load() error {
	if err := d.lock.Lock(); err != nil {
		return fmt.Errorf("file: lock: %w", err)
	}
	defer func() { _ = d.lock.Unlock() }()

	b, err := os.ReadFile(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("file: read: %w", err)
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, &d.data); err != nil {
		return fmt.Errorf("file: decode %s: %w", d.path, err)
	}
	return nil
}

// Get returns the value under key.
func (d *Document) Get(_ context.Context, key string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.data[key]
	return v, ok, nil
}

// Set stores value under key in memory; call Save to persist.
func (d *Document) Set(_ context.Context, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data[key] = value
	d.dirty = true
	return nil
}

// CreateIfAbsent stores value under a missing key in memory; call Save to persist.
func (d *Document) CreateIfAbsent(_ context.Context, key, value string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.data[key]; ok {
		return false, nil
	}
	d.data[key] = value
	d.dirty = true
	return true, nil
}

// Delete removes key in memory; call Save to persist.
func (d *Document) Delete(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.data[key]; ok {
		delete(d.data, key)
		d.dirty = true
	}
	return nil
}

// Keys lists keys with the given prefix.
func (d *Document) Keys(_ context.Context, prefix string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.data))
	for k := range d.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Save atomically replaces the file: write temp, fsync, rename.
func (d *Document) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dirty {
		return nil
	}

	b, err := json.MarshalIndent(d.data, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode: %w", err)
	}

	if err := d.lock.Lock(); err != nil {
		return fmt.Errorf("file: lock: %w", err)
	}
	defer func() { _ = d.lock.Unlock() }()

	tmp, err := os.CreateTemp(filepath.Dir(d.path), filepath.Base(d.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file: create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file: chmod: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("file: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("file: close: %w", err)
	}
	if err := os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("file: rename: %w", err)
	}
	d.dirty = false
	return nil
}

// Close releases the lock file handle.
func (d *Document) Close() error {
	return d.lock.Close()
}
