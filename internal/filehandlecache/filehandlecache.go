// Package filehandlecache multiplexes read and write access to local files
// across many concurrent callers, sharing one open *os.File per (path,
// mode) pair and serializing opens so concurrent callers race-free join an
// in-flight open instead of racing the filesystem.
package filehandlecache

import (
	"fmt"
	"os"
	"sync"
)

// Mode distinguishes a read-only handle from a write (create/truncate) one.
type Mode int

const (
	ModeRead Mode = iota
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

type entry struct {
	mode Mode
	once sync.Once
	file *os.File
	err  error
}

// Cache is a map of path -> in-flight-or-resolved file handle. Safe for
// concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]*entry)}
}

// OpenOrGet returns the handle for path, opening it if this is the first
// call for that path. expectedSize is used only for ModeWrite, to
// pre-truncate/allocate the file to its final size before concurrent
// writers begin issuing WriteAt calls at arbitrary offsets. Returns an
// error if path is already open under a different Mode.
func (c *Cache) OpenOrGet(path string, mode Mode, expectedSize int64) (*os.File, error) {
	c.mu.Lock()
	e, exists := c.entries[path]
	if exists && e.mode != mode {
		c.mu.Unlock()
		return nil, fmt.Errorf("filehandlecache: %s already open in %s mode, requested %s", path, e.mode, mode)
	}
	if !exists {
		e = &entry{mode: mode}
		c.entries[path] = e
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.file, e.err = openFile(path, mode, expectedSize)
	})
	return e.file, e.err
}

func openFile(path string, mode Mode, expectedSize int64) (*os.File, error) {
	if mode == ModeRead {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("filehandlecache: open %s: %w", path, err)
		}
		return f, nil
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filehandlecache: create %s: %w", path, err)
	}
	if expectedSize > 0 {
		if err := f.Truncate(expectedSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("filehandlecache: truncate %s to %d: %w", path, expectedSize, err)
		}
	}
	return f, nil
}

// Invalidate removes path's entry without closing it, forcing the next
// OpenOrGet to reopen. Used after a write error makes the existing handle
// untrustworthy.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}

// Close flushes (for a write handle) and closes path's entry, removing it
// from the cache. Returns the first of the sync or close error, if any.
func (c *Cache) Close(path string) error {
	c.mu.Lock()
	e, ok := c.entries[path]
	if ok {
		delete(c.entries, path)
	}
	c.mu.Unlock()
	if !ok || e.file == nil {
		return nil
	}
	var syncErr error
	if e.mode == ModeWrite {
		syncErr = e.file.Sync()
	}
	closeErr := e.file.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

// CloseAll closes every open entry and clears the cache, returning the
// first error encountered, if any.
func (c *Cache) CloseAll() error {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	var firstErr error
	for _, e := range entries {
		if e.file == nil {
			continue
		}
		if e.mode == ModeWrite {
			if err := e.file.Sync(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := e.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
