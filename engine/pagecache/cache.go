// Package pagecache stores rendered PDF pages on disk, one namespace directory per viewer.
//
// A namespace is wiped every time a document session starts, so entries never outlive the
// quality and document they were rendered for. Writes are published with a rename, so a
// reader sees either no entry or a complete one.
package pagecache

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"

	"github.com/disintegration/imaging"
)

// NamespaceDir is the fixed directory name of the page namespace inside a cache root
const NamespaceDir = "___pdf___cache___"

const (
	dirMode   = 0o750
	tmpSuffix = ".tmp"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ErrCacheWrite is matched by every CacheWriteError
var ErrCacheWrite = errors.New("page cache write failed")

// CacheWriteError reports a page that could not be persisted. It never invalidates the
// rendered image; the next read of that key is simply a miss.
type CacheWriteError struct {
	Key Key
	Err error
}

func (e *CacheWriteError) Error() string {
	return fmt.Sprintf("%s for page %d in %s: %v", ErrCacheWrite, e.Key.Index, e.Key.Namespace.Dir, e.Err)
}

func (e *CacheWriteError) Unwrap() []error { return []error{ErrCacheWrite, e.Err} }

// Namespace is the part of the cache owned by one viewer
type Namespace struct {
	Dir string
}

// NewNamespace returns the namespace living under cacheRoot
func NewNamespace(cacheRoot string) Namespace {
	return Namespace{Dir: filepath.Join(cacheRoot, NamespaceDir)}
}

// Key identifies one cached page
type Key struct {
	Namespace Namespace
	Index     int
}

// Path is where the page artifact is published
func (k Key) Path() string {
	return filepath.Join(k.Namespace.Dir, strconv.Itoa(k.Index))
}

// Stats counts lookups since the cache was created
type Stats struct {
	Hits   int64
	Misses int64
	Writes int64
	Failed int64
}

// Cache is the filesystem implementation of the page store
type Cache struct {
	hits   atomic.Int64
	misses atomic.Int64
	writes atomic.Int64
	failed atomic.Int64
}

// New creates a page cache
func New() *Cache {
	return &Cache{}
}

// InitNamespace deletes everything under ns and recreates it empty
func (c *Cache) InitNamespace(ns Namespace) error {
	if ns.Dir == "" {
		return fmt.Errorf("page cache namespace has no directory")
	}
	if err := os.RemoveAll(ns.Dir); err != nil {
		return fmt.Errorf("failed to clear page cache %s: %w", ns.Dir, err)
	}
	if err := os.MkdirAll(ns.Dir, dirMode); err != nil {
		return fmt.Errorf("failed to create page cache %s: %w", ns.Dir, err)
	}
	logger().Debug("Page cache namespace initialized", "path", ns.Dir)
	return nil
}

// Get decodes the page stored under key. A missing or unreadable artifact is a miss.
func (c *Cache) Get(key Key) (image.Image, bool) {
	path := key.Path()
	file, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger().Debug("Cached page unreadable, treating as miss", "path", path, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	defer file.Close()

	img, err := imaging.Decode(file)
	if err != nil {
		logger().Debug("Cached page failed to decode, treating as miss", "path", path, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return img, true
}

// Put encodes img and publishes it under key with an atomic rename
func (c *Cache) Put(key Key, img image.Image) (err error) {
	defer func() {
		if err != nil {
			c.failed.Add(1)
			err = &CacheWriteError{Key: key, Err: err}
		}
	}()

	if img == nil {
		return fmt.Errorf("nil image")
	}

	tmp, err := os.CreateTemp(key.Namespace.Dir, "."+strconv.Itoa(key.Index)+"-*"+tmpSuffix)
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := imaging.Encode(tmp, img, imaging.PNG); err != nil {
		tmp.Close()        // best-effort cleanup
		os.Remove(tmpPath) // best-effort cleanup
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, key.Path()); err != nil {
		os.Remove(tmpPath)
		return err
	}

	c.writes.Add(1)
	return nil
}

// Stats returns the lookup counters
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Writes: c.writes.Load(),
		Failed: c.failed.Load(),
	}
}

func logger() *slog.Logger {
	if Logger != nil {
		return Logger
	}
	return slog.Default()
}
