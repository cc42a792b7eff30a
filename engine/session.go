package engine

import (
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/drummonds/pdfview/engine/pagecache"
	"github.com/drummonds/pdfview/engine/pdfrenderer"
	"github.com/oklog/ulid/v2"
)

// PageStore is the keyed image store a session caches rendered pages in
type PageStore interface {
	InitNamespace(ns pagecache.Namespace) error
	Get(key pagecache.Key) (image.Image, bool)
	Put(key pagecache.Key, img image.Image) error
}

// SessionOptions configures one document session. Every behavior knob lives here rather than
// in package state, so two sessions never influence each other.
type SessionOptions struct {
	Quality    Quality
	CacheDir   string      // cache root owned by the viewer; the page namespace lives inside it
	Store      PageStore   // defaults to a filesystem page cache
	Dispatcher *Dispatcher // callback context; the session starts and owns one when nil
	Logger     *slog.Logger
}

// Page is a rendered page delivered to callers
type Page struct {
	Index  int
	Image  image.Image
	Cached bool // served from the page cache without rasterizing
}

// Width of the page image in pixels
func (p Page) Width() int { return p.Image.Bounds().Dx() }

// Height of the page image in pixels
func (p Page) Height() int { return p.Image.Bounds().Dy() }

// Session is one opened PDF together with its page cache namespace. It exclusively owns the
// document handle and closes it exactly once.
type Session struct {
	ID      ulid.ULID
	path    string
	quality Quality

	namespace pagecache.Namespace
	lock      *pagecache.NamespaceLock
	store     PageStore

	dispatcher     *Dispatcher
	ownsDispatcher bool
	logger         *slog.Logger

	pageCount int

	// renderMu is the exclusive rasterization region; doc is only touched while holding it
	renderMu sync.Mutex
	doc      pdfrenderer.Document

	// lifeMu orders worker registration against Close so workers.Wait sees every worker
	lifeMu    sync.RWMutex
	closed    atomic.Bool
	workers   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open validates path, claims and wipes the page cache namespace and opens the document.
// It fails with ErrNamespaceLocked while another live session owns the same cache root.
func Open(r pdfrenderer.Rasterizer, path string, opts SessionOptions) (*Session, error) {
	if r == nil {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("no rasterizer")}
	}
	if err := checkReadable(path); err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}

	id := ulid.Make()
	log := opts.Logger
	if log == nil {
		log = logger()
	}
	log = log.With("session", id.String())

	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "pdfview")
	}
	store := opts.Store
	if store == nil {
		store = pagecache.New()
	}
	namespace := pagecache.NewNamespace(cacheDir)

	// A namespace has exactly one live owner
	lock, err := pagecache.LockNamespace(namespace)
	if err != nil {
		return nil, err
	}

	// Entries from an earlier session may have been rendered from another document or quality
	if err := store.InitNamespace(namespace); err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("unable to initialize page cache: %w", err)
	}

	doc, err := r.Open(path)
	if err != nil {
		lock.Unlock()
		return nil, &OpenError{Path: path, Err: err}
	}
	pageCount, err := doc.PageCount()
	if err != nil {
		doc.Close()
		lock.Unlock()
		return nil, &OpenError{Path: path, Err: err}
	}

	quality := opts.Quality
	if quality == 0 {
		quality = QualityNormal
	}

	s := &Session{
		ID:         id,
		path:       path,
		quality:    quality,
		namespace:  namespace,
		lock:       lock,
		store:      store,
		dispatcher: opts.Dispatcher,
		logger:     log,
		pageCount:  pageCount,
		doc:        doc,
	}
	if s.dispatcher == nil {
		s.dispatcher = NewDispatcher(log)
		s.ownsDispatcher = true
	}

	log.Info("Document session opened", "path", path, "pages", pageCount, "quality", quality.String())
	return s, nil
}

func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	return file.Close()
}

// PageCount is the number of pages read when the session was opened
func (s *Session) PageCount() int {
	return s.pageCount
}

// Path of the opened document
func (s *Session) Path() string {
	return s.path
}

// Quality the session renders at
func (s *Session) Quality() Quality {
	return s.quality
}

// Namespace is the page cache namespace owned by the session
func (s *Session) Namespace() pagecache.Namespace {
	return s.namespace
}

// Closed reports whether Close has been called
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// begin registers a unit of work against the session lifetime
func (s *Session) begin() error {
	s.lifeMu.RLock()
	defer s.lifeMu.RUnlock()
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.workers.Add(1)
	return nil
}

// Close releases the document. It waits for an in-progress rasterization to finish before
// closing the handle, then for every outstanding request to complete. Calling it again is a
// no-op. When the session owns its dispatcher, Close must not be called from a page callback.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.lifeMu.Lock()
		s.closed.Store(true)
		s.lifeMu.Unlock()

		s.renderMu.Lock()
		err := s.doc.Close()
		s.renderMu.Unlock()
		if err != nil {
			s.logger.Error("Failed to close document", "path", s.path, "error", err)
			s.closeErr = err
		}

		s.workers.Wait()
		if s.ownsDispatcher {
			s.dispatcher.Stop()
		}
		if err := s.lock.Unlock(); err != nil {
			s.logger.Error("Failed to release page cache namespace", "namespace", s.namespace.Dir, "error", err)
		}
		s.logger.Info("Document session closed", "path", s.path)
	})
	return s.closeErr
}
