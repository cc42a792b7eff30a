package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drummonds/pdfview/engine/pagecache"
	"golang.org/x/sync/errgroup"
)

// prefetchWorkers bounds concurrent prefetch lookups; rasterization is serialized regardless
const prefetchWorkers = 2

func (s *Session) key(index int) pagecache.Key {
	return pagecache.Key{Namespace: s.namespace, Index: index}
}

func (s *Session) inRange(index int) bool {
	return index >= 0 && index < s.pageCount
}

// RequestPage renders page index in the background and delivers it to onReady on the
// session's dispatcher. An index outside the document is ignored without a callback, as is a
// page that fails to render; the failure is logged. Requests on a closed session fail.
func (s *Session) RequestPage(index int, onReady func(Page)) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	if !s.inRange(index) {
		s.logger.Debug("Ignoring page request out of range", "page", index, "pages", s.pageCount)
		return nil
	}
	if err := s.begin(); err != nil {
		return err
	}

	go func() {
		defer s.workers.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Panic recovered in page request", "page", index, "panic", r)
			}
		}()

		page, err := s.load(context.Background(), index)
		if err != nil {
			s.logger.Error("Page request failed", "page", index, "error", err)
			return
		}
		if onReady != nil {
			s.dispatcher.Post(func() { onReady(page) })
		}
	}()
	return nil
}

// Render is the synchronous form of RequestPage that reports every failure to the caller
func (s *Session) Render(ctx context.Context, index int) (Page, error) {
	if s.closed.Load() {
		return Page{}, ErrSessionClosed
	}
	if !s.inRange(index) {
		return Page{}, fmt.Errorf("%w: %d not in [0, %d)", ErrPageOutOfRange, index, s.pageCount)
	}
	if err := s.begin(); err != nil {
		return Page{}, err
	}
	defer s.workers.Done()

	return s.load(ctx, index)
}

// Prefetch warms the cache for up to count pages starting at from. Pages outside the document
// are skipped and a page that fails to render does not stop the others.
func (s *Session) Prefetch(ctx context.Context, from, count int) error {
	if err := s.begin(); err != nil {
		return err
	}
	defer s.workers.Done()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(prefetchWorkers)
	for index := from; index < from+count; index++ {
		if !s.inRange(index) {
			continue
		}
		g.Go(func() error {
			_, err := s.load(ctx, index)
			var renderErr *RenderError
			if errors.As(err, &renderErr) {
				s.logger.Warn("Prefetch failed for page", "page", index, "error", err)
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

// load is the cache-first policy shared by every request path
func (s *Session) load(ctx context.Context, index int) (Page, error) {
	if s.closed.Load() {
		pageRequests.WithLabelValues(resultClosed).Inc()
		return Page{}, ErrSessionClosed
	}

	key := s.key(index)
	if img, ok := s.store.Get(key); ok {
		pageRequests.WithLabelValues(resultHit).Inc()
		return Page{Index: index, Image: img, Cached: true}, nil
	}

	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	if s.closed.Load() {
		pageRequests.WithLabelValues(resultClosed).Inc()
		return Page{}, ErrSessionClosed
	}
	// Another request may have rendered this page while we waited for the lock
	if img, ok := s.store.Get(key); ok {
		pageRequests.WithLabelValues(resultHit).Inc()
		return Page{Index: index, Image: img, Cached: true}, nil
	}
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}

	width, height, err := s.doc.PageSize(index)
	if err != nil {
		pageRequests.WithLabelValues(resultRenderError).Inc()
		return Page{}, &RenderError{Index: index, Err: err}
	}
	multiplier := s.quality.Multiplier()
	width, height = width*multiplier, height*multiplier

	start := time.Now()
	img, err := s.doc.RenderPage(index, width, height)
	renderSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		pageRequests.WithLabelValues(resultRenderError).Inc()
		return Page{}, &RenderError{Index: index, Err: err}
	}
	pageRequests.WithLabelValues(resultMiss).Inc()

	if err := s.store.Put(key, img); err != nil {
		// The page is still delivered; the next request for it renders again
		cacheWriteFailures.Inc()
		s.logger.Warn("Failed to cache rendered page", "page", index, "error", err)
	}

	s.logger.Debug("Page rendered", "page", index, "width", width, "height", height, "elapsed", time.Since(start))
	return Page{Index: index, Image: img}, nil
}
