package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/drummonds/pdfview/engine/pdfrenderer"
)

// StatusListener receives viewer level notifications on the dispatcher
type StatusListener interface {
	OnDownloadStart()
	OnDownloadProgress(progress int, downloadedBytes, totalBytes int64)
	OnDownloadSuccess()
	OnError(err error)
}

// ViewerOptions configures a Viewer
type ViewerOptions struct {
	CacheDir   string
	Quality    Quality
	Downloader *Downloader // created from CacheDir when nil
	DownloadID string      // file name stem of downloaded documents
	Status     StatusListener
	Logger     *slog.Logger
}

// Viewer owns at most one open document session at a time, the callback dispatcher every
// session delivers on, and the cache directory both sessions and downloads use.
type Viewer struct {
	rasterizer pdfrenderer.Rasterizer
	cacheDir   string
	quality    Quality
	downloadID string
	status     StatusListener
	logger     *slog.Logger

	dispatcher *Dispatcher
	downloader *Downloader

	mu      sync.Mutex
	session *Session
}

// NewViewer creates a viewer around r
func NewViewer(r pdfrenderer.Rasterizer, opts ViewerOptions) *Viewer {
	log := opts.Logger
	if log == nil {
		log = logger()
	}
	quality := opts.Quality
	if quality == 0 {
		quality = QualityNormal
	}
	downloadID := opts.DownloadID
	if downloadID == "" {
		downloadID = "pdfview"
	}

	v := &Viewer{
		rasterizer: r,
		cacheDir:   opts.CacheDir,
		quality:    quality,
		downloadID: downloadID,
		status:     opts.Status,
		logger:     log,
		dispatcher: NewDispatcher(log),
	}
	v.downloader = opts.Downloader
	if v.downloader == nil {
		v.downloader = NewDownloader(opts.CacheDir, 0, 1, v.dispatcher)
	} else if v.downloader.Dispatcher == nil {
		v.downloader.Dispatcher = v.dispatcher
	}
	return v
}

// Dispatcher is the callback context of the viewer
func (v *Viewer) Dispatcher() *Dispatcher {
	return v.dispatcher
}

// InitWithPath opens the document at path, replacing any open document
func (v *Viewer) InitWithPath(path string, quality Quality) (*Session, error) {
	if quality == 0 {
		quality = v.quality
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.session != nil {
		v.session.Close()
		v.session = nil
	}

	session, err := Open(v.rasterizer, path, SessionOptions{
		Quality:    quality,
		CacheDir:   v.cacheDir,
		Dispatcher: v.dispatcher,
		Logger:     v.logger,
	})
	if err != nil {
		return nil, err
	}
	v.session = session
	return session, nil
}

// InitWithURL downloads url into the cache directory and opens it
func (v *Viewer) InitWithURL(ctx context.Context, url string, quality Quality) (*Session, error) {
	path, err := v.downloader.Download(ctx, url, v.downloadID, &viewerDownloadListener{viewer: v})
	if err != nil {
		return nil, err
	}
	session, err := v.InitWithPath(path, quality)
	if err != nil {
		v.notify(func(s StatusListener) { s.OnError(err) })
		return nil, err
	}
	v.notify(func(s StatusListener) { s.OnDownloadSuccess() })
	return session, nil
}

// Session returns the open session
func (v *Viewer) Session() (*Session, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == nil {
		return nil, ErrNoDocument
	}
	return v.session, nil
}

// TotalPageCount is the page count of the open document, zero when none is open
func (v *Viewer) TotalPageCount() int {
	session, err := v.Session()
	if err != nil {
		return 0
	}
	return session.PageCount()
}

// CloseDocument closes the open session, if any, keeping the viewer usable
func (v *Viewer) CloseDocument() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session == nil {
		return nil
	}
	err := v.session.Close()
	v.session = nil
	return err
}

// Close closes the open session and stops the dispatcher
func (v *Viewer) Close() error {
	err := v.CloseDocument()
	v.dispatcher.Stop()
	return err
}

// notify runs fn with the status listener on the dispatcher
func (v *Viewer) notify(fn func(StatusListener)) {
	if v.status == nil {
		return
	}
	v.dispatcher.Post(func() { fn(v.status) })
}

// viewerDownloadListener adapts download notifications to the viewer status listener.
// Its callbacks already run on the dispatcher.
type viewerDownloadListener struct {
	viewer *Viewer
}

func (l *viewerDownloadListener) OnDownloadStart() {
	if l.viewer.status != nil {
		l.viewer.status.OnDownloadStart()
	}
}

func (l *viewerDownloadListener) OnDownloadProgress(currentBytes, totalBytes int64) {
	if l.viewer.status == nil {
		return
	}
	l.viewer.status.OnDownloadProgress(downloadPercent(currentBytes, totalBytes), currentBytes, totalBytes)
}

// Success is reported once the document has opened, not when the bytes land
func (l *viewerDownloadListener) OnDownloadSuccess(string) {}

func (l *viewerDownloadListener) OnError(err error) {
	if l.viewer.status != nil {
		l.viewer.status.OnError(err)
	}
}

func downloadPercent(currentBytes, totalBytes int64) int {
	if totalBytes <= 0 {
		return 0
	}
	progress := int(float64(currentBytes) / float64(totalBytes) * 100)
	return min(100, progress)
}
