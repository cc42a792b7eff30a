package engine

import (
	"errors"
	"fmt"

	"github.com/drummonds/pdfview/engine/pagecache"
	"github.com/drummonds/pdfview/engine/pdfrenderer"
)

var (
	// ErrOpen matches every OpenError
	ErrOpen = pdfrenderer.ErrOpen
	// ErrRender matches every RenderError
	ErrRender = pdfrenderer.ErrRender
	// ErrCacheWrite matches page cache write failures
	ErrCacheWrite = pagecache.ErrCacheWrite
	// ErrNamespaceLocked is returned by Open while another live session owns the cache root
	ErrNamespaceLocked = pagecache.ErrNamespaceLocked

	// ErrSessionClosed is returned for any page request made on or racing with a closed session
	ErrSessionClosed = errors.New("document session is closed")
	// ErrPageOutOfRange is returned by the explicit-error render path for indices outside the document
	ErrPageOutOfRange = errors.New("page index out of range")
	// ErrContentUnavailable is the user-facing failure of the download flow
	ErrContentUnavailable = errors.New("content unavailable")
	// ErrDownloadRejected marks responses that retrying cannot fix
	ErrDownloadRejected = errors.New("download rejected by server")
	// ErrNoDocument is returned by the viewer before any document has been opened
	ErrNoDocument = errors.New("no document open")
)

// OpenError is fatal to a session and is returned from Open
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() []error { return []error{ErrOpen, e.Err} }

// RenderError is local to one page request
type RenderError struct {
	Index int
	Err   error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render page %d: %v", e.Index, e.Err)
}

func (e *RenderError) Unwrap() []error { return []error{ErrRender, e.Err} }
