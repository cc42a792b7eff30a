package pdfrenderer

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

var (
	// ErrOpen is returned when a document cannot be opened or is rejected by the backend
	ErrOpen = errors.New("unable to open PDF document")
	// ErrRender is returned when a single page cannot be measured or rasterized
	ErrRender = errors.New("unable to render PDF page")
)

// Rasterizer opens documents for page rendering
type Rasterizer interface {
	// Open opens the PDF at path read-only
	Open(path string) (Document, error)

	// Close cleans up any resources used by the rasterizer
	Close() error
}

// Document is one opened PDF. Implementations are not safe for concurrent use.
type Document interface {
	PageCount() (int, error)

	// PageSize returns the native page size in points
	PageSize(index int) (width, height int, err error)

	// RenderPage rasterizes a page into an opaque image of exactly width x height
	RenderPage(index, width, height int) (image.Image, error)

	// Close releases the document; calling it more than once is a no-op
	Close() error
}

// NewRasterizer creates the rasterizer for the named backend
func NewRasterizer(backend string) (Rasterizer, error) {
	switch backend {
	case "", "pdfium":
		return NewPDFiumRenderer()
	case "fitz", "mupdf":
		return NewFitzRenderer()
	default:
		return nil, fmt.Errorf("unknown PDF backend %q (supported: pdfium, fitz)", backend)
	}
}

// Flatten composites img onto a white canvas of width x height, scaling it when the sizes differ
func Flatten(img image.Image, width, height int) *image.NRGBA {
	canvas := imaging.New(width, height, color.White)
	if img == nil {
		return canvas
	}
	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

func openError(path string, err error) error {
	return fmt.Errorf("%w %s: %v", ErrOpen, path, err)
}

func renderError(index int, err error) error {
	return fmt.Errorf("%w %d: %v", ErrRender, index, err)
}
