package pdfrenderer

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer implements PDF rendering using go-fitz (requires CGo and MuPDF)
type FitzRenderer struct {
}

// NewFitzRenderer creates a new Fitz-based PDF renderer
func NewFitzRenderer() (*FitzRenderer, error) {
	return &FitzRenderer{}, nil
}

// Open opens a PDF document using go-fitz
func (r *FitzRenderer) Open(path string) (Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, openError(path, err)
	}
	return &fitzDocument{doc: doc}, nil
}

// Close cleans up resources (no-op for Fitz renderer as each document owns its context)
func (r *FitzRenderer) Close() error {
	return nil
}

type fitzDocument struct {
	doc *fitz.Document
}

func (d *fitzDocument) PageCount() (int, error) {
	if d.doc == nil {
		return 0, fmt.Errorf("document is closed")
	}
	return d.doc.NumPage(), nil
}

func (d *fitzDocument) PageSize(index int) (int, int, error) {
	if d.doc == nil {
		return 0, 0, renderError(index, fmt.Errorf("document is closed"))
	}
	// Bound is reported at 72 DPI, i.e. in points
	bounds, err := d.doc.Bound(index)
	if err != nil {
		return 0, 0, renderError(index, err)
	}
	return bounds.Dx(), bounds.Dy(), nil
}

func (d *fitzDocument) RenderPage(index, width, height int) (image.Image, error) {
	if d.doc == nil {
		return nil, renderError(index, fmt.Errorf("document is closed"))
	}
	bounds, err := d.doc.Bound(index)
	if err != nil {
		return nil, renderError(index, err)
	}
	dpi := 72.0
	if bounds.Dx() > 0 {
		dpi = 72.0 * float64(width) / float64(bounds.Dx())
	}
	img, err := d.doc.ImageDPI(index, dpi)
	if err != nil {
		return nil, renderError(index, err)
	}
	// MuPDF rounds the pixmap size, so snap to the exact target
	return Flatten(img, width, height), nil
}

func (d *fitzDocument) Close() error {
	if d.doc == nil {
		return nil
	}
	err := d.doc.Close()
	d.doc = nil
	return err
}
