package pdfrenderer

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// PDFiumRenderer implements PDF rendering using go-pdfium with WebAssembly (pure Go, no CGo)
type PDFiumRenderer struct {
	pool     pdfium.Pool
	instance pdfium.Pdfium
	// mu serializes calls into the single instance, which every document shares
	mu sync.Mutex
}

// NewPDFiumRenderer creates a new PDFium-based PDF renderer using WebAssembly
func NewPDFiumRenderer() (*PDFiumRenderer, error) {
	// One worker is enough: documents are serialized by their sessions anyway
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	return &PDFiumRenderer{
		pool:     pool,
		instance: instance,
	}, nil
}

// Open reads the PDF file and opens it in the PDFium instance
func (r *PDFiumRenderer) Open(path string) (Document, error) {
	pdfBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, openError(path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.instance == nil {
		return nil, openError(path, fmt.Errorf("renderer is closed"))
	}

	doc, err := r.instance.OpenDocument(&requests.OpenDocument{
		File: &pdfBytes,
	})
	if err != nil {
		return nil, openError(path, err)
	}

	return &pdfiumDocument{
		renderer: r,
		doc:      doc.Document,
		data:     pdfBytes,
	}, nil
}

// Close cleans up resources used by the PDFium renderer
func (r *PDFiumRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if r.instance != nil {
		err = r.instance.Close()
		r.instance = nil
	}
	if r.pool != nil {
		if closeErr := r.pool.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		r.pool = nil
	}
	return err
}

type pdfiumDocument struct {
	renderer *PDFiumRenderer
	doc      references.FPDF_DOCUMENT
	data     []byte // PDFium reads from this buffer for the lifetime of the document
	closed   bool
}

func (d *pdfiumDocument) page(index int) requests.Page {
	return requests.Page{
		ByIndex: &requests.PageByIndex{
			Document: d.doc,
			Index:    index,
		},
	}
}

// instance returns the live PDFium instance; callers hold renderer.mu
func (d *pdfiumDocument) instance() (pdfium.Pdfium, error) {
	if d.closed {
		return nil, fmt.Errorf("document is closed")
	}
	if d.renderer.instance == nil {
		return nil, fmt.Errorf("renderer is closed")
	}
	return d.renderer.instance, nil
}

func (d *pdfiumDocument) PageCount() (int, error) {
	d.renderer.mu.Lock()
	defer d.renderer.mu.Unlock()

	instance, err := d.instance()
	if err != nil {
		return 0, err
	}
	resp, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: d.doc,
	})
	if err != nil {
		return 0, fmt.Errorf("unable to get page count: %w", err)
	}
	return resp.PageCount, nil
}

func (d *pdfiumDocument) PageSize(index int) (int, int, error) {
	d.renderer.mu.Lock()
	defer d.renderer.mu.Unlock()

	instance, err := d.instance()
	if err != nil {
		return 0, 0, renderError(index, err)
	}
	resp, err := instance.GetPageSize(&requests.GetPageSize{
		Page: d.page(index),
	})
	if err != nil {
		return 0, 0, renderError(index, err)
	}
	return int(math.Ceil(resp.Width)), int(math.Ceil(resp.Height)), nil
}

func (d *pdfiumDocument) RenderPage(index, width, height int) (image.Image, error) {
	d.renderer.mu.Lock()
	defer d.renderer.mu.Unlock()

	instance, err := d.instance()
	if err != nil {
		return nil, renderError(index, err)
	}
	pageRender, err := instance.RenderPageInPixels(&requests.RenderPageInPixels{
		Page:   d.page(index),
		Width:  width,
		Height: height,
	})
	if err != nil {
		return nil, renderError(index, err)
	}
	// Copy out of WebAssembly memory before releasing it
	img := Flatten(pageRender.Result.Image, width, height)
	pageRender.Cleanup()

	return img, nil
}

func (d *pdfiumDocument) Close() error {
	d.renderer.mu.Lock()
	defer d.renderer.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true
	if d.renderer.instance == nil {
		return nil
	}
	_, err := d.renderer.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: d.doc,
	})
	d.data = nil
	return err
}
