package engine

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drummonds/pdfview/engine/pagecache"
	"github.com/drummonds/pdfview/engine/pdfrenderer"
)

// fakeRasterizer is an in-memory stand-in for the native renderer. Every opened document
// shares its counters so tests can observe how often the miss path rasterizes.
type fakeRasterizer struct {
	sizes []image.Point // native page sizes
	tint  uint8         // distinguishes images from different fakes

	openErr      error
	pageCountErr error
	failPages    map[int]bool

	// started receives once per RenderPage call when set; block holds the call until closed
	started chan int
	block   chan struct{}

	mu      sync.Mutex
	renders map[int]int

	inFlight       atomic.Int32
	maxInFlight    atomic.Int32
	closes         atomic.Int32
	usedAfterClose atomic.Bool
}

func newFakeRasterizer(sizes ...image.Point) *fakeRasterizer {
	return &fakeRasterizer{
		sizes:     sizes,
		failPages: map[int]bool{},
		renders:   map[int]int{},
	}
}

func threePages() *fakeRasterizer {
	return newFakeRasterizer(image.Pt(100, 200), image.Pt(150, 150), image.Pt(80, 60))
}

func (r *fakeRasterizer) Open(path string) (pdfrenderer.Document, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	return &fakeDocument{r: r}, nil
}

func (r *fakeRasterizer) Close() error { return nil }

func (r *fakeRasterizer) renderCount(index int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renders[index]
}

func (r *fakeRasterizer) totalRenders() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, n := range r.renders {
		total += n
	}
	return total
}

// pageColor is the solid fill of every image the fake renders for index
func (r *fakeRasterizer) pageColor(index int) color.NRGBA {
	return color.NRGBA{R: uint8(40 * (index + 1)), G: r.tint, B: 90, A: 255}
}

type fakeDocument struct {
	r      *fakeRasterizer
	closed atomic.Bool
}

func (d *fakeDocument) PageCount() (int, error) {
	if d.r.pageCountErr != nil {
		return 0, d.r.pageCountErr
	}
	return len(d.r.sizes), nil
}

func (d *fakeDocument) PageSize(index int) (int, int, error) {
	if d.closed.Load() {
		d.r.usedAfterClose.Store(true)
		return 0, 0, errors.New("document closed")
	}
	if index < 0 || index >= len(d.r.sizes) {
		return 0, 0, errors.New("no such page")
	}
	return d.r.sizes[index].X, d.r.sizes[index].Y, nil
}

func (d *fakeDocument) RenderPage(index, width, height int) (image.Image, error) {
	n := d.r.inFlight.Add(1)
	defer d.r.inFlight.Add(-1)
	for {
		peak := d.r.maxInFlight.Load()
		if n <= peak || d.r.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	if d.r.started != nil {
		d.r.started <- index
	}
	if d.r.block != nil {
		<-d.r.block
	} else {
		// Widen the window for overlapping calls to show up
		time.Sleep(2 * time.Millisecond)
	}

	if d.closed.Load() {
		d.r.usedAfterClose.Store(true)
		return nil, errors.New("document closed")
	}

	d.r.mu.Lock()
	d.r.renders[index]++
	d.r.mu.Unlock()

	if d.r.failPages[index] {
		return nil, errors.New("corrupt page")
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	fill := d.r.pageColor(index)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, fill)
		}
	}
	return img, nil
}

func (d *fakeDocument) Close() error {
	if d.closed.CompareAndSwap(false, true) {
		d.r.closes.Add(1)
	}
	return nil
}

// failingStore is a filesystem page cache whose writes fail for chosen pages
type failingStore struct {
	*pagecache.Cache
	mu        sync.Mutex
	failPages map[int]bool
}

func newFailingStore(pages ...int) *failingStore {
	s := &failingStore{Cache: pagecache.New(), failPages: map[int]bool{}}
	for _, p := range pages {
		s.failPages[p] = true
	}
	return s
}

func (s *failingStore) Put(key pagecache.Key, img image.Image) error {
	s.mu.Lock()
	fail := s.failPages[key.Index]
	s.mu.Unlock()
	if fail {
		return &pagecache.CacheWriteError{Key: key, Err: errors.New("no space left on device")}
	}
	return s.Cache.Put(key, img)
}

// writeDocument puts a placeholder document on disk so the readability check passes
func writeDocument(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "document.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\n%%EOF\n"), 0644); err != nil {
		t.Fatalf("Failed to write test document: %v", err)
	}
	return path
}

func openSession(t *testing.T, r *fakeRasterizer, opts SessionOptions) *Session {
	t.Helper()
	if opts.CacheDir == "" {
		opts.CacheDir = t.TempDir()
	}
	s, err := Open(r, writeDocument(t), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// collector gathers pages delivered to onReady
type collector struct {
	ch chan Page
}

func newCollector() *collector {
	return &collector{ch: make(chan Page, 64)}
}

func (c *collector) onReady(p Page) { c.ch <- p }

func (c *collector) wait(t *testing.T) Page {
	t.Helper()
	select {
	case p := <-c.ch:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for page callback")
		return Page{}
	}
}

func (c *collector) pending() int {
	return len(c.ch)
}

func colorAt(img image.Image, x, y int) color.NRGBA {
	return color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
}
