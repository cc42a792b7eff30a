package engine

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// recordingListener records download notifications
type recordingListener struct {
	mu       sync.Mutex
	started  int
	progress [][2]int64
	success  string
	err      error
}

func (l *recordingListener) OnDownloadStart() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started++
}

func (l *recordingListener) OnDownloadProgress(current, total int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.progress = append(l.progress, [2]int64{current, total})
}

func (l *recordingListener) OnDownloadSuccess(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.success = path
}

func (l *recordingListener) OnError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func documentBody() []byte {
	return bytes.Repeat([]byte("%PDF-1.4 page data "), 2000)
}

func TestDownloadStreamsToCacheDir(t *testing.T) {
	body := documentBody()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	d := NewDownloader(cacheDir, 5*time.Second, 1, nil)
	listener := &recordingListener{}

	path, err := d.Download(context.Background(), server.URL, "doc", listener)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if path != filepath.Join(cacheDir, "doc.pdf") {
		t.Errorf("Unexpected path %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read download: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Error("Downloaded bytes differ from the served document")
	}

	if listener.started != 1 {
		t.Errorf("Expected one start notification, got %d", listener.started)
	}
	if listener.success != path {
		t.Errorf("Expected success with %s, got %q", path, listener.success)
	}
	if len(listener.progress) == 0 {
		t.Fatal("Expected progress notifications")
	}
	last := listener.progress[len(listener.progress)-1]
	if last[0] != int64(len(body)) || last[1] != int64(len(body)) {
		t.Errorf("Expected final progress %d/%d, got %d/%d", len(body), len(body), last[0], last[1])
	}
	for i := 1; i < len(listener.progress); i++ {
		if listener.progress[i][0] < listener.progress[i-1][0] {
			t.Fatal("Progress went backwards")
		}
	}
}

func TestDownloadWithoutContentLengthSkipsProgress(t *testing.T) {
	body := documentBody()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Flushing before the body is complete forces chunked encoding
		w.Write(body[:100])
		w.(http.Flusher).Flush()
		w.Write(body[100:])
	}))
	defer server.Close()

	listener := &recordingListener{}
	d := NewDownloader(t.TempDir(), 5*time.Second, 1, nil)
	if _, err := d.Download(context.Background(), server.URL, "doc", listener); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if len(listener.progress) != 0 {
		t.Errorf("Expected no progress without a known length, got %d", len(listener.progress))
	}
}

func TestDownloadClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	listener := &recordingListener{}
	d := NewDownloader(cacheDir, 5*time.Second, 3, nil)

	_, err := d.Download(context.Background(), server.URL, "doc", listener)
	if !errors.Is(err, ErrContentUnavailable) {
		t.Fatalf("Expected ErrContentUnavailable, got %v", err)
	}
	if !errors.Is(err, ErrDownloadRejected) {
		t.Errorf("Expected ErrDownloadRejected, got %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("Expected a single attempt, got %d", got)
	}
	if !errors.Is(listener.err, ErrContentUnavailable) {
		t.Errorf("Expected listener error, got %v", listener.err)
	}
	if listener.success != "" {
		t.Error("Success reported for a failed download")
	}
}

func TestDownloadRetriesServerErrors(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping retry backoff test in short mode")
	}
	body := documentBody()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(body)
	}))
	defer server.Close()

	d := NewDownloader(t.TempDir(), 5*time.Second, 3, nil)
	path, err := d.Download(context.Background(), server.URL, "doc", nil)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("Expected two attempts, got %d", got)
	}
	if data, _ := os.ReadFile(path); !bytes.Equal(data, body) {
		t.Error("Downloaded bytes differ from the served document")
	}
}

func TestFailedDownloadKeepsPreviousDocument(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"truncated body", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Length", "4096")
			w.Write([]byte("%PDF-1.4\n"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			cacheDir := t.TempDir()
			// the open session may still be reading the earlier download
			previous := filepath.Join(cacheDir, "doc.pdf")
			if err := os.WriteFile(previous, []byte("old"), 0644); err != nil {
				t.Fatalf("Failed to write previous document: %v", err)
			}

			d := NewDownloader(cacheDir, 5*time.Second, 1, nil)
			if _, err := d.Download(context.Background(), server.URL, "doc", nil); !errors.Is(err, ErrContentUnavailable) {
				t.Fatalf("Expected ErrContentUnavailable, got %v", err)
			}

			data, err := os.ReadFile(previous)
			if err != nil || string(data) != "old" {
				t.Errorf("Expected previous document to be kept, got %q, %v", data, err)
			}
			entries, err := os.ReadDir(cacheDir)
			if err != nil {
				t.Fatalf("Failed to read cache dir: %v", err)
			}
			if len(entries) != 1 {
				t.Errorf("Expected only the previous document, found %d entries", len(entries))
			}
		})
	}
}

func TestDownloadReplacesPreviousDocument(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(documentBody())
	}))
	defer server.Close()

	cacheDir := t.TempDir()
	previous := filepath.Join(cacheDir, "doc.pdf")
	if err := os.WriteFile(previous, []byte("old"), 0644); err != nil {
		t.Fatalf("Failed to write previous document: %v", err)
	}

	d := NewDownloader(cacheDir, 5*time.Second, 1, nil)
	path, err := d.Download(context.Background(), server.URL, "doc", nil)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || !bytes.Equal(data, documentBody()) {
		t.Errorf("Expected the new document at %s, got %d bytes, %v", path, len(data), err)
	}
}

func TestDownloadNotifiesOnDispatcher(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(documentBody())
	}))
	defer server.Close()

	dispatcher := NewDispatcher(nil)
	listener := &recordingListener{}
	d := NewDownloader(t.TempDir(), 5*time.Second, 1, dispatcher)
	path, err := d.Download(context.Background(), server.URL, "doc", listener)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	dispatcher.Stop()

	if listener.started != 1 || listener.success != path {
		t.Errorf("Expected start and success notifications, got %d and %q", listener.started, listener.success)
	}
}
