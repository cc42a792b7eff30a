package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
)

const downloadBufferSize = 8192

// DownloadListener receives download notifications on the dispatcher
type DownloadListener interface {
	OnDownloadStart()
	OnDownloadProgress(currentBytes, totalBytes int64)
	OnDownloadSuccess(absolutePath string)
	OnError(err error)
}

// BaseDownloadListener ignores every notification; embed it to implement only what you need
type BaseDownloadListener struct{}

func (BaseDownloadListener) OnDownloadStart()                {}
func (BaseDownloadListener) OnDownloadProgress(int64, int64) {}
func (BaseDownloadListener) OnDownloadSuccess(string)        {}
func (BaseDownloadListener) OnError(error)                   {}

// Downloader streams remote documents into the cache directory
type Downloader struct {
	CacheDir   string
	HTTPClient *http.Client
	Dispatcher *Dispatcher
	retrier    retry.Retry[string]
}

// NewDownloader creates a downloader writing into cacheDir
func NewDownloader(cacheDir string, timeout time.Duration, retries int, dispatcher *Dispatcher) *Downloader {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if retries <= 0 {
		retries = 1
	}
	return &Downloader{
		CacheDir: cacheDir,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		Dispatcher: dispatcher,
		retrier: retry.New[string](retry.Config{
			MaxAttempts:   retries,
			InitialDelay:  500 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    2.0,
			// Client errors will not change on retry
			NonRetryableErrors: []error{ErrDownloadRejected},
		}),
	}
}

// Download fetches url into <CacheDir>/<id>.pdf and returns the absolute path. Failures are
// reported to the listener and returned wrapped in ErrContentUnavailable. The destination is
// only ever replaced by a rename of a complete download, so a failed download leaves any
// previous document there untouched.
func (d *Downloader) Download(ctx context.Context, url, id string, listener DownloadListener) (string, error) {
	if listener == nil {
		listener = BaseDownloadListener{}
	}
	d.post(listener.OnDownloadStart)

	outputFile, err := filepath.Abs(filepath.Join(d.CacheDir, id+".pdf"))
	if err == nil {
		err = os.MkdirAll(d.CacheDir, 0750)
	}
	if err == nil {
		_, err = d.retrier.Do(ctx, func(ctx context.Context) (string, error) {
			return d.fetch(ctx, url, outputFile, listener)
		})
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrContentUnavailable, err)
		logger().Error("Download failed", "url", url, "error", err)
		d.post(func() { listener.OnError(err) })
		return "", err
	}

	logger().Info("Download complete", "url", url, "path", outputFile)
	d.post(func() { listener.OnDownloadSuccess(outputFile) })
	return outputFile, nil
}

func (d *Downloader) fetch(ctx context.Context, url, outputFile string, listener DownloadListener) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDownloadRejected, err)
	}

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("server error %d fetching %s", resp.StatusCode, url)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d fetching %s", ErrDownloadRejected, resp.StatusCode, url)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outputFile), "."+filepath.Base(outputFile)+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}
	tmpPath := tmp.Name()

	totalLength := resp.ContentLength
	var downloaded int64
	buf := make([]byte, downloadBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := tmp.Write(buf[:n]); err != nil {
				tmp.Close()
				os.Remove(tmpPath)
				return "", fmt.Errorf("failed to write download: %w", err)
			}
			downloaded += int64(n)
			if totalLength > 0 {
				current := downloaded
				d.post(func() { listener.OnDownloadProgress(current, totalLength) })
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return "", fmt.Errorf("failed to read %s: %w", url, readErr)
		}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close download: %w", err)
	}
	if err := os.Rename(tmpPath, outputFile); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to publish download: %w", err)
	}
	return outputFile, nil
}

func (d *Downloader) post(fn func()) {
	if d.Dispatcher != nil {
		d.Dispatcher.Post(fn)
		return
	}
	fn()
}
