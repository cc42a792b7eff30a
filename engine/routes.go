package engine

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"github.com/drummonds/pdfview/config"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	Viewer       *Viewer
	Echo         *echo.Echo
	ViewerConfig config.ViewerConfig
}

type openDocumentRequest struct {
	Path    string `json:"path"`
	URL     string `json:"url"`
	Quality string `json:"quality"`
}

type documentInfo struct {
	ID        string `json:"id"`
	Path      string `json:"path"`
	PageCount int    `json:"pageCount"`
	Quality   string `json:"quality"`
}

func infoFor(session *Session) documentInfo {
	return documentInfo{
		ID:        session.ID.String(),
		Path:      session.Path(),
		PageCount: session.PageCount(),
		Quality:   session.Quality().String(),
	}
}

// RegisterRoutes adds every viewer route to the echo instance
func (serverHandler *ServerHandler) RegisterRoutes() {
	e := serverHandler.Echo
	e.GET("/health", serverHandler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/api/document", serverHandler.OpenDocument)
	e.GET("/api/document", serverHandler.GetDocument)
	e.DELETE("/api/document", serverHandler.CloseDocument)
	e.GET("/api/document/page/:index", serverHandler.GetPage)
	e.POST("/api/document/prefetch", serverHandler.PrefetchPages)
}

// Health reports that the server is up
// @Summary Health check
// @Description Reports that the page server is running
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string "Server is healthy"
// @Router /health [get]
func (serverHandler *ServerHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// OpenDocument opens a local path or downloads a URL, replacing the open document
// @Summary Open a document
// @Description Opens a local PDF or downloads one from a URL, closing any open document and starting with an empty page cache
// @Tags Document
// @Accept json
// @Produce json
// @Param request body openDocumentRequest true "Exactly one of path or url, plus an optional quality (low, normal, high)"
// @Success 200 {object} documentInfo "Opened document"
// @Failure 400 {object} map[string]interface{} "Invalid request"
// @Failure 409 {object} map[string]interface{} "Page cache is in use by another session"
// @Failure 422 {object} map[string]interface{} "Document could not be opened"
// @Failure 503 {object} map[string]interface{} "Download failed"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /api/document [post]
func (serverHandler *ServerHandler) OpenDocument(c echo.Context) error {
	var req openDocumentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid request body",
		})
	}
	if (req.Path == "") == (req.URL == "") {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Exactly one of path or url is required",
		})
	}
	quality, err := ParseQuality(req.Quality)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": err.Error(),
		})
	}

	var session *Session
	if req.URL != "" {
		session, err = serverHandler.Viewer.InitWithURL(c.Request().Context(), req.URL, quality)
	} else {
		session, err = serverHandler.Viewer.InitWithPath(req.Path, quality)
	}
	if err != nil {
		logger().Error("Failed to open document", "path", req.Path, "url", req.URL, "error", err)
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, ErrContentUnavailable):
			status = http.StatusServiceUnavailable
		case errors.Is(err, ErrOpen):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, ErrNamespaceLocked):
			status = http.StatusConflict
		}
		return c.JSON(status, map[string]interface{}{
			"error": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, infoFor(session))
}

// GetDocument describes the open document
// @Summary Get the open document
// @Description Returns the ID, path, page count and quality of the open document
// @Tags Document
// @Produce json
// @Success 200 {object} documentInfo "Open document"
// @Failure 404 {object} map[string]interface{} "No document open"
// @Router /api/document [get]
func (serverHandler *ServerHandler) GetDocument(c echo.Context) error {
	session, err := serverHandler.Viewer.Session()
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "No document open",
		})
	}
	return c.JSON(http.StatusOK, infoFor(session))
}

// CloseDocument closes the open document
// @Summary Close the open document
// @Description Closes the open document, waiting for any in-progress render to finish
// @Tags Document
// @Produce json
// @Success 204 "Document closed"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /api/document [delete]
func (serverHandler *ServerHandler) CloseDocument(c echo.Context) error {
	if err := serverHandler.Viewer.CloseDocument(); err != nil {
		logger().Error("Failed to close document", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to close document",
		})
	}
	return c.NoContent(http.StatusNoContent)
}

// GetPage renders a page as PNG and warms the cache for the pages after it
// @Summary Get a page bitmap
// @Description Returns the page rendered at the document quality, from the page cache when possible. X-Page-Cached reports a cache hit.
// @Tags Document
// @Produce png
// @Param index path int true "Zero-based page index"
// @Success 200 {file} binary "PNG page bitmap"
// @Failure 400 {object} map[string]interface{} "Invalid page index"
// @Failure 404 {object} map[string]interface{} "No document open or page not found"
// @Failure 409 {object} map[string]interface{} "Document was closed"
// @Failure 500 {object} map[string]interface{} "Render failed"
// @Router /api/document/page/{index} [get]
func (serverHandler *ServerHandler) GetPage(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid page index",
		})
	}
	session, err := serverHandler.Viewer.Session()
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "No document open",
		})
	}

	page, err := session.Render(c.Request().Context(), index)
	if err != nil {
		switch {
		case errors.Is(err, ErrPageOutOfRange):
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error":     "Page not found",
				"pageCount": session.PageCount(),
			})
		case errors.Is(err, ErrSessionClosed):
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error": "Document was closed",
			})
		}
		logger().Error("Failed to render page", "page", index, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to render page",
		})
	}

	if n := serverHandler.ViewerConfig.PrefetchCount; n > 0 {
		go func() {
			if err := session.Prefetch(context.Background(), index+1, n); err != nil && !errors.Is(err, ErrSessionClosed) {
				logger().Warn("Prefetch failed", "from", index+1, "error", err)
			}
		}()
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, page.Image, imaging.PNG); err != nil {
		logger().Error("Failed to encode page", "page", index, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to encode page",
		})
	}
	c.Response().Header().Set("X-Page-Cached", strconv.FormatBool(page.Cached))
	return c.Blob(http.StatusOK, "image/png", buf.Bytes())
}

// PrefetchPages warms the page cache for a window of pages
// @Summary Prefetch pages
// @Description Renders a window of pages into the page cache. Out of range pages are skipped.
// @Tags Document
// @Produce json
// @Param from query int true "First page index"
// @Param count query int false "Number of pages, 1 to 100 (default PREFETCH_COUNT)"
// @Success 200 {object} map[string]interface{} "Window that was prefetched"
// @Failure 400 {object} map[string]interface{} "Invalid from"
// @Failure 404 {object} map[string]interface{} "No document open"
// @Failure 500 {object} map[string]interface{} "Prefetch failed"
// @Router /api/document/prefetch [post]
func (serverHandler *ServerHandler) PrefetchPages(c echo.Context) error {
	from, err := strconv.Atoi(c.QueryParam("from"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid from",
		})
	}
	count := serverHandler.ViewerConfig.PrefetchCount
	if countStr := c.QueryParam("count"); countStr != "" {
		if n, err := strconv.Atoi(countStr); err == nil && n > 0 && n <= 100 {
			count = n
		}
	}
	session, err := serverHandler.Viewer.Session()
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{
			"error": "No document open",
		})
	}
	if err := session.Prefetch(c.Request().Context(), from, count); err != nil {
		logger().Error("Prefetch failed", "from", from, "count", count, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"from":  from,
		"count": count,
	})
}
