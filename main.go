package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	config "github.com/drummonds/pdfview/config"
	engine "github.com/drummonds/pdfview/engine"
	"github.com/drummonds/pdfview/engine/pagecache"
	"github.com/drummonds/pdfview/engine/pdfrenderer"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	config.Logger = Logger
	engine.Logger = Logger
	pagecache.Logger = Logger
}

// @title pdfview API
// @version 1.0
// @description Renders PDF pages to bitmaps and serves them from an on-disk page cache

// @host localhost:8000
// @BasePath /
// @schemes http

// @tag.name Document
// @tag.description Open a document and fetch its pages

// @tag.name System
// @tag.description Health and metrics
func main() {
	var root = &cobra.Command{
		Use:          "pdfview",
		Short:        "Render and cache PDF pages as bitmaps",
		SilenceUsage: true,
	}

	root.AddCommand(serveCMD(), renderCMD(), infoCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCMD() *cobra.Command {
	var documentPath string
	var port string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the page server",
		RunE: func(cmd *cobra.Command, args []string) error {
			viewerConfig, logger := config.SetupViewer()
			injectGlobals(logger)
			if port != "" {
				viewerConfig.ListenAddrPort = port
			}
			return runServer(viewerConfig, documentPath)
		},
	}
	serve.Flags().StringVar(&documentPath, "open", "", "document to open at startup")
	serve.Flags().StringVarP(&port, "port", "p", "", "listen port (default SERVER_PORT)")
	return serve
}

func renderCMD() *cobra.Command {
	var quality string
	var render = &cobra.Command{
		Use:   "render <file> <page> <out.png>",
		Short: "Render one page of a document to a PNG file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			viewerConfig, logger := config.SetupViewer()
			injectGlobals(logger)

			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid page index %q: %w", args[1], err)
			}
			if quality == "" {
				quality = viewerConfig.Quality
			}
			q, err := engine.ParseQuality(quality)
			if err != nil {
				return err
			}

			rasterizer, err := pdfrenderer.NewRasterizer(viewerConfig.Backend)
			if err != nil {
				return err
			}
			defer rasterizer.Close()

			// A private root keeps a one-shot render out of a running server's namespace
			if err := config.CheckCacheDir(viewerConfig.CacheDir, logger); err != nil {
				return err
			}
			cacheRoot, err := os.MkdirTemp(viewerConfig.CacheDir, "render-*")
			if err != nil {
				return fmt.Errorf("failed to create render cache: %w", err)
			}
			defer os.RemoveAll(cacheRoot)

			session, err := engine.Open(rasterizer, args[0], engine.SessionOptions{
				Quality:  q,
				CacheDir: cacheRoot,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			defer session.Close()

			page, err := session.Render(cmd.Context(), index)
			if err != nil {
				return err
			}
			if err := imaging.Save(page.Image, args[2]); err != nil {
				return fmt.Errorf("failed to save %s: %w", args[2], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "page %d of %d written to %s (%dx%d)\n",
				index, session.PageCount(), args[2], page.Width(), page.Height())
			return nil
		},
	}
	render.Flags().StringVarP(&quality, "quality", "q", "", "low, normal or high (default PDF_QUALITY)")
	return render
}

func infoCMD() *cobra.Command {
	var info = &cobra.Command{
		Use:   "info <file>",
		Short: "Print the page count of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			viewerConfig, logger := config.SetupViewer()
			injectGlobals(logger)

			rasterizer, err := pdfrenderer.NewRasterizer(viewerConfig.Backend)
			if err != nil {
				return err
			}
			defer rasterizer.Close()

			doc, err := rasterizer.Open(args[0])
			if err != nil {
				return err
			}
			defer doc.Close()

			count, err := doc.PageCount()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d pages\n", args[0], count)
			for i := 0; i < count; i++ {
				w, h, err := doc.PageSize(i)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  page %d: %dx%d\n", i, w, h)
			}
			return nil
		},
	}
	return info
}

func runServer(viewerConfig config.ViewerConfig, documentPath string) error {
	rasterizer, err := pdfrenderer.NewRasterizer(viewerConfig.Backend)
	if err != nil {
		Logger.Error("Unable to create rasterizer", "backend", viewerConfig.Backend, "error", err)
		return err
	}
	defer rasterizer.Close()

	quality, err := engine.ParseQuality(viewerConfig.Quality)
	if err != nil {
		quality = engine.QualityNormal
	}

	viewer := engine.NewViewer(rasterizer, engine.ViewerOptions{
		CacheDir:   viewerConfig.CacheDir,
		Quality:    quality,
		Downloader: engine.NewDownloader(viewerConfig.CacheDir, viewerConfig.DownloadTimeout, viewerConfig.DownloadRetries, nil),
		Logger:     Logger,
	})
	defer viewer.Close()

	e := echo.New()
	Logger.Info("Echo created")

	serverHandler := engine.ServerHandler{Viewer: viewer, Echo: e, ViewerConfig: viewerConfig}
	if err := serverHandler.StartupChecks(); err != nil { //Run all the sanity checks
		return err
	}
	scheduler := serverHandler.InitializeSchedules() //initialize the cache janitor
	defer scheduler.Stop()

	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))
	serverHandler.RegisterRoutes()

	if documentPath != "" {
		if _, err := viewer.InitWithPath(documentPath, quality); err != nil {
			Logger.Error("Unable to open startup document", "path", documentPath, "error", err)
		}
	}

	if viewerConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}

	Logger.Info("Starting HTTP server")

	// Try to start server with automatic port increment if port is in use
	maxRetries := 5
	startPort := viewerConfig.ListenAddrPort
	var startErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", viewerConfig.ListenAddrIP, viewerConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		startErr = e.Start(addr)
		if startErr == nil || !isAddressInUse(startErr) {
			break
		}

		Logger.Warn("Port already in use, trying next port",
			"port", viewerConfig.ListenAddrPort,
			"attempt", attempt+1,
			"max_attempts", maxRetries)
		portNum, _ := strconv.Atoi(viewerConfig.ListenAddrPort)
		viewerConfig.ListenAddrPort = strconv.Itoa(portNum + 1)
	}

	if startErr != nil && isAddressInUse(startErr) {
		Logger.Error("Failed to find available port after maximum retries",
			"start_port", startPort,
			"end_port", viewerConfig.ListenAddrPort,
			"max_retries", maxRetries)
		return startErr
	}
	if startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
		Logger.Error("Failed to start server", "error", startErr)
		return startErr
	}
	return nil
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "address already in use")
}
