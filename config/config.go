package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// ViewerConfig contains all of the viewer and page server settings
type ViewerConfig struct {
	ListenAddrIP    string
	ListenAddrPort  string
	CacheDir        string // root directory holding downloads and the page cache namespace
	Quality         string // low, normal or high
	Backend         string // pdfium or fitz
	DownloadTimeout time.Duration
	DownloadRetries int
	JanitorInterval int // minutes between sweeps of abandoned cache writes
	PrefetchCount   int // pages warmed ahead of each served page
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// defaultCacheDir is the user cache dir when the platform has one, the working directory otherwise
func defaultCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return "cache"
	}
	return filepath.Join(base, "pdfview")
}

// SetupViewer loads configuration and returns ViewerConfig and Logger
func SetupViewer() (ViewerConfig, *slog.Logger) {
	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	viewerConfig := LoadViewerConfig()

	logger.Info("Viewer configuration loaded",
		"cacheDir", viewerConfig.CacheDir,
		"quality", viewerConfig.Quality,
		"backend", viewerConfig.Backend)

	return viewerConfig, logger
}

// LoadViewerConfig reads the viewer settings from the environment without touching logging
func LoadViewerConfig() ViewerConfig {
	viewerConfig := ViewerConfig{}

	// Server configuration
	viewerConfig.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	viewerConfig.ListenAddrIP = getEnv("SERVER_ADDR", "")

	cacheDir := filepath.ToSlash(getEnv("CACHE_DIR", defaultCacheDir()))
	cacheDirAbs, err := filepath.Abs(cacheDir)
	if err != nil {
		if Logger != nil {
			Logger.Error("Failed creating absolute path for cache directory", "error", err)
		}
		cacheDirAbs = cacheDir
	}
	viewerConfig.CacheDir = cacheDirAbs

	// Rendering configuration
	viewerConfig.Quality = getEnv("PDF_QUALITY", "normal")
	viewerConfig.Backend = getEnv("PDF_BACKEND", "pdfium")
	viewerConfig.PrefetchCount = getEnvInt("PREFETCH_COUNT", 2)

	// Download configuration
	viewerConfig.DownloadTimeout = time.Duration(getEnvInt("DOWNLOAD_TIMEOUT", 120)) * time.Second
	viewerConfig.DownloadRetries = getEnvInt("DOWNLOAD_RETRIES", 3)

	viewerConfig.JanitorInterval = getEnvInt("JANITOR_INTERVAL", 30)

	return viewerConfig
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "debug")
	var level slog.Level

	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelDebug
	}

	handlerOptions := &slog.HandlerOptions{Level: level, AddSource: getEnvBool("LOG_SOURCE", false)}

	logOutput := getEnv("LOG_OUTPUT", "file")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "pdfview.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}

// checkCacheDir verifies that the cache root is usable, creating it when missing
func checkCacheDir(cacheDir string, logger *slog.Logger) error {
	info, err := os.Stat(cacheDir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("Cannot stat cache directory", "path", cacheDir, "error", err)
			return err
		}
		if err := os.MkdirAll(cacheDir, 0750); err != nil {
			logger.Error("Failed to create cache directory", "path", cacheDir, "error", err)
			return err
		}
		logger.Info("Cache directory created", "path", cacheDir)
		return nil
	}
	if !info.IsDir() {
		logger.Error("Cache path exists but is not a directory", "path", cacheDir)
		return fmt.Errorf("cache path is not a directory: %s", cacheDir)
	}
	logger.Debug("Cache directory found", "path", cacheDir)
	return nil
}

// CheckCacheDir is the exported form of checkCacheDir used by the startup checks
func CheckCacheDir(cacheDir string, logger *slog.Logger) error {
	return checkCacheDir(cacheDir, logger)
}
