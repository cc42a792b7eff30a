package engine

import (
	"github.com/drummonds/pdfview/config"
)

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks() error {
	if err := config.CheckCacheDir(serverHandler.ViewerConfig.CacheDir, logger()); err != nil {
		logger().Error("Cache directory unusable", "path", serverHandler.ViewerConfig.CacheDir, "error", err)
		return err
	}
	if _, err := ParseQuality(serverHandler.ViewerConfig.Quality); err != nil {
		logger().Warn("Invalid PDF_QUALITY, falling back to normal", "error", err)
	}
	return nil
}
