package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/drummonds/pdfview/engine/pagecache"
	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// abandonedWriteAge is how old a temporary page artifact must be before the janitor removes it
const abandonedWriteAge = 10 * time.Minute

func logger() *slog.Logger {
	if Logger != nil {
		return Logger
	}
	return slog.Default()
}

// InitializeSchedules sweeps the cache once, then starts the periodic janitor and returns the
// running scheduler
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	interval := serverHandler.ViewerConfig.JanitorInterval
	if interval <= 0 {
		interval = 30
	}
	cacheDir := serverHandler.ViewerConfig.CacheDir

	c := cron.New()
	var janitorJob cron.Job
	janitorJob = cron.FuncJob(func() { janitorJobFunc(cacheDir) })
	janitorJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(janitorJob) //ensure we don't kick off another if old one is still running

	// Run once at startup to clear anything left by a previous crash; done before returning
	logger().Info("Running cache janitor at startup")
	janitorJob.Run()

	if _, err := c.AddJob(fmt.Sprintf("@every %dm", interval), janitorJob); err != nil {
		logger().Error("Unable to schedule cache janitor", "error", err)
	}
	logger().Info("Adding cache janitor scheduler", "interval_minutes", interval)
	c.Start()
	return c
}

func janitorJobFunc(cacheDir string) {
	defer func() {
		if r := recover(); r != nil {
			logger().Error("Panic recovered in cache janitor", "panic", r)
		}
	}()

	removed, err := pagecache.Sweep(cacheDir, abandonedWriteAge)
	if err != nil {
		logger().Error("Cache janitor failed", "path", cacheDir, "error", err)
		return
	}
	if removed > 0 {
		logger().Info("Cache janitor removed abandoned page artifacts", "count", removed)
	}
}
