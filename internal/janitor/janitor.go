package janitor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/config"
)

// Janitor removes stale files from the download directory on a cron
// schedule. The pipeline cleans up after itself; the janitor catches
// whatever a crash or kill left behind, including .part files.
type Janitor struct {
	cfg    *config.Config
	cron   *cron.Cron
	logger *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger) *Janitor {
	return &Janitor{
		cfg:    cfg,
		cron:   cron.New(),
		logger: logger.With(zap.String("component", "janitor")),
	}
}

func (j *Janitor) Start() error {
	j.logger.Info("Janitor started",
		zap.String("schedule", j.cfg.JanitorSpec),
		zap.Int("max_age_sec", j.cfg.ArtifactMaxAgeSec))

	// Run once on startup, then on the schedule
	j.sweepNow()

	if _, err := j.cron.AddFunc(j.cfg.JanitorSpec, j.sweepNow); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", j.cfg.JanitorSpec, err)
	}
	j.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a sweep in flight to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	j.logger.Info("Janitor stopped")
}

func (j *Janitor) sweepNow() {
	maxAge := time.Duration(j.cfg.ArtifactMaxAgeSec) * time.Second
	removed := sweepDir(j.cfg.DownloadDir, maxAge, time.Now(), j.logger)
	if removed > 0 {
		j.logger.Info("Stale artifact sweep finished", zap.Int("removed_count", removed))
	}
}

func sweepDir(dir string, maxAge time.Duration, now time.Time, logger *zap.Logger) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Error("Error reading download directory", zap.Error(err))
		return 0
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Error("Error removing stale artifact",
				zap.String("path", path),
				zap.Error(err))
		} else {
			logger.Info("Removed stale artifact", zap.String("path", path))
			removed++
		}
	}
	return removed
}
