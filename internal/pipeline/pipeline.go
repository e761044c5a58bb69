package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/config"
	"github.com/mediarelay/fetchbot/internal/delivery"
	"github.com/mediarelay/fetchbot/internal/media"
	"github.com/mediarelay/fetchbot/internal/metrics"
	"github.com/mediarelay/fetchbot/internal/model"
	"github.com/mediarelay/fetchbot/internal/notify"
	"github.com/mediarelay/fetchbot/internal/progress"
)

// Pipeline runs one task through resolve, fetch, validate and deliver.
// It owns every user-facing message for the task; the error it returns is
// for logs and metrics only.
type Pipeline struct {
	cfg       *config.Config
	resolver  media.Resolver
	fetcher   media.Fetcher
	deliverer *delivery.Deliverer
	reporter  *progress.Reporter
	notifier  notify.Notifier
	logger    *zap.Logger

	// settleDelay is the grace period before declaring a just-fetched
	// artifact missing; some post-processors rename late.
	settleDelay time.Duration
}

func New(cfg *config.Config, resolver media.Resolver, fetcher media.Fetcher, deliverer *delivery.Deliverer, reporter *progress.Reporter, notifier notify.Notifier, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:         cfg,
		resolver:    resolver,
		fetcher:     fetcher,
		deliverer:   deliverer,
		reporter:    reporter,
		notifier:    notifier,
		logger:      logger.With(zap.String("component", "pipeline")),
		settleDelay: 2 * time.Second,
	}
}

// Run drives the task to DONE or FAILED and reports the outcome to the
// owner exactly once.
func (p *Pipeline) Run(ctx context.Context, task *model.Task) error {
	task.StartedAt = time.Now()
	logger := p.logger.With(
		zap.String("task_id", task.ID),
		zap.Int64("owner_id", task.OwnerID))

	p.reporter.Begin(task.ID, task.OwnerID, "Preparing to download...")
	defer p.reporter.Finalize(task.ID)

	err := p.execute(ctx, task, logger)
	metrics.TaskDuration.Observe(time.Since(task.StartedAt).Seconds())

	if err != nil {
		task.State = model.StateFailed
		var terr *TaskError
		if !errors.As(err, &terr) {
			terr = &TaskError{Kind: FailInternal, Err: err}
		}
		metrics.TasksCompleted.WithLabelValues("failed").Inc()
		metrics.TaskFailures.WithLabelValues(string(terr.Kind)).Inc()
		logger.Error("Task failed",
			zap.String("kind", string(terr.Kind)),
			zap.Error(terr.Err))
		p.notifier.SendResult(task.OwnerID, failureMessage(terr))
		return terr
	}

	task.State = model.StateDone
	metrics.TasksCompleted.WithLabelValues("done").Inc()
	logger.Info("Task completed", zap.Duration("took", time.Since(task.StartedAt)))
	return nil
}

func (p *Pipeline) execute(ctx context.Context, task *model.Task, logger *zap.Logger) error {
	task.State = model.StateResolving
	resolveCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.ResolveTimeoutSec)*time.Second)
	meta, err := p.resolver.Resolve(resolveCtx, task.Spec.SourceURL)
	cancel()
	if err != nil {
		return failf(FailResolution, "resolve %s: %w", task.Spec.SourceURL, err)
	}
	logger.Info("Resolved source",
		zap.String("title", meta.Title),
		zap.Int64("approx_bytes", meta.ApproxSizeBytes),
		zap.Int("duration_s", meta.DurationSeconds))
	p.reporter.Report(progress.Update{
		TaskID:   task.ID,
		Stage:    "Downloading " + meta.Title,
		Fraction: -1,
		Force:    true,
	})

	task.State = model.StateFetching
	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.FetchTimeoutSec)*time.Second)
	art, err := p.fetcher.Fetch(fetchCtx, task.Spec, p.cfg.DownloadDir, p.progressFunc(task))
	cancel()
	if err != nil {
		return failf(FailFetch, "fetch %s: %w", task.Spec.SourceURL, err)
	}
	// The artifact never survives past this task, delivered or not.
	defer func() {
		if rmErr := os.Remove(art.Path); rmErr == nil {
			logger.Info("Cleaned up artifact", zap.String("path", art.Path))
		}
	}()

	task.State = model.StateValidating
	if err := p.validate(&art); err != nil {
		return failf(FailValidation, "%w", err)
	}

	task.State = model.StateDelivering
	displayName := filepath.Base(art.Path)
	if art.SizeBytes > p.deliverer.DirectLimit() {
		p.reporter.Report(progress.Update{
			TaskID:   task.ID,
			Stage:    fmt.Sprintf("File is %s, using external host...", progress.FormatBytes(art.SizeBytes)),
			Fraction: -1,
			Force:    true,
		})
	}
	outcome, err := p.deliverer.Deliver(ctx, task.OwnerID, art, displayName, func(backend string) {
		stage := fmt.Sprintf("Uploading to %s...", backend)
		if backend == "Telegram" {
			stage = fmt.Sprintf("Uploading %s to Telegram...", progress.FormatBytes(art.SizeBytes))
		}
		p.reporter.Report(progress.Update{TaskID: task.ID, Stage: stage, Fraction: -1, Force: true})
	})
	if err != nil {
		metrics.Deliveries.WithLabelValues("none").Inc()
		return failf(FailDelivery, "%w", err)
	}

	if outcome.Direct {
		metrics.Deliveries.WithLabelValues("direct").Inc()
		p.notifier.SendResult(task.OwnerID, fmt.Sprintf("✅ Done! Sent `%s` (%s).", displayName, progress.FormatBytes(art.SizeBytes)))
	} else {
		metrics.Deliveries.WithLabelValues(outcome.Backend).Inc()
		p.notifier.SendResult(task.OwnerID, fmt.Sprintf("✅ Upload complete!\n\n**File:** `%s`\n**Link:** %s", displayName, outcome.Link))
	}
	return nil
}

// validate confirms the artifact exists and is plausibly complete, and
// refreshes its size from disk.
func (p *Pipeline) validate(art *media.Artifact) error {
	info, err := os.Stat(art.Path)
	if err != nil {
		// Post-processing can rename a beat after the fetcher returns.
		time.Sleep(p.settleDelay)
		info, err = os.Stat(art.Path)
		if err != nil {
			return fmt.Errorf("artifact missing after fetch: %s", art.Path)
		}
	}
	if info.Size() < p.cfg.MinArtifactBytes {
		return fmt.Errorf("artifact suspiciously small (%s), fetch likely failed", progress.FormatBytes(info.Size()))
	}
	art.SizeBytes = info.Size()
	return nil
}

func (p *Pipeline) progressFunc(task *model.Task) media.ProgressFunc {
	start := time.Now()
	return func(fraction float64, rateLabel, etaLabel string) {
		p.reporter.Report(progress.Update{
			TaskID:   task.ID,
			Stage:    "Downloading...",
			Fraction: fraction,
			Rate:     rateLabel,
			ETA:      etaLabel,
			Elapsed:  progress.FormatElapsed(time.Since(start)),
		})
	}
}

func failureMessage(terr *TaskError) string {
	switch terr.Kind {
	case FailResolution:
		return fmt.Sprintf("❌ Could not process the link. Reason: %s", truncateReason(terr.Err))
	case FailDelivery:
		return "❌ All upload services failed. Could not upload the file."
	case FailInternal:
		return "❌ An unexpected critical error occurred during download."
	default:
		return fmt.Sprintf("❌ Download failed. Reason: %s", truncateReason(terr.Err))
	}
}

const maxReasonLen = 200

func truncateReason(err error) string {
	r := []rune(err.Error())
	if len(r) > maxReasonLen {
		r = r[:maxReasonLen]
	}
	return string(r)
}
