package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/config"
	"github.com/mediarelay/fetchbot/internal/delivery"
	"github.com/mediarelay/fetchbot/internal/health"
	"github.com/mediarelay/fetchbot/internal/janitor"
	"github.com/mediarelay/fetchbot/internal/logger"
	"github.com/mediarelay/fetchbot/internal/metrics"
	"github.com/mediarelay/fetchbot/internal/pipeline"
	"github.com/mediarelay/fetchbot/internal/progress"
	"github.com/mediarelay/fetchbot/internal/scheduler"
	"github.com/mediarelay/fetchbot/internal/store"
	"github.com/mediarelay/fetchbot/internal/telegram"
	"github.com/mediarelay/fetchbot/internal/ytdlp"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.InitLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting FetchBot - Telegram Media Download Bot")

	// 3. Ensure download directory exists
	if err := os.MkdirAll(cfg.DownloadDir, 0755); err != nil {
		log.Fatal("Error creating download directory", zap.Error(err))
	}

	// 4. Open queue snapshot store
	target := cfg.SnapshotPath
	if cfg.SnapshotBackend == "postgres" {
		target = cfg.GetDatabaseDSN()
	}
	st, err := store.Open(cfg.SnapshotBackend, target)
	if err != nil {
		log.Fatal("Error opening queue store", zap.Error(err))
	}
	defer st.Close()
	log.Info("Queue store opened", zap.String("backend", cfg.SnapshotBackend))

	// 5. Verify external tools before accepting any work
	ytdl := ytdlp.New(cfg, log)
	if err := ytdl.CheckTools(); err != nil {
		log.Fatal("FATAL ERROR: required tools missing. Install yt-dlp and ffmpeg to enable downloads.",
			zap.Error(err))
	}
	log.Info("External tools found, proceeding with startup")

	// 6. Authorize the Telegram bot
	bot, err := telegram.NewBot(cfg, log)
	if err != nil {
		log.Fatal("Error creating Telegram bot", zap.Error(err))
	}
	notifier := telegram.NewNotifier(bot, log)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	// 7. Start the progress reporter
	reporter := progress.NewReporter(notifier, time.Duration(cfg.ProgressIntervalMS)*time.Millisecond, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reporter.Start(ctx)
	}()

	// 8. Build the delivery chain: direct sends first, remote hosts as
	// fallback in fixed order.
	uploadTimeout := time.Duration(cfg.UploadTimeoutSec) * time.Second
	chain := delivery.NewChain([]delivery.Backend{
		delivery.NewGoFile(uploadTimeout),
		delivery.NewFileIO(uploadTimeout),
		delivery.NewTransferSh(uploadTimeout),
	}, uploadTimeout, log)
	deliverer := delivery.NewDeliverer(notifier, chain, cfg.DirectSendMaxBytes, log)

	// 9. Build the pipeline and scheduler, then resume persisted queues
	pipe := pipeline.New(cfg, ytdl, ytdl, deliverer, reporter, notifier, log)
	sched := scheduler.New(cfg, st, pipe, notifier, log)
	sched.Start(ctx)

	resumed, err := sched.Resume()
	if err != nil {
		log.Error("Error resuming persisted queues", zap.Error(err))
	}
	if resumed > 0 {
		log.Info("Resumed persisted tasks", zap.Int("count", resumed))
	}

	// 10. Start health check server
	health.StartHealthServer(cfg, sched.Stats, ytdl.CheckTools, st.Ping, log)
	log.Info("Health check server started", zap.Int("port", cfg.HealthCheckPort))

	// 11. Start metrics server
	metrics.StartMetricsServer(cfg, func() metrics.QueueStats {
		s := sched.Stats()
		return metrics.QueueStats{
			Owners:      s.Owners,
			QueuedTasks: s.QueuedTasks,
			ActiveSlots: s.ActiveSlots,
			Capacity:    s.Capacity,
		}
	}, log)
	log.Info("Metrics server started", zap.Int("port", cfg.MetricsPort))

	// 12. Start the artifact janitor
	jan := janitor.New(cfg, log)
	if err := jan.Start(); err != nil {
		log.Fatal("Error starting janitor", zap.Error(err))
	}

	// 13. Start the Telegram receiver
	receiver := telegram.NewReceiver(cfg, bot, sched, ytdl, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		receiver.Start(ctx)
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	log.Info("🚀 Bot is running! Waiting for shutdown signal")
	sig := <-sigChan
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	log.Info("Shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		sched.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("All workers stopped gracefully")
	case <-sigChan:
		log.Warn("Forced shutdown - workers may not have stopped cleanly")
	}

	jan.Stop()
	log.Info("Shutdown complete")
}
