package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/config"
	"github.com/mediarelay/fetchbot/internal/scheduler"
)

type HealthResponse struct {
	Status     string                 `json:"status"`
	Timestamp  string                 `json:"timestamp"`
	Components map[string]interface{} `json:"components"`
	Queue      map[string]int         `json:"queue"`
}

// StartHealthServer starts the health check HTTP server
func StartHealthServer(cfg *config.Config, stats func() scheduler.Stats, toolCheck, storeCheck func() error, logger *zap.Logger) {
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		health := checkHealth(cfg, stats, toolCheck, storeCheck, logger)

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "healthy" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		json.NewEncoder(w).Encode(health)
	})

	http.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		// Readiness check - can we process downloads?
		if err := toolCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
		if err := storeCheck(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	http.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		// Liveness check - is the process alive?
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("alive"))
	})

	addr := fmt.Sprintf(":%d", cfg.HealthCheckPort)
	logger.Info("Starting health check server", zap.String("addr", addr))

	go func() {
		if err := http.ListenAndServe(addr, nil); err != nil {
			logger.Error("Health server error", zap.Error(err))
		}
	}()
}

func checkHealth(cfg *config.Config, stats func() scheduler.Stats, toolCheck, storeCheck func() error, logger *zap.Logger) HealthResponse {
	health := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().Format(time.RFC3339),
		Components: make(map[string]interface{}),
		Queue:      make(map[string]int),
	}

	// Check external tools
	if err := toolCheck(); err != nil {
		health.Status = "unhealthy"
		health.Components["tools"] = map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		}
		logger.Warn("Tool health check failed", zap.Error(err))
	} else {
		health.Components["tools"] = "healthy"
	}

	// Check snapshot store
	if err := storeCheck(); err != nil {
		health.Status = "unhealthy"
		health.Components["snapshot_store"] = map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		}
		logger.Warn("Snapshot store health check failed", zap.Error(err))
	} else {
		health.Components["snapshot_store"] = "healthy"
	}

	// Check download directory
	if err := checkWritable(cfg.DownloadDir); err != nil {
		health.Status = "unhealthy"
		health.Components["download_dir"] = map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		}
		logger.Warn("Download dir health check failed", zap.Error(err))
	} else {
		health.Components["download_dir"] = "healthy"
	}

	// Queue statistics
	s := stats()
	health.Queue["owners"] = s.Owners
	health.Queue["queued"] = s.QueuedTasks
	health.Queue["active"] = s.ActiveSlots
	health.Queue["capacity"] = s.Capacity

	return health
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".healthcheck-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
