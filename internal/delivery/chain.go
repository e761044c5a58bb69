package delivery

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Chain tries an ordered list of backends and returns the first link.
// Every backend failure is soft: log, record, move on. The chain never
// retries a backend within one Deliver call.
type Chain struct {
	backends []Backend
	timeout  time.Duration
	logger   *zap.Logger
}

func NewChain(backends []Backend, timeout time.Duration, logger *zap.Logger) *Chain {
	return &Chain{
		backends: backends,
		timeout:  timeout,
		logger:   logger.With(zap.String("component", "delivery")),
	}
}

// Deliver uploads the file through the first backend that accepts it.
// onAttempt fires before each backend is tried so the caller can surface
// "Uploading to X..." to the user. On exhaustion the returned error
// aggregates every backend's failure.
func (c *Chain) Deliver(ctx context.Context, path string, onAttempt func(backend string)) (link, backend string, err error) {
	name := filepath.Base(path)

	var failures error
	for _, b := range c.backends {
		if onAttempt != nil {
			onAttempt(b.Name())
		}
		c.logger.Info("Attempting upload",
			zap.String("backend", b.Name()),
			zap.String("file", name))

		attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
		link, uerr := b.Upload(attemptCtx, path)
		cancel()

		if uerr != nil {
			c.logger.Warn("Upload failed, trying next backend",
				zap.String("backend", b.Name()),
				zap.Error(uerr))
			failures = multierr.Append(failures, fmt.Errorf("%s: %w", b.Name(), uerr))
			continue
		}

		c.logger.Info("Upload succeeded",
			zap.String("backend", b.Name()),
			zap.String("link", link))
		return link, b.Name(), nil
	}

	if failures == nil {
		failures = errors.New("no backends configured")
	}
	return "", "", fmt.Errorf("all delivery backends failed: %w", failures)
}
