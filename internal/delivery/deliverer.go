package delivery

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/internal/media"
	"github.com/mediarelay/fetchbot/internal/notify"
)

// Outcome describes how an artifact reached the user.
type Outcome struct {
	Direct  bool
	Link    string
	Backend string
}

// Deliverer decides between sending the artifact straight through the chat
// frontend and falling back to the remote backend chain. Files at or under
// the direct limit get one direct attempt first.
type Deliverer struct {
	notifier    notify.Notifier
	chain       *Chain
	directLimit int64
	logger      *zap.Logger
}

func NewDeliverer(notifier notify.Notifier, chain *Chain, directLimit int64, logger *zap.Logger) *Deliverer {
	return &Deliverer{
		notifier:    notifier,
		chain:       chain,
		directLimit: directLimit,
		logger:      logger.With(zap.String("component", "deliverer")),
	}
}

// DirectLimit reports the size threshold below which a direct send is tried.
func (d *Deliverer) DirectLimit() int64 { return d.directLimit }

func (d *Deliverer) Deliver(ctx context.Context, chatID int64, art media.Artifact, displayName string, onAttempt func(backend string)) (Outcome, error) {
	if art.SizeBytes <= d.directLimit {
		if onAttempt != nil {
			onAttempt("Telegram")
		}
		err := d.notifier.SendDocument(chatID, art.Path, displayName)
		if err == nil {
			d.logger.Info("Delivered directly",
				zap.Int64("chat_id", chatID),
				zap.Int64("size_bytes", art.SizeBytes))
			return Outcome{Direct: true}, nil
		}
		if errors.Is(err, notify.ErrTooLarge) {
			d.logger.Info("Document over direct-send limit, falling back to remote backends",
				zap.Int64("size_bytes", art.SizeBytes))
		} else {
			d.logger.Warn("Direct send failed, falling back to remote backends", zap.Error(err))
		}
	}

	link, backend, err := d.chain.Deliver(ctx, art.Path, onAttempt)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Link: link, Backend: backend}, nil
}
