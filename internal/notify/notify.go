package notify

import "errors"

// ErrTooLarge reports that a document exceeds the direct-send limit and
// delivery should fall through to the remote backends.
var ErrTooLarge = errors.New("document exceeds direct-send limit")

// MessageRef identifies a single sent status message for later edits.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// Notifier is the narrow surface the pipeline uses to talk to the chat
// frontend. Implementations log their own transport failures; SendResult
// and DeleteStatus are fire-and-forget.
type Notifier interface {
	SendStatus(chatID int64, text string) (MessageRef, error)
	EditStatus(ref MessageRef, text string) error
	DeleteStatus(ref MessageRef)
	SendDocument(chatID int64, path, displayName string) error
	SendResult(chatID int64, text string)
}
