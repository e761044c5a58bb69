package telegram

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/internal/notify"
)

// chatAPI is the slice of the bot client the outbound paths actually
// use, narrow enough to fake in tests.
type chatAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Notifier adapts the bot client to the notify.Notifier surface the
// pipeline and reporter talk to.
type Notifier struct {
	api    chatAPI
	logger *zap.Logger
}

func NewNotifier(bot *tgbotapi.BotAPI, logger *zap.Logger) *Notifier {
	return &Notifier{
		api:    bot,
		logger: logger.With(zap.String("component", "notifier")),
	}
}

func (n *Notifier) SendStatus(chatID int64, text string) (notify.MessageRef, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	sent, err := n.api.Send(msg)
	if err != nil {
		n.logger.Error("Error sending status message", zap.Int64("chat_id", chatID), zap.Error(err))
		return notify.MessageRef{}, err
	}
	return notify.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

func (n *Notifier) EditStatus(ref notify.MessageRef, text string) error {
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	_, err := n.api.Send(edit)
	if err != nil {
		// Telegram rejects edits that change nothing; that is not a failure.
		if strings.Contains(strings.ToLower(err.Error()), "message is not modified") {
			return nil
		}
		return err
	}
	return nil
}

func (n *Notifier) DeleteStatus(ref notify.MessageRef) {
	if _, err := n.api.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		n.logger.Debug("Error deleting status message",
			zap.Int64("chat_id", ref.ChatID),
			zap.Int("message_id", ref.MessageID),
			zap.Error(err))
	}
}

func (n *Notifier) SendDocument(chatID int64, path, displayName string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening document: %w", err)
	}
	defer f.Close()

	name := displayName
	if name == "" {
		name = filepath.Base(path)
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: name, Reader: f})
	if _, err := n.api.Send(doc); err != nil {
		lower := strings.ToLower(err.Error())
		if strings.Contains(lower, "too large") || strings.Contains(lower, "too big") {
			return notify.ErrTooLarge
		}
		return err
	}
	return nil
}

func (n *Notifier) SendResult(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := n.api.Send(msg); err != nil {
		n.logger.Error("Error sending result message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
