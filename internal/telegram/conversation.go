package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/config"
	"github.com/mediarelay/fetchbot/internal/media"
	"github.com/mediarelay/fetchbot/internal/model"
	"github.com/mediarelay/fetchbot/internal/progress"
	"github.com/mediarelay/fetchbot/internal/ytdlp"
)

type convoStage int

const (
	stageChooseFormat convoStage = iota
	stageChooseQuality
	stageAskRename
	stageAwaitName
)

// conversation tracks one chat walking through format, quality and
// rename choices before its task is queued.
type conversation struct {
	stage   convoStage
	locator string
	meta    media.Metadata
	kind    model.OutputKind
	quality string
	touched time.Time
}

// Conversations is the per-chat state table. Entries expire after the
// configured timeout so abandoned menus don't pile up.
type Conversations struct {
	cfg      *config.Config
	api      chatAPI
	sched    queue
	resolver media.Resolver
	logger   *zap.Logger

	mu     sync.Mutex
	byChat map[int64]*conversation
}

func NewConversations(cfg *config.Config, api chatAPI, sched queue, resolver media.Resolver, logger *zap.Logger) *Conversations {
	return &Conversations{
		cfg:      cfg,
		api:      api,
		sched:    sched,
		resolver: resolver,
		logger:   logger.With(zap.String("component", "conversation")),
		byChat:   make(map[int64]*conversation),
	}
}

// HandleText routes a plain text message: the filename if a rename is
// pending, otherwise a fresh link that starts (or restarts) the flow.
func (c *Conversations) HandleText(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	c.mu.Lock()
	convo := c.byChat[chatID]
	if convo != nil && convo.stage == stageAwaitName {
		delete(c.byChat, chatID)
		c.mu.Unlock()
		name := model.SanitizeName(msg.Text)
		text := c.enqueue(msg.From.ID, convo, name)
		c.reply(chatID, text)
		return
	}
	c.mu.Unlock()

	c.beginLink(msg)
}

func (c *Conversations) beginLink(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	locator := ytdlp.NormalizeLocator(msg.Text)

	status, err := c.send(chatID, "🔍 Analyzing link, please wait...")
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(c.cfg.ResolveTimeoutSec)*time.Second)
	meta, err := c.resolver.Resolve(ctx, locator)
	cancel()
	if err != nil {
		c.logger.Warn("Link analysis failed", zap.String("locator", locator), zap.Error(err))
		c.edit(chatID, status.MessageID, resolveErrorText(err))
		return
	}

	c.mu.Lock()
	c.byChat[chatID] = &conversation{
		stage:   stageChooseFormat,
		locator: locator,
		meta:    meta,
		touched: time.Now(),
	}
	c.mu.Unlock()

	c.deleteMessage(chatID, status.MessageID)

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎬 Video", "format|mp4"),
			tgbotapi.NewInlineKeyboardButtonData("🎵 Audio", "format|mp3"),
		),
	)
	prompt := tgbotapi.NewMessage(chatID, fmt.Sprintf("*%s*\n\nChoose your desired format:", meta.Title))
	prompt.ParseMode = tgbotapi.ModeMarkdown
	prompt.ReplyMarkup = keyboard
	if _, err := c.api.Send(prompt); err != nil {
		c.logger.Error("Error sending format menu", zap.Error(err))
	}
}

// HandleCallback advances the conversation from an inline button press.
func (c *Conversations) HandleCallback(query *tgbotapi.CallbackQuery) {
	// Answer first so the button stops spinning
	if _, err := c.api.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		c.logger.Debug("Error answering callback", zap.Error(err))
	}

	if query.Message == nil || query.From == nil {
		return
	}
	chatID := query.Message.Chat.ID
	messageID := query.Message.MessageID

	parts := strings.SplitN(query.Data, "|", 2)
	if len(parts) != 2 {
		return
	}
	action, value := parts[0], parts[1]

	c.mu.Lock()
	convo := c.byChat[chatID]
	if convo == nil {
		c.mu.Unlock()
		c.edit(chatID, messageID, "This menu has expired. Send the link again.")
		return
	}
	convo.touched = time.Now()
	stage := convo.stage
	c.mu.Unlock()

	// Presses on a menu the conversation has already moved past are
	// dropped, same as any other unexpected update.
	switch {
	case action == "format" && stage == stageChooseFormat:
		c.chooseFormat(chatID, messageID, convo, value)
	case action == "quality" && stage == stageChooseQuality:
		c.chooseQuality(chatID, messageID, convo, value)
	case action == "rename" && stage == stageAskRename:
		c.askRename(chatID, messageID, query.From.ID, convo, value)
	}
}

func (c *Conversations) chooseFormat(chatID int64, messageID int, convo *conversation, value string) {
	if value == "mp3" {
		c.mu.Lock()
		convo.kind = model.KindAudio
		convo.quality = ""
		convo.stage = stageAskRename
		c.mu.Unlock()
		c.editWithKeyboard(chatID, messageID, "Do you want to rename the file?", renameKeyboard())
		return
	}

	if len(convo.meta.VideoOptions) == 0 {
		c.endChat(chatID)
		c.edit(chatID, messageID, "No video formats found for this link. Please choose audio instead.")
		return
	}

	c.mu.Lock()
	convo.kind = model.KindVideo
	convo.stage = stageChooseQuality
	c.mu.Unlock()

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, opt := range convo.meta.VideoOptions {
		label := fmt.Sprintf("%dp", opt.Height)
		if opt.SizeBytes > 0 {
			label += fmt.Sprintf(" (~%s)", progress.FormatBytes(opt.SizeBytes))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, "quality|"+opt.FormatID),
		))
	}
	c.editWithKeyboard(chatID, messageID, "Please select a video quality:", tgbotapi.NewInlineKeyboardMarkup(rows...))
}

func (c *Conversations) chooseQuality(chatID int64, messageID int, convo *conversation, value string) {
	c.mu.Lock()
	convo.quality = value
	convo.stage = stageAskRename
	c.mu.Unlock()
	c.editWithKeyboard(chatID, messageID, "Do you want to rename the file?", renameKeyboard())
}

func (c *Conversations) askRename(chatID int64, messageID int, ownerID int64, convo *conversation, value string) {
	if value == "yes" {
		c.mu.Lock()
		convo.stage = stageAwaitName
		c.mu.Unlock()
		c.edit(chatID, messageID, "OK. Please send me the new filename (without the file extension).")
		return
	}

	// No rename, queue the download immediately
	c.endChat(chatID)
	c.edit(chatID, messageID, c.enqueue(ownerID, convo, ""))
}

func (c *Conversations) enqueue(ownerID int64, convo *conversation, desiredName string) string {
	c.mu.Lock()
	spec := model.TaskSpec{
		SourceURL:   convo.locator,
		Kind:        convo.kind,
		Quality:     convo.quality,
		DesiredName: desiredName,
	}
	c.mu.Unlock()

	_, position, err := c.sched.Submit(ownerID, spec)
	if err != nil {
		c.logger.Error("Error queuing task", zap.Int64("owner_id", ownerID), zap.Error(err))
		return "❌ Error queuing the download. Please try again."
	}
	return fmt.Sprintf("✅ Task added to your queue at position #%d.", position)
}

// End removes the chat's conversation, reporting whether one existed.
func (c *Conversations) End(chatID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byChat[chatID]; !ok {
		return false
	}
	delete(c.byChat, chatID)
	return true
}

func (c *Conversations) endChat(chatID int64) {
	c.mu.Lock()
	delete(c.byChat, chatID)
	c.mu.Unlock()
}

// sweepLoop expires conversations nobody has touched within the
// configured timeout.
func (c *Conversations) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

func (c *Conversations) sweep(now time.Time) {
	timeout := time.Duration(c.cfg.ConversationTimeoutSec) * time.Second

	c.mu.Lock()
	defer c.mu.Unlock()
	for chatID, convo := range c.byChat {
		if now.Sub(convo.touched) > timeout {
			delete(c.byChat, chatID)
			c.logger.Debug("Conversation expired", zap.Int64("chat_id", chatID))
		}
	}
}

// resolveErrorText maps an analysis failure to the chat-facing error
// message.
func resolveErrorText(err error) string {
	msg := err.Error()
	errorText := "❌ Error: Could not process the link."
	switch {
	case strings.Contains(msg, "Unsupported URL"):
		errorText = "❌ Error: This website or link is not supported."
	case strings.Contains(msg, "Video unavailable"):
		errorText = "❌ Error: This video is unavailable."
	case strings.Contains(msg, "Private video"):
		errorText = "❌ Error: This video is private."
	case strings.Contains(msg, "confirm you"), strings.Contains(msg, "Sign in to"):
		errorText += "\n\nThis video may require a login. The bot's cookie file could be invalid or expired."
	}
	return errorText
}

func renameKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ Rename File", "rename|yes"),
			tgbotapi.NewInlineKeyboardButtonData("➡️ Keep Original Name", "rename|no"),
		),
	)
}

func (c *Conversations) send(chatID int64, text string) (tgbotapi.Message, error) {
	sent, err := c.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		c.logger.Error("Error sending message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return sent, err
}

func (c *Conversations) edit(chatID int64, messageID int, text string) {
	if _, err := c.api.Send(tgbotapi.NewEditMessageText(chatID, messageID, text)); err != nil {
		c.logger.Error("Error editing message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (c *Conversations) editWithKeyboard(chatID int64, messageID int, text string, keyboard tgbotapi.InlineKeyboardMarkup) {
	if _, err := c.api.Send(tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, keyboard)); err != nil {
		c.logger.Error("Error editing message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (c *Conversations) deleteMessage(chatID int64, messageID int) {
	if _, err := c.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		c.logger.Debug("Error deleting message", zap.Error(err))
	}
}

func (c *Conversations) reply(chatID int64, text string) {
	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		c.logger.Error("Error sending message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}
