package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mediarelay/fetchbot/config"
	"github.com/mediarelay/fetchbot/internal/media"
	"github.com/mediarelay/fetchbot/internal/model"
	"github.com/mediarelay/fetchbot/internal/scheduler"
)

// queue is the scheduler surface the chat frontend drives.
type queue interface {
	Submit(ownerID int64, spec model.TaskSpec) (string, int, error)
	Cancel(ownerID int64) (int, error)
	Pending(ownerID int64) []model.Task
	Stats() scheduler.Stats
}

// NewBot authorizes against the Telegram API with the configured token.
func NewBot(cfg *config.Config, logger *zap.Logger) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))
	return bot, nil
}

// Receiver drives the long-polling loop and routes updates to command
// handlers and the conversation table.
type Receiver struct {
	bot    *tgbotapi.BotAPI
	api    chatAPI
	cfg    *config.Config
	sched  queue
	convos *Conversations
	logger *zap.Logger
}

func NewReceiver(cfg *config.Config, bot *tgbotapi.BotAPI, sched queue, resolver media.Resolver, logger *zap.Logger) *Receiver {
	return &Receiver{
		bot:    bot,
		api:    bot,
		cfg:    cfg,
		sched:  sched,
		convos: NewConversations(cfg, bot, sched, resolver, logger),
		logger: logger.With(zap.String("component", "receiver")),
	}
}

func (r *Receiver) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := r.bot.GetUpdatesChan(u)
	// Drop updates that piled up while the bot was down.
	updates.Clear()

	r.logger.Info("Telegram receiver started, waiting for messages...")

	go r.convos.sweepLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			r.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go r.handleUpdate(update)
		}
	}
}

func (r *Receiver) handleUpdate(update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		r.convos.HandleCallback(update.CallbackQuery)
	case update.Message != nil:
		r.handleMessage(update.Message)
	}
}

func (r *Receiver) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	if msg.IsCommand() {
		r.handleCommand(msg)
		return
	}

	// Any other text is conversation input: a fresh link, or the
	// filename a rename is waiting for.
	if msg.Text != "" {
		r.convos.HandleText(msg)
	}
}

func (r *Receiver) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		r.handleStart(msg)
	case "sites":
		r.handleSites(msg)
	case "queue":
		r.handleQueue(msg)
	case "cancel":
		r.handleCancel(msg)
	case "status":
		r.handleStatus(msg)
	default:
		r.sendReply(msg.Chat.ID, "Unknown command. Send /start to see available commands.")
	}
}

func (r *Receiver) handleStart(msg *tgbotapi.Message) {
	name := msg.From.FirstName
	if name == "" {
		name = "User"
	}
	caption := fmt.Sprintf("👋 Hello, *%s*!\n\nSend me a link to get started.\n\n"+
		"*Commands:*\n`/sites` - See all supported websites\n`/queue` - View your current queue\n`/cancel` - Clear your queue", name)

	photo := tgbotapi.NewPhoto(msg.Chat.ID, tgbotapi.FileURL(r.cfg.WelcomeImageURL))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeMarkdown
	if _, err := r.api.Send(photo); err != nil {
		// Fall back to text if the welcome photo cannot be sent
		r.sendMarkdown(msg.Chat.ID, caption)
	}
}

func (r *Receiver) handleSites(msg *tgbotapi.Message) {
	r.sendReply(msg.Chat.ID, fmt.Sprintf("Full list of supported sites:\n%s", r.cfg.SupportedSitesURL))
}

func (r *Receiver) handleQueue(msg *tgbotapi.Message) {
	tasks := r.sched.Pending(msg.From.ID)
	if len(tasks) == 0 {
		r.sendReply(msg.Chat.ID, "Your queue is empty.")
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 Your queue (%d pending):\n\n", len(tasks))
	for i, task := range tasks {
		label := task.Spec.DesiredName
		if label == "" {
			label = task.Spec.SourceURL
		}
		fmt.Fprintf(&b, "%d. %s [%s]\n", i+1, label, task.Spec.Kind)
	}
	r.sendReply(msg.Chat.ID, b.String())
}

func (r *Receiver) handleCancel(msg *tgbotapi.Message) {
	removed, err := r.sched.Cancel(msg.From.ID)
	if err != nil {
		r.logger.Error("Error clearing queue", zap.Int64("owner_id", msg.From.ID), zap.Error(err))
	}
	if removed > 0 {
		r.sendReply(msg.Chat.ID, "✅ Your download queue has been cleared.")
	} else {
		r.sendReply(msg.Chat.ID, "Your queue is already empty.")
	}

	// Also provides an exit point for any active conversation.
	if r.convos.End(msg.Chat.ID) {
		r.sendReply(msg.Chat.ID, "The current download operation has been cancelled.")
	}
}

func (r *Receiver) handleStatus(msg *tgbotapi.Message) {
	if !r.cfg.IsAdmin(msg.From.ID) {
		r.sendReply(msg.Chat.ID, "❌ Unauthorized. This command is admin-only.")
		r.logger.Warn("Unauthorized status request",
			zap.Int64("user_id", msg.From.ID),
			zap.String("username", msg.From.UserName))
		return
	}

	stats := r.sched.Stats()
	text := fmt.Sprintf(`📊 Scheduler Status:

👥 Owners with queued tasks: %d
⏳ Queued tasks: %d
⬇️ Active downloads: %d / %d`,
		stats.Owners, stats.QueuedTasks, stats.ActiveSlots, stats.Capacity)

	r.sendReply(msg.Chat.ID, text)
}

func (r *Receiver) sendReply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := r.api.Send(msg); err != nil {
		r.logger.Error("Error sending message", zap.Error(err))
	}
}

func (r *Receiver) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := r.api.Send(msg); err != nil {
		r.logger.Error("Error sending message", zap.Error(err))
	}
}
