package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/velkro/remindgram/internal/assistant"
	"github.com/velkro/remindgram/internal/storage"
)

type Bot struct {
	api         *tgbotapi.BotAPI
	storage     storage.Storage
	assistant   *assistant.Assistant
	adminChatID int64
	location    *time.Location
	logger      *zap.Logger
}

func New(token string, adminChatID int64, location *time.Location, storage storage.Storage, assistant *assistant.Assistant, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &Bot{
		api:         api,
		storage:     storage,
		assistant:   assistant,
		adminChatID: adminChatID,
		location:    location,
		logger:      logger,
	}, nil
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("Bot started", zap.String("username", b.api.Self.UserName))

	for update := range updates {
		if update.Message == nil {
			continue
		}

		// Single-admin bot: everyone else is silently ignored.
		if update.Message.Chat.ID != b.adminChatID {
			b.logger.Debug("Ignoring message from non-admin chat",
				zap.Int64("chat_id", update.Message.Chat.ID))
			continue
		}

		go b.handleMessage(update.Message)
	}

	return nil
}

// Stop closes the update channel, ending the Start loop.
func (b *Bot) Stop() {
	b.api.StopReceivingUpdates()
}

// Send delivers a plain text message to a user. It is the notification
// sink the reminder poller calls into.
func (b *Bot) Send(userID int64, text string) error {
	msg := tgbotapi.NewMessage(userID, text)
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (b *Bot) handleMessage(message *tgbotapi.Message) {
	ctx := context.Background()

	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	text := message.Text
	if text == "" {
		return
	}

	// Show "typing" while the model call is in flight.
	b.api.Request(tgbotapi.NewChatAction(message.Chat.ID, tgbotapi.ChatTyping))

	reply := b.assistant.Reply(ctx, message.Chat.ID, text)
	b.sendMessage(message.Chat.ID, reply)
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "reminders":
		b.handleReminders(ctx, message)
	case "done":
		b.handleDone(ctx, message)
	case "clear":
		b.handleClear(ctx, message)
	case "timetable":
		b.handleTimetable(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Hi! I'm your personal assistant. 🤖

Tell me things like "remind me to submit the report tomorrow at 9"
or "what's on my timetable on Monday?" and I'll keep track.

When a reminder comes due I'll nag you until you mark it done.
Use /help to see all commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/reminders - List your reminders
/done <id> - Complete a reminder
/clear - Delete all reminders
/timetable [day] - Show your timetable (defaults to today)

Or just chat with me in plain language - I can add reminders and
timetable entries on my own.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleReminders(ctx context.Context, message *tgbotapi.Message) {
	reminders, err := b.storage.ListReminders(ctx, message.Chat.ID)
	if err != nil {
		b.logger.Error("Failed to list reminders",
			zap.Error(err),
			zap.Int64("user_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your reminders.")
		return
	}

	b.sendMessage(message.Chat.ID, assistant.FormatReminders(reminders))
}

func (b *Bot) handleDone(ctx context.Context, message *tgbotapi.Message) {
	arg := strings.TrimSpace(message.CommandArguments())
	id, err := strconv.ParseInt(strings.TrimPrefix(arg, "#"), 10, 64)
	if err != nil {
		b.sendMessage(message.Chat.ID, "Tell me which reminder, e.g. /done 3")
		return
	}

	if err := b.storage.CompleteReminder(ctx, message.Chat.ID, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.sendMessage(message.Chat.ID, fmt.Sprintf("I couldn't find reminder #%d.", id))
			return
		}
		b.logger.Error("Failed to complete reminder",
			zap.Error(err),
			zap.Int64("reminder_id", id),
			zap.Int64("user_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't complete that reminder.")
		return
	}

	b.sendMessage(message.Chat.ID, fmt.Sprintf("✅ Reminder #%d completed.", id))
}

func (b *Bot) handleClear(ctx context.Context, message *tgbotapi.Message) {
	cleared, err := b.storage.ClearReminders(ctx, message.Chat.ID)
	if err != nil {
		b.logger.Error("Failed to clear reminders",
			zap.Error(err),
			zap.Int64("user_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't clear your reminders.")
		return
	}

	if cleared == 0 {
		b.sendMessage(message.Chat.ID, "You had no reminders to clear.")
		return
	}
	b.sendMessage(message.Chat.ID, fmt.Sprintf("🧹 Cleared %d reminder(s).", cleared))
}

func (b *Bot) handleTimetable(ctx context.Context, message *tgbotapi.Message) {
	day := strings.TrimSpace(message.CommandArguments())
	if day == "" {
		day = time.Now().In(b.location).Weekday().String()
	}

	entries, err := b.storage.TimetableByDay(ctx, message.Chat.ID, day)
	if err != nil {
		b.logger.Error("Failed to query timetable",
			zap.Error(err),
			zap.String("day", day),
			zap.Int64("user_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't look up your timetable.")
		return
	}

	b.sendMessage(message.Chat.ID, assistant.FormatTimetable(day, entries))
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
