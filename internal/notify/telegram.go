package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const queueSize = 64

// sender is the part of tgbotapi.BotAPI used here.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

var _ Notifier = (*Telegram)(nil)

// Telegram posts events to one chat. Notify only enqueues; Run performs
// the sends so a slow Telegram API never delays provisioning.
type Telegram struct {
	bot    sender
	chatID int64
	queue  chan Event
	logger *slog.Logger
}

// NewTelegram authorizes the bot token and returns a notifier for chatID.
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	bot.Debug = false
	logger.Info("telegram notifier authorized", "account", bot.Self.UserName)
	return newTelegram(bot, chatID, logger), nil
}

func newTelegram(bot sender, chatID int64, logger *slog.Logger) *Telegram {
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		queue:  make(chan Event, queueSize),
		logger: logger,
	}
}

// Notify enqueues ev, dropping it when the queue is full.
func (t *Telegram) Notify(_ context.Context, ev Event) {
	select {
	case t.queue <- ev:
	default:
		t.logger.Warn("telegram queue full, dropping event", "mac", ev.MACAddress)
	}
}

// Run sends queued events until ctx is cancelled.
func (t *Telegram) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-t.queue:
			msg := tgbotapi.NewMessage(t.chatID, ev.Text())
			if _, err := t.bot.Send(msg); err != nil {
				t.logger.Error("telegram send failed", "mac", ev.MACAddress, "error", err)
			}
		}
	}
}
