/**
 * @description
 * Update pump: consumes the Telegram long-polling channel and feeds incoming
 * text messages to the dialogue state machines.
 */
package bot

import (
	"context"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// UpdateSource provides the stream of incoming Telegram updates.
type UpdateSource interface {
	Updates() tgbotapi.UpdatesChannel
	Stop()
}

// Bot consumes updates and dispatches them to the dialogue.
type Bot struct {
	source   UpdateSource
	dialogue *Dialogue
	logger   *slog.Logger
}

// NewBot creates a new update pump.
func NewBot(source UpdateSource, dialogue *Dialogue, logger *slog.Logger) *Bot {
	return &Bot{source: source, dialogue: dialogue, logger: logger}
}

// Run blocks, processing updates until the context is cancelled or the
// update channel closes. Messages are handled sequentially: the dialogue is
// a prompt/response flow and ordering per chat matters.
func (b *Bot) Run(ctx context.Context) {
	updates := b.source.Updates()
	for {
		select {
		case <-ctx.Done():
			b.source.Stop()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			b.dialogue.HandleMessage(ctx, update.Message.Chat.ID, update.Message.Text)
		}
	}
}
