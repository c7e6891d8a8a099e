/**
 * @description
 * This package provides a client for interacting with the Telegram Bot API.
 * It encapsulates message sending, keyboard construction, and chat-member
 * moderation calls so the rest of the application only depends on small
 * capability interfaces.
 *
 * @notes
 * - Removal from a group is modelled as the explicit KickWithoutBan
 *   operation: Telegram has no bare kick call, so the client bans and then
 *   always lifts the ban again, whatever the ban attempt returned, to avoid
 *   leaving a permanent block behind.
 * - The underlying Bot API library does not accept a context; the ctx
 *   parameters keep the call sites uniform with the rest of the codebase.
 */
package telegram

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/clubgate/membership-bot/internal/domain"
)

// Client wraps a Telegram Bot API connection.
type Client struct {
	api    *tgbotapi.BotAPI
	logger *slog.Logger
}

// NewClient authenticates against the Bot API with the given token.
func NewClient(token string, logger *slog.Logger) (*Client, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate bot: %w", err)
	}
	return &Client{api: api, logger: logger}, nil
}

// Username returns the bot account's username.
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// Updates opens the long-polling update channel.
func (c *Client) Updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	return c.api.GetUpdatesChan(u)
}

// Stop closes the long-polling update channel.
func (c *Client) Stop() {
	c.api.StopReceivingUpdates()
}

// SendMessage sends a plain text message to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if _, err := c.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	return nil
}

// SendLanguageMenu sends a one-time reply keyboard with one row per option.
func (c *Client) SendLanguageMenu(ctx context.Context, chatID int64, text string, options []string) error {
	rows := make([][]tgbotapi.KeyboardButton, 0, len(options))
	for _, opt := range options {
		rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(opt)))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewOneTimeReplyKeyboard(rows...)
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send language menu to chat %d: %w", chatID, err)
	}
	return nil
}

// SendGroupButtons sends an inline keyboard with one join button per group.
func (c *Client) SendGroupButtons(ctx context.Context, chatID int64, text string, groups []domain.GroupAccess) error {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Join "+g.Name, g.InviteLink),
		))
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := c.api.Send(msg); err != nil {
		return fmt.Errorf("failed to send group buttons to chat %d: %w", chatID, err)
	}
	return nil
}

// GetChatMemberStatus returns the raw membership status of a user in a group.
func (c *Client) GetChatMemberStatus(ctx context.Context, groupID, userID int64) (string, error) {
	member, err := c.api.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{
			ChatID: groupID,
			UserID: userID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get member %d of group %d: %w", userID, groupID, err)
	}
	return member.Status, nil
}

// BanChatMember bans a user from a group.
func (c *Client) BanChatMember(ctx context.Context, groupID, userID int64) error {
	_, err := c.api.Request(tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: groupID,
			UserID: userID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to ban user %d in group %d: %w", userID, groupID, err)
	}
	return nil
}

// UnbanChatMember lifts a ban on a user in a group. With onlyIfBanned set the
// call is a no-op for users who are not banned.
func (c *Client) UnbanChatMember(ctx context.Context, groupID, userID int64, onlyIfBanned bool) error {
	_, err := c.api.Request(tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{
			ChatID: groupID,
			UserID: userID,
		},
		OnlyIfBanned: onlyIfBanned,
	})
	if err != nil {
		return fmt.Errorf("failed to unban user %d in group %d: %w", userID, groupID, err)
	}
	return nil
}

// KickWithoutBan removes a user from a group without leaving a lasting ban.
// The unban is attempted even when the ban call failed, so a partial failure
// can never strand the user in a permanently banned state.
func (c *Client) KickWithoutBan(ctx context.Context, groupID, userID int64) error {
	banErr := c.BanChatMember(ctx, groupID, userID)
	unbanErr := c.UnbanChatMember(ctx, groupID, userID, false)
	if banErr != nil {
		return banErr
	}
	return unbanErr
}
