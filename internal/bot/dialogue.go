/**
 * @description
 * The onboarding dialogue: /start, website username, language choice, invite
 * links. Each chat holds an explicit session state machine with an expiry
 * deadline, so a stalled conversation times out instead of leaving a dangling
 * listener.
 */
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/clubgate/membership-bot/internal/domain"
	"github.com/clubgate/membership-bot/internal/store"
)

// Repository defines the database operations needed by the dialogue.
type Repository interface {
	GetSubscriberByUsername(ctx context.Context, username string) (*domain.Subscriber, error)
	LinkTelegramID(ctx context.Context, username string, telegramID int64) error
	SetLanguage(ctx context.Context, username string, language domain.Language) error
}

// Granter computes the joinable group set for a linked subscriber.
type Granter interface {
	Grant(ctx context.Context, plan string, language domain.Language, userID int64) ([]domain.GroupAccess, error)
}

// Messenger defines the outbound messages the dialogue can send.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendLanguageMenu(ctx context.Context, chatID int64, text string, options []string) error
	SendGroupButtons(ctx context.Context, chatID int64, text string, groups []domain.GroupAccess) error
}

type sessionState int

const (
	stateAwaitingUsername sessionState = iota + 1
	stateAwaitingLanguage
)

type session struct {
	state    sessionState
	username string
	plan     string
	deadline time.Time
}

// Dialogue drives the per-chat onboarding state machines.
type Dialogue struct {
	repo      Repository
	granter   Granter
	messenger Messenger
	logger    *slog.Logger
	timeout   time.Duration

	mu       sync.Mutex
	sessions map[int64]*session
}

// NewDialogue creates a new dialogue manager.
func NewDialogue(repo Repository, granter Granter, messenger Messenger, logger *slog.Logger, timeout time.Duration) *Dialogue {
	return &Dialogue{
		repo:      repo,
		granter:   granter,
		messenger: messenger,
		logger:    logger,
		timeout:   timeout,
		sessions:  make(map[int64]*session),
	}
}

// HandleMessage routes one incoming text message through the chat's session.
func (d *Dialogue) HandleMessage(ctx context.Context, chatID int64, text string) {
	text = strings.TrimSpace(text)

	if text == "/start" {
		d.begin(ctx, chatID)
		return
	}

	sess, expired := d.take(chatID)
	if expired {
		d.send(ctx, chatID, "Your session has expired. Please restart with /start.")
		return
	}
	if sess == nil {
		// Not in a conversation; nothing to do.
		return
	}

	switch sess.state {
	case stateAwaitingUsername:
		d.handleUsername(ctx, chatID, sess, text)
	case stateAwaitingLanguage:
		d.handleLanguage(ctx, chatID, sess, text)
	}
}

// begin starts (or restarts) the onboarding conversation for a chat.
func (d *Dialogue) begin(ctx context.Context, chatID int64) {
	d.mu.Lock()
	d.sessions[chatID] = &session{
		state:    stateAwaitingUsername,
		deadline: time.Now().Add(d.timeout),
	}
	d.mu.Unlock()

	d.send(ctx, chatID, "Welcome! Please enter your website username to link your account.")
}

// take fetches the chat's session, dropping and reporting it when expired.
func (d *Dialogue) take(chatID int64) (*session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	sess, ok := d.sessions[chatID]
	if !ok {
		return nil, false
	}
	if time.Now().After(sess.deadline) {
		delete(d.sessions, chatID)
		return nil, true
	}
	return sess, false
}

func (d *Dialogue) end(chatID int64) {
	d.mu.Lock()
	delete(d.sessions, chatID)
	d.mu.Unlock()
}

func (d *Dialogue) handleUsername(ctx context.Context, chatID int64, sess *session, username string) {
	log := d.logger.With("chat_id", chatID, "username", username)
	log.Info("linking request received")

	sub, err := d.repo.GetSubscriberByUsername(ctx, username)
	if errors.Is(err, store.ErrSubscriberNotFound) {
		d.end(chatID)
		d.send(ctx, chatID, "No matching account found. This username is not registered. Please create an account on our website.")
		return
	}
	if err != nil {
		log.Error("failed to look up subscriber", "error", err)
		d.end(chatID)
		d.send(ctx, chatID, "Something went wrong looking up your account. Please try again later.")
		return
	}

	if sub.Linked() && *sub.TelegramID != chatID {
		log.Warn("username already linked to a different chat")
		d.end(chatID)
		d.send(ctx, chatID, "This username is already linked to another Telegram account. Please use the correct account.")
		return
	}

	if err := d.repo.LinkTelegramID(ctx, username, chatID); err != nil {
		log.Error("failed to link telegram id", "error", err)
		d.end(chatID)
		d.send(ctx, chatID, "Error linking your Telegram account. Please try again later.")
		return
	}
	log.Info("telegram id linked")

	d.send(ctx, chatID, "Your Telegram account has been linked successfully.")

	options := make([]string, 0, len(domain.Languages))
	for _, lang := range domain.Languages {
		options = append(options, string(lang))
	}
	if err := d.messenger.SendLanguageMenu(ctx, chatID, "Please choose your language:", options); err != nil {
		log.Error("failed to send language menu", "error", err)
		d.end(chatID)
		return
	}

	d.mu.Lock()
	sess.state = stateAwaitingLanguage
	sess.username = username
	sess.plan = sub.Plan
	sess.deadline = time.Now().Add(d.timeout)
	d.mu.Unlock()
}

func (d *Dialogue) handleLanguage(ctx context.Context, chatID int64, sess *session, choice string) {
	log := d.logger.With("chat_id", chatID, "username", sess.username)
	d.end(chatID)

	language, ok := domain.ParseLanguage(choice)
	if !ok {
		d.send(ctx, chatID, "Invalid choice. Please restart with /start.")
		return
	}
	log.Info("language selected", "language", language)

	if err := d.repo.SetLanguage(ctx, sess.username, language); err != nil {
		// The grant still works without the stored preference; the
		// enforcement loop falls back to checking both languages.
		log.Error("failed to persist language choice", "error", err)
	}

	groups, err := d.granter.Grant(ctx, sess.plan, language, chatID)
	if err != nil {
		log.Error("failed to resolve groups", "error", err)
		d.send(ctx, chatID, "Something went wrong fetching your groups. Please try again later.")
		return
	}
	if len(groups) == 0 {
		d.send(ctx, chatID, "No available groups for "+string(language)+".")
		return
	}

	if err := d.messenger.SendGroupButtons(ctx, chatID, "Click the button to join the groups:", groups); err != nil {
		log.Error("failed to send group buttons", "error", err)
	}
}

func (d *Dialogue) send(ctx context.Context, chatID int64, text string) {
	if err := d.messenger.SendMessage(ctx, chatID, text); err != nil {
		d.logger.Error("failed to send message", "chat_id", chatID, "error", err)
	}
}
