/**
 * @description
 * This file implements the data access layer for the membership bot.
 * It contains all the SQL queries for the subscriber and group tables;
 * no business logic lives here.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clubgate/membership-bot/internal/domain"
)

// ErrSubscriberNotFound is returned when a username has no subscriber row.
var ErrSubscriberNotFound = errors.New("subscriber not found")

// Repository handles database operations for subscribers and groups.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetSubscriberByUsername fetches a subscriber row by its website username.
func (r *Repository) GetSubscriberByUsername(ctx context.Context, username string) (*domain.Subscriber, error) {
	query := `
        SELECT username, telegram_id, plan, expires_at, removed_from_groups, language
        FROM subscribers
        WHERE username = $1
    `
	var sub domain.Subscriber
	err := r.db.QueryRow(ctx, query, username).Scan(
		&sub.Username, &sub.TelegramID, &sub.Plan, &sub.ExpiresAt,
		&sub.RemovedFromGroups, &sub.Language,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSubscriberNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// LinkTelegramID attaches a Telegram identity to a subscriber. When the row
// shows a renewal (expiry back in the future while still flagged removed),
// the removed flag is cleared in the same statement so the subscriber becomes
// eligible for group access again.
func (r *Repository) LinkTelegramID(ctx context.Context, username string, telegramID int64) error {
	var expiresAt time.Time
	var removed bool
	err := r.db.QueryRow(ctx,
		`SELECT expires_at, removed_from_groups FROM subscribers WHERE username = $1`,
		username,
	).Scan(&expiresAt, &removed)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrSubscriberNotFound
	}
	if err != nil {
		return err
	}

	if renewalDetected(expiresAt, removed, time.Now()) {
		_, err = r.db.Exec(ctx,
			`UPDATE subscribers SET telegram_id = $1, removed_from_groups = FALSE WHERE username = $2`,
			telegramID, username,
		)
		return err
	}

	_, err = r.db.Exec(ctx,
		`UPDATE subscribers SET telegram_id = $1 WHERE username = $2`,
		telegramID, username,
	)
	return err
}

// renewalDetected decides whether a (re-)link must clear the removed flag:
// the subscription runs to at least today while the row is still flagged
// removed from a previous lapse.
func renewalDetected(expiresAt time.Time, removed bool, now time.Time) bool {
	today := now.Truncate(24 * time.Hour)
	return removed && !expiresAt.Before(today)
}

// SetLanguage records the subscriber's language choice from the dialogue.
func (r *Repository) SetLanguage(ctx context.Context, username string, language domain.Language) error {
	_, err := r.db.Exec(ctx,
		`UPDATE subscribers SET language = $1 WHERE username = $2`,
		language, username,
	)
	return err
}

// GetGroups fetches the static group set for a (plan, language) pair.
func (r *Repository) GetGroups(ctx context.Context, plan string, language domain.Language) ([]domain.Group, error) {
	query := `
        SELECT group_id, group_name, invite_link, plan, language
        FROM telegram_groups
        WHERE plan = $1 AND language = $2
    `
	rows, err := r.db.Query(ctx, query, plan, language)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []domain.Group
	for rows.Next() {
		var g domain.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.InviteLink, &g.Plan, &g.Language); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// GetExpiredSubscribers fetches every linked subscriber whose subscription
// has lapsed and who has not yet been removed from their groups.
func (r *Repository) GetExpiredSubscribers(ctx context.Context) ([]domain.ExpiredSubscriber, error) {
	query := `
        SELECT telegram_id, plan, language
        FROM subscribers
        WHERE expires_at < CURRENT_DATE
          AND telegram_id IS NOT NULL
          AND removed_from_groups = FALSE
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.ExpiredSubscriber
	for rows.Next() {
		var sub domain.ExpiredSubscriber
		if err := rows.Scan(&sub.TelegramID, &sub.Plan, &sub.Language); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// GetSubscribersExpiringIn fetches linked, not-removed subscribers whose
// subscription ends exactly the given number of days from today. Used by the
// renewal reminder job.
func (r *Repository) GetSubscribersExpiringIn(ctx context.Context, days int) ([]domain.ExpiredSubscriber, error) {
	query := `
        SELECT telegram_id, plan, language
        FROM subscribers
        WHERE expires_at = CURRENT_DATE + $1
          AND telegram_id IS NOT NULL
          AND removed_from_groups = FALSE
    `
	rows, err := r.db.Query(ctx, query, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []domain.ExpiredSubscriber
	for rows.Next() {
		var sub domain.ExpiredSubscriber
		if err := rows.Scan(&sub.TelegramID, &sub.Plan, &sub.Language); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// HasBeenRemoved reports whether the subscriber row for a Telegram identity
// is already flagged as removed from its groups.
func (r *Repository) HasBeenRemoved(ctx context.Context, telegramID int64) (bool, error) {
	var removed bool
	err := r.db.QueryRow(ctx,
		`SELECT removed_from_groups FROM subscribers WHERE telegram_id = $1`,
		telegramID,
	).Scan(&removed)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return removed, nil
}

// MarkRemoved flags a subscriber as removed from all groups and returns the
// number of rows updated.
func (r *Repository) MarkRemoved(ctx context.Context, telegramID int64) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscribers SET removed_from_groups = TRUE WHERE telegram_id = $1`,
		telegramID,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
