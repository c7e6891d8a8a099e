/**
 * @description
 * Domain models for the membership bot: website subscribers, the Telegram
 * groups they may join, and the access records handed to the onboarding flow.
 */
package domain

import "time"

// Language identifies the group-language variant a subscriber selected.
type Language string

const (
	LanguageArabic  Language = "Arabic"
	LanguageEnglish Language = "English"
)

// Languages lists every supported group-language variant.
var Languages = []Language{LanguageArabic, LanguageEnglish}

// ParseLanguage validates a raw language choice from the dialogue keyboard.
func ParseLanguage(s string) (Language, bool) {
	switch Language(s) {
	case LanguageArabic:
		return LanguageArabic, true
	case LanguageEnglish:
		return LanguageEnglish, true
	}
	return "", false
}

// Subscriber represents a paying website account, optionally linked to a
// Telegram identity.
type Subscriber struct {
	Username          string    `json:"username"`
	TelegramID        *int64    `json:"telegram_id"`
	Plan              string    `json:"plan"`
	ExpiresAt         time.Time `json:"expires_at"`
	RemovedFromGroups bool      `json:"removed_from_groups"`
	Language          *Language `json:"language"`
}

// Linked reports whether the subscriber has a Telegram identity attached.
func (s Subscriber) Linked() bool {
	return s.TelegramID != nil
}

// ExpiredSubscriber is the slim projection the enforcement loop works on:
// a linked, not-yet-removed subscriber whose expiry date has passed.
type ExpiredSubscriber struct {
	TelegramID int64     `json:"telegram_id"`
	Plan       string    `json:"plan"`
	Language   *Language `json:"language"`
}

// Group is a private Telegram group gated by a (plan, language) pair.
// Groups are static reference data and are never mutated by the bot.
type Group struct {
	ID         int64    `json:"group_id"`
	Name       string   `json:"group_name"`
	InviteLink string   `json:"invite_link"`
	Plan       string   `json:"plan"`
	Language   Language `json:"language"`
}

// GroupAccess is what the onboarding flow hands back to a subscriber:
// a joinable group with its invite link.
type GroupAccess struct {
	GroupID    int64  `json:"group_id"`
	Name       string `json:"name"`
	InviteLink string `json:"invite_link"`
}
