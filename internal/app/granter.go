/**
 * @description
 * Group access granting for the onboarding flow: resolves the group set for a
 * (plan, language) pair and clears any stale ban before the invite links are
 * handed out.
 */
package app

import (
	"context"
	"log/slog"

	"github.com/clubgate/membership-bot/internal/domain"
)

// AccessGranter computes the joinable groups for a subscriber.
type AccessGranter struct {
	repo   Repository
	chat   ChatClient
	logger *slog.Logger
}

// NewAccessGranter creates a new granter.
func NewAccessGranter(repo Repository, chat ChatClient, logger *slog.Logger) *AccessGranter {
	return &AccessGranter{repo: repo, chat: chat, logger: logger}
}

// Grant returns the invite links for every group matching the plan and
// language. A previously removed user may still carry a ban that would block
// the invite link, so each group gets a lift-ban-if-present call first.
// Unban failures are logged and do not abort the grant: the link is still
// usable whenever no ban existed.
func (g *AccessGranter) Grant(ctx context.Context, plan string, language domain.Language, userID int64) ([]domain.GroupAccess, error) {
	groups, err := g.repo.GetGroups(ctx, plan, language)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		g.logger.Info("no groups configured", "plan", plan, "language", language)
		return nil, nil
	}

	access := make([]domain.GroupAccess, 0, len(groups))
	for _, grp := range groups {
		if err := g.chat.UnbanChatMember(ctx, grp.ID, userID, true); err != nil {
			g.logger.Warn("failed to lift stale ban",
				"group", grp.Name, "group_id", grp.ID, "user_id", userID, "error", err)
		} else {
			g.logger.Info("cleared any stale ban", "group", grp.Name, "user_id", userID)
		}
		access = append(access, domain.GroupAccess{
			GroupID:    grp.ID,
			Name:       grp.Name,
			InviteLink: grp.InviteLink,
		})
	}
	return access, nil
}
