/**
 * @description
 * Membership verification against the chat platform.
 */
package app

import (
	"context"
	"log/slog"
)

// Chat member statuses that count as active participation.
const (
	memberStatusMember        = "member"
	memberStatusAdministrator = "administrator"
)

// MembershipVerifier answers whether a user currently holds active membership
// in a group.
type MembershipVerifier struct {
	chat   ChatClient
	logger *slog.Logger
}

// NewMembershipVerifier creates a new verifier.
func NewMembershipVerifier(chat ChatClient, logger *slog.Logger) *MembershipVerifier {
	return &MembershipVerifier{chat: chat, logger: logger}
}

// IsMember reports whether the user is an active participant (member or
// administrator) of the group. Any platform error is treated as absent:
// skipping a removal is harmless because the next run retries, while the
// outage itself must stay visible in the logs.
func (v *MembershipVerifier) IsMember(ctx context.Context, groupID, userID int64) bool {
	status, err := v.chat.GetChatMemberStatus(ctx, groupID, userID)
	if err != nil {
		v.logger.Warn("membership check failed, assuming user absent",
			"group_id", groupID, "user_id", userID, "error", err)
		return false
	}
	return status == memberStatusMember || status == memberStatusAdministrator
}
