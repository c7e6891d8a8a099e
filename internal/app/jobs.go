/**
 * @description
 * Scheduled job implementations for the membership bot.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
)

// Jobs contains the logic for cron-scheduled tasks.
type Jobs struct {
	repo         Repository
	chat         ChatClient
	logger       *slog.Logger
	reminderDays int
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo Repository, chat ChatClient, logger *slog.Logger, reminderDays int) *Jobs {
	return &Jobs{
		repo:         repo,
		chat:         chat,
		logger:       logger,
		reminderDays: reminderDays,
	}
}

// SendRenewalReminders messages every linked subscriber whose subscription
// ends exactly reminderDays from today.
func (j *Jobs) SendRenewalReminders() {
	j.logger.Info("starting renewal reminder job", "days_before_expiry", j.reminderDays)
	ctx := context.Background()

	subs, err := j.repo.GetSubscribersExpiringIn(ctx, j.reminderDays)
	if err != nil {
		j.logger.Error("failed to fetch expiring subscribers", "error", err)
		return
	}

	if len(subs) == 0 {
		j.logger.Info("no subscribers expiring soon")
		return
	}

	text := fmt.Sprintf("Your subscription expires in %d days. Renew now to keep your group access.", j.reminderDays)
	sent := 0
	for _, sub := range subs {
		if err := j.chat.SendMessage(ctx, sub.TelegramID, text); err != nil {
			j.logger.Error("failed to send renewal reminder", "user_id", sub.TelegramID, "error", err)
			continue
		}
		sent++
	}

	j.logger.Info("renewal reminder job finished", "expiring", len(subs), "sent", sent)
}
