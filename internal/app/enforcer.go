/**
 * @description
 * The subscription enforcement loop. It periodically detects lapsed
 * subscribers, verifies their group membership, removes them from every group
 * they still occupy, records the removal, and sends a single deferred expiry
 * notice per identity. Runs never overlap: a trigger while a run is in
 * progress is skipped, and the next run is scheduled a fixed delay after the
 * current one completes.
 */
package app

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clubgate/membership-bot/internal/domain"
)

// ExpiryNotice is the message sent to a subscriber after their access has
// been revoked.
const ExpiryNotice = "Your subscription has expired. Please renew to regain access."

// Repository defines the database operations needed by the app layer.
type Repository interface {
	GetGroups(ctx context.Context, plan string, language domain.Language) ([]domain.Group, error)
	GetExpiredSubscribers(ctx context.Context) ([]domain.ExpiredSubscriber, error)
	GetSubscribersExpiringIn(ctx context.Context, days int) ([]domain.ExpiredSubscriber, error)
	HasBeenRemoved(ctx context.Context, telegramID int64) (bool, error)
	MarkRemoved(ctx context.Context, telegramID int64) (int64, error)
}

// ChatClient defines the chat-platform operations needed by the app layer.
type ChatClient interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	GetChatMemberStatus(ctx context.Context, groupID, userID int64) (string, error)
	UnbanChatMember(ctx context.Context, groupID, userID int64, onlyIfBanned bool) error
	KickWithoutBan(ctx context.Context, groupID, userID int64) error
}

// EnforcementStatus is a snapshot of the loop's run state for the ops API.
type EnforcementStatus struct {
	Running          bool      `json:"running"`
	LastRunAt        time.Time `json:"last_run_at"`
	LastExpiredCount int       `json:"last_expired_count"`
	TotalRemoved     int       `json:"total_removed"`
}

// Enforcer owns the enforcement loop, its re-entrancy guard, and the
// process-lifetime notified set.
type Enforcer struct {
	repo     Repository
	chat     ChatClient
	verifier *MembershipVerifier
	logger   *slog.Logger

	interval    time.Duration
	settleDelay time.Duration
	notifyDelay time.Duration

	running atomic.Bool

	mu               sync.Mutex
	notified         map[int64]struct{}
	lastRunAt        time.Time
	lastExpiredCount int
	totalRemoved     int
}

// NewEnforcer creates a new enforcement loop.
func NewEnforcer(repo Repository, chat ChatClient, verifier *MembershipVerifier, logger *slog.Logger, interval, settleDelay, notifyDelay time.Duration) *Enforcer {
	return &Enforcer{
		repo:        repo,
		chat:        chat,
		verifier:    verifier,
		logger:      logger,
		interval:    interval,
		settleDelay: settleDelay,
		notifyDelay: notifyDelay,
		notified:    make(map[int64]struct{}),
	}
}

// Start launches the loop in the background. The first run starts
// immediately; each following run is scheduled a fixed interval after the
// previous one finished, so an overrunning run delays the next one instead of
// overlapping it. The loop exits when the context is cancelled.
func (e *Enforcer) Start(ctx context.Context) {
	go func() {
		for {
			e.RunOnce(ctx)
			select {
			case <-ctx.Done():
				return
			case <-time.After(e.interval):
			}
		}
	}()
}

// RunOnce executes a single enforcement pass. A trigger while another pass is
// in flight is a no-op.
func (e *Enforcer) RunOnce(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		e.logger.Warn("enforcement run already in progress, skipping trigger")
		return
	}
	defer e.running.Store(false)

	e.logger.Info("starting enforcement run")

	subs, err := e.repo.GetExpiredSubscribers(ctx)
	if err != nil {
		// Abort this run only; the next scheduled run is the retry.
		e.logger.Error("failed to fetch expired subscribers", "error", err)
		return
	}
	e.logger.Info("fetched expired subscribers", "count", len(subs))

	removed := 0
	for _, sub := range subs {
		if ctx.Err() != nil {
			e.logger.Warn("enforcement run cancelled", "error", ctx.Err())
			return
		}
		if e.processSubscriber(ctx, sub) {
			removed++
		}
	}

	e.mu.Lock()
	e.lastRunAt = time.Now()
	e.lastExpiredCount = len(subs)
	e.totalRemoved += removed
	e.mu.Unlock()

	e.logger.Info("enforcement run finished", "expired", len(subs), "removed", removed)
}

// processSubscriber handles one expired subscriber and reports whether the
// subscriber ended up removed.
func (e *Enforcer) processSubscriber(ctx context.Context, sub domain.ExpiredSubscriber) bool {
	log := e.logger.With("user_id", sub.TelegramID, "plan", sub.Plan)
	log.Info("processing expired subscriber")

	// Re-check against a linking write that may have landed since the
	// expired-set snapshot was taken.
	alreadyRemoved, err := e.repo.HasBeenRemoved(ctx, sub.TelegramID)
	if err != nil {
		log.Error("failed to check removal status", "error", err)
		return false
	}
	if alreadyRemoved {
		log.Info("subscriber already removed, skipping")
		return false
	}

	// Settle delay: tolerate a last-moment renewal landing just after the
	// snapshot, at the cost of latency.
	if !e.wait(ctx, e.settleDelay) {
		return false
	}

	removedAny := false
	for _, grp := range e.groupsFor(ctx, sub) {
		if !e.verifier.IsMember(ctx, grp.ID, sub.TelegramID) {
			log.Info("subscriber not in group, skipping removal", "group", grp.Name)
			continue
		}
		log.Info("removing subscriber from group", "group", grp.Name, "group_id", grp.ID)
		if err := e.chat.KickWithoutBan(ctx, grp.ID, sub.TelegramID); err != nil {
			log.Error("failed to remove subscriber from group", "group", grp.Name, "error", err)
			continue
		}
		removedAny = true
	}

	if !removedAny {
		// Nothing confirmed removed: the subscriber stays unmarked and will
		// be re-evaluated next run. Holds for subscribers who never joined
		// any group.
		log.Info("no group removal succeeded, will retry next run")
		return false
	}

	if _, err := e.repo.MarkRemoved(ctx, sub.TelegramID); err != nil {
		log.Error("failed to mark subscriber as removed", "error", err)
	} else {
		log.Info("marked subscriber as removed from groups")
	}

	e.scheduleExpiryNotice(ctx, sub.TelegramID)
	return true
}

// groupsFor resolves the groups a subscriber could occupy under their plan.
// When the language choice was recorded at link time only that variant is
// checked; rows linked before the language column existed fall back to the
// union over every language.
func (e *Enforcer) groupsFor(ctx context.Context, sub domain.ExpiredSubscriber) []domain.Group {
	languages := domain.Languages
	if sub.Language != nil {
		languages = []domain.Language{*sub.Language}
	}

	var groups []domain.Group
	for _, lang := range languages {
		gs, err := e.repo.GetGroups(ctx, sub.Plan, lang)
		if err != nil {
			e.logger.Error("failed to fetch groups", "plan", sub.Plan, "language", lang, "error", err)
			continue
		}
		groups = append(groups, gs...)
	}
	return groups
}

// scheduleExpiryNotice sends the expiry message after a short delay, at most
// once per identity for the lifetime of the process.
func (e *Enforcer) scheduleExpiryNotice(ctx context.Context, telegramID int64) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(e.notifyDelay):
		}

		e.mu.Lock()
		if _, dup := e.notified[telegramID]; dup {
			e.mu.Unlock()
			return
		}
		e.notified[telegramID] = struct{}{}
		e.mu.Unlock()

		if err := e.chat.SendMessage(ctx, telegramID, ExpiryNotice); err != nil {
			e.logger.Error("failed to send expiry notice", "user_id", telegramID, "error", err)
			// Give the next run another chance to notify.
			e.mu.Lock()
			delete(e.notified, telegramID)
			e.mu.Unlock()
			return
		}
		e.logger.Info("expiry notice sent", "user_id", telegramID)
	}()
}

// wait sleeps for d unless the context is cancelled first.
func (e *Enforcer) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Status returns a snapshot of the loop's run state.
func (e *Enforcer) Status() EnforcementStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EnforcementStatus{
		Running:          e.running.Load(),
		LastRunAt:        e.lastRunAt,
		LastExpiredCount: e.lastExpiredCount,
		TotalRemoved:     e.totalRemoved,
	}
}
