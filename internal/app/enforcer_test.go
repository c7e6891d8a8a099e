package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/clubgate/membership-bot/internal/domain"
)

type memberKey struct {
	groupID int64
	userID  int64
}

type enforcerRepoStub struct {
	mu         sync.Mutex
	expired    []domain.ExpiredSubscriber
	expiredErr error
	fetchCalls int
	groups     map[domain.Language][]domain.Group
	removed    map[int64]bool
	markErr    error
	markCalls  []int64
}

func (s *enforcerRepoStub) GetGroups(ctx context.Context, plan string, language domain.Language) ([]domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[language], nil
}

func (s *enforcerRepoStub) GetExpiredSubscribers(ctx context.Context) ([]domain.ExpiredSubscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchCalls++
	if s.expiredErr != nil {
		return nil, s.expiredErr
	}
	return s.expired, nil
}

func (s *enforcerRepoStub) GetSubscribersExpiringIn(ctx context.Context, days int) ([]domain.ExpiredSubscriber, error) {
	return nil, nil
}

func (s *enforcerRepoStub) HasBeenRemoved(ctx context.Context, telegramID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removed[telegramID], nil
}

func (s *enforcerRepoStub) MarkRemoved(ctx context.Context, telegramID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return 0, s.markErr
	}
	if s.removed == nil {
		s.removed = make(map[int64]bool)
	}
	s.removed[telegramID] = true
	s.markCalls = append(s.markCalls, telegramID)
	return 1, nil
}

func (s *enforcerRepoStub) markedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.markCalls)
}

type enforcerChatStub struct {
	mu          sync.Mutex
	statuses    map[memberKey]string
	statusBlock chan struct{}
	statusCalls int
	kickErr     map[int64]error
	kicks       []memberKey
	sent        []int64
	sendErr     error
}

func (s *enforcerChatStub) SendMessage(ctx context.Context, chatID int64, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, chatID)
	return nil
}

func (s *enforcerChatStub) GetChatMemberStatus(ctx context.Context, groupID, userID int64) (string, error) {
	s.mu.Lock()
	s.statusCalls++
	block := s.statusBlock
	status, ok := s.statuses[memberKey{groupID, userID}]
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	if !ok {
		return "", errors.New("member not found")
	}
	return status, nil
}

func (s *enforcerChatStub) UnbanChatMember(ctx context.Context, groupID, userID int64, onlyIfBanned bool) error {
	return nil
}

func (s *enforcerChatStub) KickWithoutBan(ctx context.Context, groupID, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kickErr[groupID]; err != nil {
		return err
	}
	s.kicks = append(s.kicks, memberKey{groupID, userID})
	return nil
}

func (s *enforcerChatStub) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *enforcerChatStub) kickCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.kicks)
}

func newTestEnforcer(repo Repository, chat ChatClient) *Enforcer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	verifier := NewMembershipVerifier(chat, logger)
	return NewEnforcer(repo, chat, verifier, logger, time.Minute, 0, 0)
}

func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testGroups() map[domain.Language][]domain.Group {
	return map[domain.Language][]domain.Group{
		domain.LanguageArabic: {
			{ID: 100, Name: "G1", InviteLink: "https://t.me/g1", Plan: "P1", Language: domain.LanguageArabic},
		},
		domain.LanguageEnglish: {
			{ID: 200, Name: "G2", InviteLink: "https://t.me/g2", Plan: "P1", Language: domain.LanguageEnglish},
		},
	}
}

func TestRunOnce_RemovesSubscriberPresentInOneGroup(t *testing.T) {
	repo := &enforcerRepoStub{
		expired: []domain.ExpiredSubscriber{{TelegramID: 555, Plan: "P1"}},
		groups:  testGroups(),
	}
	chat := &enforcerChatStub{
		statuses: map[memberKey]string{
			{100, 555}: "member",
			{200, 555}: "left",
		},
	}
	enforcer := newTestEnforcer(repo, chat)

	enforcer.RunOnce(context.Background())

	if got := chat.kickCount(); got != 1 {
		t.Fatalf("expected exactly one removal, got %d", got)
	}
	if chat.kicks[0] != (memberKey{100, 555}) {
		t.Fatalf("expected removal from group 100, got %+v", chat.kicks[0])
	}
	if repo.markedCount() != 1 || repo.markCalls[0] != 555 {
		t.Fatalf("expected subscriber 555 marked removed, got %v", repo.markCalls)
	}
	waitFor(t, "expected one expiry notice", func() bool { return chat.sentCount() == 1 })
}

func TestRunOnce_NeverJoinedSubscriberStaysUnmarked(t *testing.T) {
	repo := &enforcerRepoStub{
		expired: []domain.ExpiredSubscriber{{TelegramID: 555, Plan: "P1"}},
		groups:  testGroups(),
	}
	chat := &enforcerChatStub{
		statuses: map[memberKey]string{
			{100, 555}: "left",
			{200, 555}: "left",
		},
	}
	enforcer := newTestEnforcer(repo, chat)

	enforcer.RunOnce(context.Background())

	if got := chat.kickCount(); got != 0 {
		t.Fatalf("expected no removals, got %d", got)
	}
	if repo.markedCount() != 0 {
		t.Fatal("subscriber with no memberships must not be marked removed")
	}

	// The subscriber reappears in the next run's candidate set.
	enforcer.RunOnce(context.Background())
	repo.mu.Lock()
	fetches := repo.fetchCalls
	repo.mu.Unlock()
	if fetches != 2 {
		t.Fatalf("expected 2 candidate fetches, got %d", fetches)
	}
	if repo.markedCount() != 0 {
		t.Fatal("removed flag must stay clear across runs")
	}
}

func TestRunOnce_SecondRunSkipsRemovedSubscriber(t *testing.T) {
	repo := &enforcerRepoStub{
		expired: []domain.ExpiredSubscriber{{TelegramID: 555, Plan: "P1"}},
		groups:  testGroups(),
	}
	chat := &enforcerChatStub{
		statuses: map[memberKey]string{
			{100, 555}: "member",
			{200, 555}: "left",
		},
	}
	enforcer := newTestEnforcer(repo, chat)

	enforcer.RunOnce(context.Background())
	// The stub keeps returning the subscriber; the defensive re-check must
	// skip them now that the removed flag is set.
	enforcer.RunOnce(context.Background())

	if got := chat.kickCount(); got != 1 {
		t.Fatalf("expected one removal across both runs, got %d", got)
	}
	if repo.markedCount() != 1 {
		t.Fatalf("expected one mark call, got %d", repo.markedCount())
	}
}

func TestRunOnce_KickFailureLeavesSubscriberUnmarked(t *testing.T) {
	repo := &enforcerRepoStub{
		expired: []domain.ExpiredSubscriber{{TelegramID: 555, Plan: "P1"}},
		groups:  testGroups(),
	}
	chat := &enforcerChatStub{
		statuses: map[memberKey]string{
			{100, 555}: "member",
			{200, 555}: "left",
		},
		kickErr: map[int64]error{100: errors.New("telegram unavailable")},
	}
	enforcer := newTestEnforcer(repo, chat)

	enforcer.RunOnce(context.Background())

	if repo.markedCount() != 0 {
		t.Fatal("subscriber must stay unmarked when every removal failed")
	}
}

func TestRunOnce_UsesStoredLanguageOnly(t *testing.T) {
	english := domain.LanguageEnglish
	repo := &enforcerRepoStub{
		expired: []domain.ExpiredSubscriber{{TelegramID: 555, Plan: "P1", Language: &english}},
		groups:  testGroups(),
	}
	chat := &enforcerChatStub{
		statuses: map[memberKey]string{
			{100, 555}: "member",
			{200, 555}: "member",
		},
	}
	enforcer := newTestEnforcer(repo, chat)

	enforcer.RunOnce(context.Background())

	if got := chat.kickCount(); got != 1 {
		t.Fatalf("expected one removal, got %d", got)
	}
	if chat.kicks[0].groupID != 200 {
		t.Fatalf("expected removal from the English group only, got group %d", chat.kicks[0].groupID)
	}
}

func TestRunOnce_FetchFailureAbortsRun(t *testing.T) {
	repo := &enforcerRepoStub{expiredErr: errors.New("db unavailable")}
	chat := &enforcerChatStub{}
	enforcer := newTestEnforcer(repo, chat)

	enforcer.RunOnce(context.Background())

	if chat.kickCount() != 0 || chat.sentCount() != 0 {
		t.Fatal("expected no platform calls after a fetch failure")
	}
	if !enforcer.Status().LastRunAt.IsZero() {
		t.Fatal("aborted run must not count as completed")
	}
}

func TestRunOnce_SkipsWhileRunInProgress(t *testing.T) {
	block := make(chan struct{})
	repo := &enforcerRepoStub{
		expired: []domain.ExpiredSubscriber{{TelegramID: 555, Plan: "P1"}},
		groups:  testGroups(),
	}
	chat := &enforcerChatStub{
		statuses: map[memberKey]string{
			{100, 555}: "member",
			{200, 555}: "left",
		},
		statusBlock: block,
	}
	enforcer := newTestEnforcer(repo, chat)

	done := make(chan struct{})
	go func() {
		enforcer.RunOnce(context.Background())
		close(done)
	}()

	waitFor(t, "first run never reached the verifier", func() bool {
		chat.mu.Lock()
		defer chat.mu.Unlock()
		return chat.statusCalls > 0
	})

	// Concurrent trigger while the first run is blocked inside the verifier.
	enforcer.RunOnce(context.Background())

	repo.mu.Lock()
	fetches := repo.fetchCalls
	repo.mu.Unlock()
	if fetches != 1 {
		t.Fatalf("concurrent trigger must be a no-op, got %d candidate fetches", fetches)
	}

	close(block)
	<-done
}

func TestExpiryNotice_DeduplicatedAcrossRuns(t *testing.T) {
	repo := &enforcerRepoStub{
		expired: []domain.ExpiredSubscriber{{TelegramID: 555, Plan: "P1"}},
		groups:  testGroups(),
		markErr: errors.New("write failed"),
	}
	chat := &enforcerChatStub{
		statuses: map[memberKey]string{
			{100, 555}: "member",
			{200, 555}: "left",
		},
	}
	enforcer := newTestEnforcer(repo, chat)

	// The mark write keeps failing, so the subscriber reappears every run.
	enforcer.RunOnce(context.Background())
	waitFor(t, "expected first expiry notice", func() bool { return chat.sentCount() == 1 })

	enforcer.RunOnce(context.Background())
	enforcer.RunOnce(context.Background())

	time.Sleep(100 * time.Millisecond)
	if got := chat.sentCount(); got != 1 {
		t.Fatalf("expected a single notice per identity, got %d", got)
	}
}

func TestExpiryNotice_RetriedAfterSendFailure(t *testing.T) {
	repo := &enforcerRepoStub{
		expired: []domain.ExpiredSubscriber{{TelegramID: 555, Plan: "P1"}},
		groups:  testGroups(),
		markErr: errors.New("write failed"),
	}
	chat := &enforcerChatStub{
		statuses: map[memberKey]string{
			{100, 555}: "member",
			{200, 555}: "left",
		},
		sendErr: errors.New("telegram unavailable"),
	}
	enforcer := newTestEnforcer(repo, chat)

	enforcer.RunOnce(context.Background())
	time.Sleep(50 * time.Millisecond)
	if chat.sentCount() != 0 {
		t.Fatal("expected failed send to record nothing")
	}

	chat.mu.Lock()
	chat.sendErr = nil
	chat.mu.Unlock()

	enforcer.RunOnce(context.Background())
	waitFor(t, "expected notice after transport recovered", func() bool { return chat.sentCount() == 1 })
}

func TestStatus_ReflectsCompletedRun(t *testing.T) {
	repo := &enforcerRepoStub{
		expired: []domain.ExpiredSubscriber{{TelegramID: 555, Plan: "P1"}},
		groups:  testGroups(),
	}
	chat := &enforcerChatStub{
		statuses: map[memberKey]string{
			{100, 555}: "member",
			{200, 555}: "left",
		},
	}
	enforcer := newTestEnforcer(repo, chat)

	enforcer.RunOnce(context.Background())

	status := enforcer.Status()
	if status.Running {
		t.Fatal("run state must be idle after completion")
	}
	if status.LastRunAt.IsZero() {
		t.Fatal("expected last run timestamp to be recorded")
	}
	if status.LastExpiredCount != 1 || status.TotalRemoved != 1 {
		t.Fatalf("unexpected stats: %+v", status)
	}
}
