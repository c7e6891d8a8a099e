package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type verifierChatStub struct {
	status    string
	statusErr error
}

func (s *verifierChatStub) SendMessage(ctx context.Context, chatID int64, text string) error {
	return nil
}

func (s *verifierChatStub) GetChatMemberStatus(ctx context.Context, groupID, userID int64) (string, error) {
	if s.statusErr != nil {
		return "", s.statusErr
	}
	return s.status, nil
}

func (s *verifierChatStub) UnbanChatMember(ctx context.Context, groupID, userID int64, onlyIfBanned bool) error {
	return nil
}

func (s *verifierChatStub) KickWithoutBan(ctx context.Context, groupID, userID int64) error {
	return nil
}

func TestIsMember_StatusMapping(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"member", true},
		{"administrator", true},
		{"left", false},
		{"kicked", false},
		{"restricted", false},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			verifier := NewMembershipVerifier(&verifierChatStub{status: tt.status}, logger)
			if got := verifier.IsMember(context.Background(), 100, 555); got != tt.want {
				t.Fatalf("status %q: expected %v, got %v", tt.status, tt.want, got)
			}
		})
	}
}

func TestIsMember_AssumesAbsentOnError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chat := &verifierChatStub{statusErr: errors.New("user never joined")}
	verifier := NewMembershipVerifier(chat, logger)

	if verifier.IsMember(context.Background(), 100, 555) {
		t.Fatal("platform errors must be treated as absent")
	}
}
