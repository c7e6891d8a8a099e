package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clubgate/membership-bot/internal/app"
)

type statusSourceStub struct {
	status app.EnforcementStatus
}

func (s *statusSourceStub) Status() app.EnforcementStatus {
	return s.status
}

func TestHealthEndpoint(t *testing.T) {
	router := NewRouter(NewHandler(&statusSourceStub{}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	source := &statusSourceStub{status: app.EnforcementStatus{
		Running:          true,
		LastRunAt:        time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
		LastExpiredCount: 3,
		TotalRemoved:     7,
	}}
	router := NewRouter(NewHandler(source))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got app.EnforcementStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !got.Running || got.LastExpiredCount != 3 || got.TotalRemoved != 7 {
		t.Fatalf("unexpected status payload: %+v", got)
	}
}
