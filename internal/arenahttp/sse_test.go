package arenahttp

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"arena/internal/arena/model"
)

func TestStreamMatchRepliesSnapshotThenReplaysBufferedEvents(t *testing.T) {
	router, repo := newTestRouter(t)
	m := model.Match{ID: "m1", Status: model.MatchInProgress}
	if err := repo.PutMatch(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/matches/m1/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after context cancellation")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: snapshot") {
		t.Fatalf("body missing snapshot event: %q", body)
	}
}

func TestStreamMatchNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest("GET", "/matches/missing/stream", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
