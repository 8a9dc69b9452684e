package arenahttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"arena/internal/arena/challenge"
	"arena/internal/arena/eventbus"
	"arena/internal/arena/match"
	"arena/internal/arena/model"
	"arena/internal/arena/pairing"
	"arena/internal/arena/ranking"
	"arena/internal/arena/scheduler"
	"arena/internal/arena/store"
	"arena/internal/arena/tournament"
)

func newTestRouter(t *testing.T) (http.Handler, store.Repository) {
	t.Helper()
	repo := store.NewMemory()
	pool := challenge.New(repo)
	bus := eventbus.New()
	pairer := pairing.New(repo, pairing.NewRepoHistory(repo))
	rk := ranking.New(repo, pool)

	cfg := scheduler.DefaultConfig()
	cfg.MaxLiveMatches = 0 // every Start call is rejected immediately, no real Runner needed
	newRunner := func() *match.Runner { return nil }
	sched := scheduler.New(cfg, repo, bus, pairer, pool, rk, newRunner)
	tr := tournament.New(sched, repo)

	router := NewRouter(Deps{Repo: repo, Pool: pool, Scheduler: sched, Tournament: tr, Bus: bus, AdminKey: "secret"})
	return router, repo
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListAgentsFiltersByDivision(t *testing.T) {
	router, repo := newTestRouter(t)
	a1 := model.NewAgent("a1", "A1")
	a1.Division = model.DivisionNovice
	a2 := model.NewAgent("a2", "A2")
	a2.Division = model.DivisionExpert
	if err := repo.PutAgent(context.Background(), a1); err != nil {
		t.Fatal(err)
	}
	if err := repo.PutAgent(context.Background(), a2); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/agents?division=Novice", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got []model.Agent
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("got = %+v, want only a1", got)
	}
}

func TestGetAgentNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/agents/missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestContributeChallengeRejectsDuplicate(t *testing.T) {
	router, _ := newTestRouter(t)
	draft := challenge.Draft{Title: "Unique Title", Description: "desc", Type: model.ChallengeLogicalReasoning, Difficulty: model.DifficultyBeginner}
	body, _ := json.Marshal(draft)

	req := httptest.NewRequest(http.MethodPost, "/challenges/contribute", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first contribute status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodPost, "/challenges/contribute", bytes.NewReader(body))
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusConflict {
		t.Fatalf("duplicate contribute status = %d, want 409", rec2.Code)
	}
}

func TestQuickMatchReturnsTooManyRequestsWhenAtCapacity(t *testing.T) {
	router, _ := newTestRouter(t)
	body, _ := json.Marshal(map[string]string{"division": "Novice"})
	req := httptest.NewRequest(http.MethodPost, "/matches/quick", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429: %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["error"] != "too_many_matches" {
		t.Fatalf("body = %+v", got)
	}
}

func TestTournamentStartRequiresAdminKey(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/tournament/start", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without key = %d, want 401", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/tournament/start", nil)
	req2.Header.Set("X-API-Key", "secret")
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusAccepted {
		t.Fatalf("status with key = %d, want 202: %s", rec2.Code, rec2.Body.String())
	}
}

func TestTournamentStatusReportsIdleByDefault(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/tournament/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got tournament.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Running {
		t.Fatal("freshly constructed tournament runner should not be running")
	}
}
