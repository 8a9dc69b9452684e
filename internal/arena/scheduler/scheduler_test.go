package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"arena/internal/arena/challenge"
	"arena/internal/arena/eventbus"
	"arena/internal/arena/gateway"
	"arena/internal/arena/judge"
	"arena/internal/arena/match"
	"arena/internal/arena/model"
	"arena/internal/arena/pairing"
	"arena/internal/arena/ranking"
	"arena/internal/arena/store"
)

// blockingGateway streams nothing until release is closed, letting a
// test hold a match open in InProgress to exercise admission control.
type blockingGateway struct {
	release chan struct{}
}

func (g *blockingGateway) Invoke(ctx context.Context, modelID, prompt string, opts gateway.Opts) (string, gateway.Usage, error) {
	return `{"agent1TotalScore":5,"agent2TotalScore":5,"recommendedWinner":null,"overallReasoning":"x","evaluationQuality":0.5}`, gateway.Usage{}, nil
}

func (g *blockingGateway) Stream(ctx context.Context, modelID, prompt string, opts gateway.Opts) (<-chan gateway.Delta, error) {
	ch := make(chan gateway.Delta)
	go func() {
		defer close(ch)
		select {
		case <-g.release:
			ch <- gateway.Delta{Text: "done"}
			ch <- gateway.Delta{Final: true}
		case <-ctx.Done():
			ch <- gateway.Delta{Err: ctx.Err()}
		}
	}()
	return ch, nil
}

func noopParser(m model.Match, judgeID, raw string) (model.JudgeEvaluation, error) {
	return model.JudgeEvaluation{JudgeID: judgeID, Agent1TotalScore: 5, Agent2TotalScore: 5, EvaluationQuality: 0.5}, nil
}

type stubPrompts struct{}

func (stubPrompts) JudgePrompt(m model.Match) (string, map[string]any) { return "judge", nil }

func newTestScheduler(t *testing.T, cfg Config, gw gateway.Gateway) (*Scheduler, store.Repository, *eventbus.Bus) {
	t.Helper()
	repo := store.NewMemory()
	bus := eventbus.New()
	pool := challenge.New(repo)
	pairer := pairing.New(repo, pairing.NewRepoHistory(repo))
	rk := ranking.New(repo, pool)
	panel := judge.New(repo, gw, stubPrompts{}, noopParser)

	for _, id := range []string{"a1", "a2", "a3"} {
		a := model.NewAgent(id, id)
		a.Division = model.DivisionNovice
		if err := repo.PutAgent(context.Background(), a); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 4; i++ {
		id := "judge" + string(rune('A'+i))
		a := model.NewAgent(id, id)
		a.JudgeStats.Reliability = 0.9
		if err := repo.PutAgent(context.Background(), a); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.PutChallenge(context.Background(), model.Challenge{ID: "c1", Title: "t", Description: "d", Type: model.ChallengeLogicalReasoning, Difficulty: model.DifficultyBeginner, QualityScore: 0.8}); err != nil {
		t.Fatal(err)
	}

	newRun := func() *match.Runner {
		r := match.New(repo, gw, bus, panel, rk)
		r.MatchTimeout = 5 * time.Second
		return r
	}
	return New(cfg, repo, bus, pairer, pool, rk, newRun), repo, bus
}

func TestStartRespectsMaxLiveMatches(t *testing.T) {
	gw := &blockingGateway{release: make(chan struct{})}
	defer close(gw.release)
	cfg := DefaultConfig()
	cfg.MaxLiveMatches = 1
	cfg.StartsPerMinute = 100
	s, _, _ := newTestScheduler(t, cfg, gw)

	if _, err := s.Start(context.Background(), Request{Division: model.DivisionNovice}); err != nil {
		t.Fatalf("first Start: %v", err)
	}

	waitForLive(t, s, 1)

	_, err := s.Start(context.Background(), Request{Division: model.DivisionNovice})
	var tooMany *TooManyError
	if !errors.As(err, &tooMany) {
		t.Fatalf("second Start err = %v, want *TooManyError", err)
	}
	if tooMany.Max != 1 {
		t.Fatalf("TooManyError.Max = %d, want 1", tooMany.Max)
	}
}

func TestStartEnforcesRateLimit(t *testing.T) {
	gw := &blockingGateway{release: make(chan struct{})}
	defer close(gw.release)
	cfg := DefaultConfig()
	cfg.MaxLiveMatches = 10
	cfg.StartsPerMinute = 1
	s, _, _ := newTestScheduler(t, cfg, gw)

	if _, err := s.Start(context.Background(), Request{Division: model.DivisionNovice, RequesterIP: "1.2.3.4"}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := s.Start(context.Background(), Request{Division: model.DivisionNovice, RequesterIP: "1.2.3.4"})
	var tooMany *TooManyError
	if !errors.As(err, &tooMany) {
		t.Fatalf("rate-limited Start err = %v, want *TooManyError", err)
	}
}

func TestSnapshotReturnsLiveMatches(t *testing.T) {
	gw := &blockingGateway{release: make(chan struct{})}
	defer close(gw.release)
	cfg := DefaultConfig()
	cfg.MaxLiveMatches = 5
	cfg.StartsPerMinute = 100
	s, _, _ := newTestScheduler(t, cfg, gw)

	m, err := s.Start(context.Background(), Request{Division: model.DivisionNovice})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForLive(t, s, 1)

	snap := s.Snapshot(context.Background())
	if len(snap) != 1 || snap[0].ID != m.ID {
		t.Fatalf("Snapshot = %+v, want single entry for %s", snap, m.ID)
	}
}

func TestShutdownCancelsLiveMatches(t *testing.T) {
	gw := &blockingGateway{release: make(chan struct{})}
	cfg := DefaultConfig()
	cfg.MaxLiveMatches = 5
	cfg.StartsPerMinute = 100
	s, repo, _ := newTestScheduler(t, cfg, gw)

	m, err := s.Start(context.Background(), Request{Division: model.DivisionNovice})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForLive(t, s, 1)

	s.Shutdown()
	waitForLive(t, s, 0)

	got, err := repo.GetMatch(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if got.Status != model.MatchCancelled {
		t.Fatalf("status after Shutdown = %v, want Cancelled", got.Status)
	}
}

func waitForLive(t *testing.T, s *Scheduler, want int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if s.liveCount() == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for liveCount == %d (got %d)", want, s.liveCount())
		case <-time.After(5 * time.Millisecond):
		}
	}
}
