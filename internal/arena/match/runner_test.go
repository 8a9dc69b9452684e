package match

import (
	"context"
	"testing"
	"time"

	"arena/internal/arena/eventbus"
	"arena/internal/arena/gateway"
	"arena/internal/arena/judge"
	"arena/internal/arena/model"
	"arena/internal/arena/ranking"
	"arena/internal/arena/store"
)

// fakeGateway is a scripted gateway.Gateway double: Invoke/Stream both
// read a scripted reply keyed by modelID, falling back to a default so
// unscripted agents (judges, mostly) still get a usable response.
type fakeGateway struct {
	replies map[string]string
}

func (g *fakeGateway) Invoke(ctx context.Context, modelID, prompt string, opts gateway.Opts) (string, gateway.Usage, error) {
	return g.reply(modelID), gateway.Usage{}, nil
}

func (g *fakeGateway) Stream(ctx context.Context, modelID, prompt string, opts gateway.Opts) (<-chan gateway.Delta, error) {
	ch := make(chan gateway.Delta, 2)
	text := g.reply(modelID)
	ch <- gateway.Delta{Text: text}
	ch <- gateway.Delta{Final: true}
	close(ch)
	return ch, nil
}

func (g *fakeGateway) reply(modelID string) string {
	if r, ok := g.replies[modelID]; ok {
		return r
	}
	return `{"agent1TotalScore":7,"agent2TotalScore":5,"recommendedWinner":"agent1","overallReasoning":"fake","evaluationQuality":0.8}`
}

func fakeParser(m model.Match, judgeID, raw string) (model.JudgeEvaluation, error) {
	return model.JudgeEvaluation{
		JudgeID:           judgeID,
		Agent1TotalScore:  7,
		Agent2TotalScore:  5,
		RecommendedWinner: model.RecommendAgent1,
		EvaluationQuality: 0.8,
	}, nil
}

type fakePromptBuilder struct{}

func (fakePromptBuilder) JudgePrompt(m model.Match) (string, map[string]any) {
	return "judge this", map[string]any{"type": "object"}
}

func newTestRunner(t *testing.T, gw gateway.Gateway) (*Runner, store.Repository, *eventbus.Bus) {
	t.Helper()
	repo := store.NewMemory()
	bus := eventbus.New()
	panel := judge.New(repo, gw, fakePromptBuilder{}, fakeParser)
	seedJudges(t, repo)

	rk := ranking.New(repo, nil)
	r := New(repo, gw, bus, panel, rk)
	r.MatchTimeout = 5 * time.Second
	r.MaxTurnsPerSide = 2
	return r, repo, bus
}

func seedJudges(t *testing.T, repo store.Repository) {
	t.Helper()
	for i := 0; i < 4; i++ {
		id := "judge" + string(rune('A'+i))
		a := model.NewAgent(id, id)
		a.JudgeStats.Reliability = 0.9
		if err := repo.PutAgent(context.Background(), a); err != nil {
			t.Fatalf("PutAgent(%s): %v", id, err)
		}
	}
}

func seedDuelists(t *testing.T, repo store.Repository) {
	t.Helper()
	a1 := model.NewAgent("a1", "Agent One")
	a2 := model.NewAgent("a2", "Agent Two")
	if err := repo.PutAgent(context.Background(), a1); err != nil {
		t.Fatal(err)
	}
	if err := repo.PutAgent(context.Background(), a2); err != nil {
		t.Fatal(err)
	}
}

func seedChallenge(t *testing.T, repo store.Repository, id string) model.Challenge {
	t.Helper()
	c := model.Challenge{ID: id, Title: "t", Description: "d", Type: model.ChallengeLogicalReasoning, Difficulty: model.DifficultyBeginner, QualityScore: 0.8}
	if err := repo.PutChallenge(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestRunRegularDuelCompletes(t *testing.T) {
	gw := &fakeGateway{replies: map[string]string{}}
	r, repo, _ := newTestRunner(t, gw)
	seedDuelists(t, repo)
	c := seedChallenge(t, repo, "c1")

	m := model.Match{ID: "m1", Agent1ID: "a1", Agent2ID: "a2", ChallengeID: c.ID, Division: model.DivisionNovice, Type: model.MatchRegularDuel, Status: model.MatchPending}
	if err := repo.PutMatch(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	r.Run(context.Background(), m)

	got, err := repo.GetMatch(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if got.Status != model.MatchCompleted {
		t.Fatalf("status = %v, want Completed", got.Status)
	}
	if got.Agent1Response == nil || got.Agent2Response == nil {
		t.Fatal("expected both agent responses to be recorded")
	}
	if got.WinnerID == nil || *got.WinnerID != "a1" {
		t.Fatalf("winnerId = %v, want a1", got.WinnerID)
	}
}

func TestRunDebateStopsOnEndSentinel(t *testing.T) {
	gw := &fakeGateway{replies: map[string]string{
		"a1": "my argument <END>",
		"a2": "rebuttal",
	}}
	r, repo, _ := newTestRunner(t, gw)
	seedDuelists(t, repo)
	c := seedChallenge(t, repo, "c1")

	m := model.Match{ID: "m2", Agent1ID: "a1", Agent2ID: "a2", ChallengeID: c.ID, Division: model.DivisionNovice, Type: model.MatchDebate, Status: model.MatchPending}
	if err := repo.PutMatch(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	r.Run(context.Background(), m)

	got, err := repo.GetMatch(context.Background(), "m2")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if len(got.Transcript) != 1 {
		t.Fatalf("transcript length = %d, want 1 (stopped after agent1's <END>)", len(got.Transcript))
	}
	if got.Status != model.MatchCompleted {
		t.Fatalf("status = %v, want Completed", got.Status)
	}
}

func TestRunFailsMatchOnUnknownChallenge(t *testing.T) {
	gw := &fakeGateway{replies: map[string]string{}}
	r, repo, _ := newTestRunner(t, gw)
	seedDuelists(t, repo)

	m := model.Match{ID: "m3", Agent1ID: "a1", Agent2ID: "a2", ChallengeID: "missing", Division: model.DivisionNovice, Type: model.MatchRegularDuel, Status: model.MatchPending}
	if err := repo.PutMatch(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	r.Run(context.Background(), m)

	got, err := repo.GetMatch(context.Background(), "m3")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if got.Status != model.MatchFailed {
		t.Fatalf("status = %v, want Failed", got.Status)
	}
	if got.FailureReason == "" {
		t.Fatal("expected a failure reason to be recorded")
	}
}

func TestRunCancelsOnExpiredContext(t *testing.T) {
	gw := &fakeGateway{replies: map[string]string{}}
	r, repo, _ := newTestRunner(t, gw)
	r.MatchTimeout = time.Hour // runner's own timeout shouldn't fire; caller ctx does
	seedDuelists(t, repo)
	c := seedChallenge(t, repo, "c1")

	m := model.Match{ID: "m4", Agent1ID: "a1", Agent2ID: "a2", ChallengeID: c.ID, Division: model.DivisionNovice, Type: model.MatchRegularDuel, Status: model.MatchPending}
	if err := repo.PutMatch(context.Background(), m); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx, m)

	got, err := repo.GetMatch(context.Background(), "m4")
	if err != nil {
		t.Fatalf("GetMatch: %v", err)
	}
	if got.Status != model.MatchCancelled {
		t.Fatalf("status = %v, want Cancelled", got.Status)
	}
}
