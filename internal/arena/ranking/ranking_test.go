package ranking

import (
	"context"
	"testing"

	"arena/internal/arena/challenge"
	"arena/internal/arena/judge"
	"arena/internal/arena/model"
	"arena/internal/arena/store"
)

func newTestEngine() (*Engine, store.Repository) {
	repo := store.NewMemory()
	pool := challenge.New(repo)
	return New(repo, pool), repo
}

func mustPutAgent(t *testing.T, repo store.Repository, a model.Agent) {
	t.Helper()
	if err := repo.PutAgent(context.Background(), a); err != nil {
		t.Fatalf("PutAgent: %v", err)
	}
}

func TestExpectedSymmetric(t *testing.T) {
	if got := Expected(1000, 1000); got != 0.5 {
		t.Fatalf("Expected(1000,1000) = %v, want 0.5", got)
	}
	if Expected(1200, 1000) <= 0.5 {
		t.Fatalf("higher-rated agent should have expected score > 0.5")
	}
}

func TestApplyEloMovesWinnerUp(t *testing.T) {
	e, repo := newTestEngine()
	a1 := model.NewAgent("a1", "Agent One")
	a2 := model.NewAgent("a2", "Agent Two")
	mustPutAgent(t, repo, a1)
	mustPutAgent(t, repo, a2)

	m := model.Match{
		ID: "m1", Agent1ID: "a1", Agent2ID: "a2",
		Division: model.DivisionNovice, Type: model.MatchRegularDuel,
		Status: model.MatchCompleted, Result: model.ResultWin,
	}
	if err := e.Apply(context.Background(), Outcome{Match: m, Verdict: judge.Verdict{WinnerID: "a1"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got1, _ := repo.GetAgent(context.Background(), "a1")
	got2, _ := repo.GetAgent(context.Background(), "a2")
	if got1.EloRating <= 1000 {
		t.Fatalf("winner elo = %v, want > 1000", got1.EloRating)
	}
	if got2.EloRating >= 1000 {
		t.Fatalf("loser elo = %v, want < 1000", got2.EloRating)
	}
	if got1.GlobalStats.Wins != 1 || got2.GlobalStats.Losses != 1 {
		t.Fatalf("unexpected stats: winner=%+v loser=%+v", got1.GlobalStats, got2.GlobalStats)
	}
}

func TestApplyIsIdempotentPerMatch(t *testing.T) {
	e, repo := newTestEngine()
	mustPutAgent(t, repo, model.NewAgent("a1", "A"))
	mustPutAgent(t, repo, model.NewAgent("a2", "B"))

	m := model.Match{
		ID: "m1", Agent1ID: "a1", Agent2ID: "a2",
		Division: model.DivisionNovice, Status: model.MatchCompleted, Result: model.ResultWin,
	}
	o := Outcome{Match: m, Verdict: judge.Verdict{WinnerID: "a1"}}
	if err := e.Apply(context.Background(), o); err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	afterFirst, _ := repo.GetAgent(context.Background(), "a1")

	if err := e.Apply(context.Background(), o); err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	afterSecond, _ := repo.GetAgent(context.Background(), "a1")

	if afterFirst.EloRating != afterSecond.EloRating || afterFirst.GlobalStats.Matches != afterSecond.GlobalStats.Matches {
		t.Fatalf("second Apply mutated state: before=%+v after=%+v", afterFirst, afterSecond)
	}
}

func TestApplyRejectsNonCompletedMatch(t *testing.T) {
	e, _ := newTestEngine()
	m := model.Match{ID: "m1", Status: model.MatchInProgress}
	if err := e.Apply(context.Background(), Outcome{Match: m}); err == nil {
		t.Fatal("expected error for non-Completed match")
	}
}

func TestNovicePromotionOnStreak(t *testing.T) {
	e, _ := newTestEngine()
	a := model.NewAgent("a1", "A")
	a.DivisionStats = model.Stats{Matches: 5, Wins: 4, CurrentStreak: 3}
	m := model.Match{Agent1ID: "a1", Agent2ID: "a2", Result: model.ResultWin}
	e.applyPromotionDemotion(&a, m)
	if a.Division != model.DivisionExpert {
		t.Fatalf("division = %v, want Expert", a.Division)
	}
	if len(a.DivisionChangeHistory) != 1 || a.DivisionChangeHistory[0].Kind != model.DivisionChangePromotion {
		t.Fatalf("expected one promotion record, got %+v", a.DivisionChangeHistory)
	}
}

func TestEligibleChallengerRequiresMasterDivision(t *testing.T) {
	a := model.NewAgent("a1", "A")
	a.Division = model.DivisionExpert
	if EligibleChallenger(a) {
		t.Fatal("expert agent should not be king-eligible")
	}
	a.Division = model.DivisionMaster
	a.DivisionStats = model.Stats{Matches: 10, Wins: 8}
	if !EligibleChallenger(a) {
		t.Fatal("master agent meeting win-rate threshold should be king-eligible")
	}
}

func TestKingNeedsSuccessionOnStreak(t *testing.T) {
	king := model.NewAgent("king", "King")
	king.Division = model.DivisionKing
	king.DivisionStats.CurrentStreak = -3
	if !KingNeedsSuccession(king) {
		t.Fatal("king on a 3-loss streak should need succession")
	}
}
