package challenge

import (
	"context"
	"testing"

	"arena/internal/arena/model"
	"arena/internal/arena/store"
)

func TestPickFiltersByDifficultyBand(t *testing.T) {
	repo := store.NewMemory()
	p := New(repo)
	noviceBand := model.Challenge{ID: "c1", Difficulty: model.DifficultyBeginner, QualityScore: 0.8}
	masterOnly := model.Challenge{ID: "c2", Difficulty: model.DifficultyMaster, QualityScore: 0.8}
	if err := repo.PutChallenge(context.Background(), noviceBand); err != nil {
		t.Fatal(err)
	}
	if err := repo.PutChallenge(context.Background(), masterOnly); err != nil {
		t.Fatal(err)
	}

	got, err := p.Pick(context.Background(), model.DivisionNovice, "", "a1", "a2")
	if err != nil {
		t.Fatalf("Pick: %v", err)
	}
	if got.ID != "c1" {
		t.Fatalf("Pick returned %s, want c1", got.ID)
	}
}

func TestPickExcludesBelowQualityFloor(t *testing.T) {
	repo := store.NewMemory()
	p := New(repo)
	if err := repo.PutChallenge(context.Background(), model.Challenge{ID: "c1", Difficulty: model.DifficultyBeginner, QualityScore: 0.05}); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Pick(context.Background(), model.DivisionNovice, "", "a1", "a2"); err != ErrNoChallenge {
		t.Fatalf("Pick err = %v, want ErrNoChallenge", err)
	}
}

func TestPickExcludesRecentlyServed(t *testing.T) {
	repo := store.NewMemory()
	p := New(repo)
	only := model.Challenge{ID: "c1", Difficulty: model.DifficultyBeginner, QualityScore: 0.8}
	if err := repo.PutChallenge(context.Background(), only); err != nil {
		t.Fatal(err)
	}

	first, err := p.Pick(context.Background(), model.DivisionNovice, "", "a1", "a2")
	if err != nil {
		t.Fatalf("first Pick: %v", err)
	}
	if first.ID != "c1" {
		t.Fatalf("first Pick = %s, want c1", first.ID)
	}
	if _, err := p.Pick(context.Background(), model.DivisionNovice, "", "a1", "a3"); err != ErrNoChallenge {
		t.Fatalf("second Pick (recently served to a1) err = %v, want ErrNoChallenge", err)
	}
}

func TestContributeRejectsMissingFields(t *testing.T) {
	p := New(store.NewMemory())
	if _, ok, reason := p.Contribute(context.Background(), Draft{}); ok || reason == "" {
		t.Fatalf("Contribute(empty draft) = ok=%v reason=%q, want rejected with a reason", ok, reason)
	}
}

func TestContributeRejectsDuplicateTitle(t *testing.T) {
	repo := store.NewMemory()
	p := New(repo)
	draft := Draft{Title: "Balanced Parens", Description: "desc", Type: model.ChallengeLogicalReasoning, Difficulty: model.DifficultyBeginner}
	if _, ok, _ := p.Contribute(context.Background(), draft); !ok {
		t.Fatal("first contribute should be accepted")
	}
	dup := Draft{Title: "  balanced   parens  ", Description: "desc2", Type: model.ChallengeLogicalReasoning, Difficulty: model.DifficultyBeginner}
	if _, ok, reason := p.Contribute(context.Background(), dup); ok || reason != "duplicate challenge" {
		t.Fatalf("duplicate contribute = ok=%v reason=%q, want rejected as duplicate", ok, reason)
	}
}

func TestSeedSkipsExisting(t *testing.T) {
	repo := store.NewMemory()
	p := New(repo)
	drafts := []Draft{{Title: "A", Description: "d", Type: model.ChallengeMathematical, Difficulty: model.DifficultyAdvanced}}
	n, err := p.Seed(context.Background(), drafts)
	if err != nil || n != 1 {
		t.Fatalf("first Seed: n=%d err=%v, want 1,nil", n, err)
	}
	n, err = p.Seed(context.Background(), drafts)
	if err != nil || n != 0 {
		t.Fatalf("second Seed: n=%d err=%v, want 0,nil", n, err)
	}
}

func TestApplyVerdictQualityRetiresBelowFloor(t *testing.T) {
	c := model.Challenge{QualityScore: qualityFloor + 0.001}
	for i := 0; i < 5; i++ {
		c = ApplyVerdictQuality(c, false)
	}
	if !c.Retired {
		t.Fatalf("challenge should be retired after repeated split verdicts, got quality=%v", c.QualityScore)
	}
}

func TestApplyVerdictQualityUnanimousIncreasesScore(t *testing.T) {
	c := model.Challenge{QualityScore: 0.5}
	got := ApplyVerdictQuality(c, true)
	if got.QualityScore <= 0.5 {
		t.Fatalf("unanimous verdict should raise quality, got %v", got.QualityScore)
	}
	if got.Uses != 1 {
		t.Fatalf("Uses = %d, want 1", got.Uses)
	}
}
