// Package pairing implements Pairing (spec.md §4.4): picking two
// eligible agents within a division subject to a cooldown, an
// ε-greedy fairness/exploration rule, and a repeat-opponent cap.
package pairing

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sort"
	"time"

	"arena/internal/arena/model"
	"arena/internal/arena/store"
)

var ErrNoOpponent = errors.New("no eligible opponent")

const (
	defaultCooldown       = 10 * time.Second
	defaultEpsilon        = 0.1
	maxRepeatOpponentUses = 3
	repeatOpponentWindow  = 20
)

// RecentOpponents reports, for a given agent, the opponent IDs of its
// last N matches (most-recent last). Pairing depends on this instead of
// on Repository directly so the fairness rule (spec.md §4.4 rule 4) can
// be satisfied by any component that already tracks match history.
type RecentOpponents interface {
	LastOpponents(ctx context.Context, agentID string, n int) ([]string, error)
}

type Pairing struct {
	repo    store.Repository
	history RecentOpponents
	Cooldown time.Duration
	Epsilon  float64
	rand     *rand.Rand
}

// repoHistory implements RecentOpponents directly off Repository, for
// callers that don't already track match history some other way: it
// scans completed matches an agent took part in, most recent first.
type repoHistory struct {
	repo store.Repository
}

// NewRepoHistory adapts a Repository into a RecentOpponents, letting
// Pairing be constructed without a separate match-history index.
func NewRepoHistory(repo store.Repository) RecentOpponents {
	return repoHistory{repo: repo}
}

func (h repoHistory) LastOpponents(ctx context.Context, agentID string, n int) ([]string, error) {
	matches, err := h.repo.ListMatches(ctx, store.MatchFilter{Status: model.MatchCompleted})
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })

	opponents := make([]string, 0, n)
	for _, m := range matches {
		var opp string
		switch agentID {
		case m.Agent1ID:
			opp = m.Agent2ID
		case m.Agent2ID:
			opp = m.Agent1ID
		default:
			continue
		}
		opponents = append(opponents, opp)
		if len(opponents) >= n {
			break
		}
	}
	// LastOpponents documents most-recent-last ordering.
	for i, j := 0, len(opponents)-1; i < j; i, j = i+1, j-1 {
		opponents[i], opponents[j] = opponents[j], opponents[i]
	}
	return opponents, nil
}

func New(repo store.Repository, history RecentOpponents) *Pairing {
	return &Pairing{
		repo:     repo,
		history:  history,
		Cooldown: defaultCooldown,
		Epsilon:  defaultEpsilon,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Pick returns two eligible agents in division. With probability Epsilon
// it explores uniformly at random among eligible pairs; otherwise it
// picks the pair minimizing |eloDiff| that does not violate the repeat-
// opponent cap.
func (p *Pairing) Pick(ctx context.Context, division model.Division) (model.Agent, model.Agent, error) {
	active := true
	candidates, err := p.repo.ListAgents(ctx, store.AgentFilter{Division: division, Active: &active})
	if err != nil {
		return model.Agent{}, model.Agent{}, err
	}
	now := time.Now()
	eligible := make([]model.Agent, 0, len(candidates))
	for _, a := range candidates {
		if a.LastMatchAt.IsZero() || now.Sub(a.LastMatchAt) >= p.Cooldown {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) < 2 {
		return model.Agent{}, model.Agent{}, ErrNoOpponent
	}

	if p.rand.Float64() < p.Epsilon {
		i, j := p.randomPair(len(eligible))
		return eligible[i], eligible[j], nil
	}

	bestI, bestJ := -1, -1
	bestDiff := math.MaxFloat64
	for i := 0; i < len(eligible); i++ {
		for j := i + 1; j < len(eligible); j++ {
			if p.violatesRepeatCap(ctx, eligible[i].ID, eligible[j].ID) {
				continue
			}
			diff := math.Abs(eligible[i].EloRating - eligible[j].EloRating)
			if diff < bestDiff {
				bestDiff = diff
				bestI, bestJ = i, j
			}
		}
	}
	if bestI < 0 {
		// Every candidate pair is capped by the repeat-opponent rule;
		// fall back to a random eligible pair rather than fail outright.
		i, j := p.randomPair(len(eligible))
		return eligible[i], eligible[j], nil
	}
	return eligible[bestI], eligible[bestJ], nil
}

// PickManual returns the requested pairing iff both agents exist, are
// active, and are in division (spec.md §4.4 "Manual override").
func (p *Pairing) PickManual(ctx context.Context, division model.Division, withA, withB string) (model.Agent, model.Agent, error) {
	a, err := p.repo.GetAgent(ctx, withA)
	if err != nil {
		return model.Agent{}, model.Agent{}, ErrNoOpponent
	}
	b, err := p.repo.GetAgent(ctx, withB)
	if err != nil {
		return model.Agent{}, model.Agent{}, ErrNoOpponent
	}
	if !a.Active || !b.Active || a.Division != division || b.Division != division {
		return model.Agent{}, model.Agent{}, ErrNoOpponent
	}
	return a, b, nil
}

func (p *Pairing) violatesRepeatCap(ctx context.Context, agentID, opponentID string) bool {
	if p.history == nil {
		return false
	}
	opponents, err := p.history.LastOpponents(ctx, agentID, repeatOpponentWindow)
	if err != nil {
		return false
	}
	count := 0
	for _, o := range opponents {
		if o == opponentID {
			count++
		}
	}
	return count >= maxRepeatOpponentUses
}

func (p *Pairing) randomPair(n int) (int, int) {
	i := p.rand.Intn(n)
	j := p.rand.Intn(n - 1)
	if j >= i {
		j++
	}
	return i, j
}
