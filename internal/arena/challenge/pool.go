// Package challenge implements ChallengePool (spec.md §4.3): serving a
// challenge appropriate to a division/type, accepting validated
// community contributions, and the startup bulk-seed operation
// SPEC_FULL.md §12 adds from the original implementation's
// create_dynamic_challenge_pool.
package challenge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"arena/internal/arena/model"
	"arena/internal/arena/store"

	"github.com/oklog/ulid/v2"
)

const (
	qualityFloor         = 0.2
	recentUseWindow      = 10
	defaultEMAWeight     = 0.02
)

var ErrNoChallenge = errors.New("no eligible challenge")

// Pool serves and curates Challenges. It tracks, per agent, the IDs of
// the last recentUseWindow challenges they were served so Pick can
// exclude repeats (spec.md §4.3 rule 2).
type Pool struct {
	repo store.Repository

	mu         sync.Mutex
	recentByAgent map[string][]string
}

func New(repo store.Repository) *Pool {
	return &Pool{repo: repo, recentByAgent: map[string][]string{}}
}

// Pick returns a challenge eligible for division (and, if typ is
// non-empty, matching typ), sampled with probability proportional to
// qualityScore * (1 + 1/(1+uses)) among candidates not recently served
// to either agent and not below the retirement floor (spec.md §4.3).
// Challenges still on probation are never returned here; they only reach
// a competitor through PickTestMatch.
func (p *Pool) Pick(ctx context.Context, division model.Division, typ model.ChallengeType, agent1ID, agent2ID string) (model.Challenge, error) {
	band := model.DifficultyBand(division)
	all, err := p.repo.ListChallenges(ctx, store.ChallengeFilter{ExcludeRetired: true})
	if err != nil {
		return model.Challenge{}, err
	}

	excluded := p.recentSet(agent1ID, agent2ID)

	var candidates []model.Challenge
	for _, c := range all {
		if c.Probation {
			continue
		}
		if c.QualityScore < qualityFloor {
			continue
		}
		if c.Difficulty != band[0] && c.Difficulty != band[1] {
			continue
		}
		if typ != "" && c.Type != typ {
			continue
		}
		if excluded[c.ID] {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return model.Challenge{}, ErrNoChallenge
	}

	weights := make([]float64, len(candidates))
	var total float64
	for i, c := range candidates {
		w := c.QualityScore * (1 + 1/(1+float64(c.Uses)))
		if w <= 0 {
			w = 0.0001
		}
		weights[i] = w
		total += w
	}
	r := rand.Float64() * total
	var acc float64
	chosen := candidates[len(candidates)-1]
	for i, w := range weights {
		acc += w
		if r <= acc {
			chosen = candidates[i]
			break
		}
	}

	p.markRecent(agent1ID, chosen.ID)
	p.markRecent(agent2ID, chosen.ID)
	return chosen, nil
}

// PickTestMatch returns a challenge still on probation, matching
// division's difficulty band and typ if given, chosen uniformly since a
// probation challenge has no usage history yet to weight by (spec.md
// §4.3: "a community challenge is only served after passing a test
// match"). The Scheduler routes a small fraction of matches through
// this instead of Pick so every contributed challenge eventually gets
// its one qualifying match.
func (p *Pool) PickTestMatch(ctx context.Context, division model.Division, typ model.ChallengeType) (model.Challenge, error) {
	band := model.DifficultyBand(division)
	all, err := p.repo.ListChallenges(ctx, store.ChallengeFilter{ExcludeRetired: true})
	if err != nil {
		return model.Challenge{}, err
	}

	var candidates []model.Challenge
	for _, c := range all {
		if !c.Probation {
			continue
		}
		if c.Difficulty != band[0] && c.Difficulty != band[1] {
			continue
		}
		if typ != "" && c.Type != typ {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return model.Challenge{}, ErrNoChallenge
	}
	return candidates[rand.Intn(len(candidates))], nil
}

func (p *Pool) recentSet(agentIDs ...string) map[string]bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := map[string]bool{}
	for _, id := range agentIDs {
		for _, cid := range p.recentByAgent[id] {
			out[cid] = true
		}
	}
	return out
}

func (p *Pool) markRecent(agentID, challengeID string) {
	if agentID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	list := append(p.recentByAgent[agentID], challengeID)
	if len(list) > recentUseWindow {
		list = list[len(list)-recentUseWindow:]
	}
	p.recentByAgent[agentID] = list
}

// Draft is the shape a caller POSTs to Contribute.
type Draft struct {
	Title       string
	Description string
	Type        model.ChallengeType
	Difficulty  model.Difficulty
	Answer      string
	Tags        []string
}

// Contribute validates and stores a community challenge draft. The
// stored challenge starts with Probation=true and QualityScore=0.5 until
// it clears its first completed match with a non-null result (spec.md
// §4.3).
func (p *Pool) Contribute(ctx context.Context, draft Draft) (model.Challenge, bool, string) {
	if strings.TrimSpace(draft.Title) == "" || strings.TrimSpace(draft.Description) == "" {
		return model.Challenge{}, false, "title and description are required"
	}
	if draft.Type == "" {
		return model.Challenge{}, false, "type is required"
	}
	if draft.Difficulty == "" {
		return model.Challenge{}, false, "difficulty is required"
	}

	hash := normalizedTitleHash(draft.Title)
	all, err := p.repo.ListChallenges(ctx, store.ChallengeFilter{})
	if err != nil {
		return model.Challenge{}, false, "lookup failed"
	}
	for _, c := range all {
		if c.TitleHash == hash {
			return model.Challenge{}, false, "duplicate challenge"
		}
	}

	c := model.Challenge{
		ID:           ulid.Make().String(),
		Title:        draft.Title,
		Description:  draft.Description,
		Type:         draft.Type,
		Difficulty:   draft.Difficulty,
		Answer:       draft.Answer,
		Tags:         draft.Tags,
		Source:       model.ChallengeSourceCommunity,
		QualityScore: 0.5,
		Probation:    true,
		TitleHash:    hash,
	}
	if err := p.repo.PutChallenge(ctx, c); err != nil {
		return model.Challenge{}, false, "store failed"
	}
	return c, true, ""
}

// Seed bulk-loads a static corpus at startup (SPEC_FULL.md §12's
// "dynamic challenge pool seeding"). Challenges that already exist by
// normalized title hash are skipped.
func (p *Pool) Seed(ctx context.Context, drafts []Draft) (int, error) {
	existing, err := p.repo.ListChallenges(ctx, store.ChallengeFilter{})
	if err != nil {
		return 0, err
	}
	seen := map[string]bool{}
	for _, c := range existing {
		seen[c.TitleHash] = true
	}
	seeded := 0
	for _, d := range drafts {
		hash := normalizedTitleHash(d.Title)
		if seen[hash] {
			continue
		}
		c := model.Challenge{
			ID:           ulid.Make().String(),
			Title:        d.Title,
			Description:  d.Description,
			Type:         d.Type,
			Difficulty:   d.Difficulty,
			Answer:       d.Answer,
			Tags:         d.Tags,
			Source:       model.ChallengeSourceSeed,
			QualityScore: 0.7,
			TitleHash:    hash,
		}
		if err := p.repo.PutChallenge(ctx, c); err != nil {
			return seeded, fmt.Errorf("seed %q: %w", d.Title, err)
		}
		seen[hash] = true
		seeded++
	}
	return seeded, nil
}

// ApplyVerdictQuality adjusts a challenge's qualityScore after a match,
// per spec.md §4.7: unanimous panels nudge quality up, split panels
// nudge it down, both via an EMA step of 0.02. Retirement happens when
// the resulting score falls below the floor. Called only once a match
// has a decided, non-null result, this is also where a challenge on
// probation clears it — its first completed use is the test match
// spec.md §4.3 requires before Pick will ever serve it.
func ApplyVerdictQuality(c model.Challenge, unanimous bool) model.Challenge {
	c.Uses++
	c.Probation = false
	if unanimous {
		c.QualityScore += (1 - c.QualityScore) * defaultEMAWeight
	} else {
		c.QualityScore -= c.QualityScore * defaultEMAWeight
	}
	if c.QualityScore < qualityFloor {
		c.Retired = true
	}
	return c
}

func normalizedTitleHash(title string) string {
	norm := strings.ToLower(strings.Join(strings.Fields(title), " "))
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}
