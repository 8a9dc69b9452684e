// Package judge implements JudgePanel (spec.md §4.5): selecting a panel
// of judge agents, invoking them in parallel over the ModelGateway with a
// structured-output schema, and aggregating their verdicts.
package judge

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"arena/internal/arena/gateway"
	"arena/internal/arena/model"
	"arena/internal/arena/store"
)

var ErrInsufficientJudges = errors.New("insufficient judges")

const (
	defaultMinJudges       = 3
	defaultMaxJudges       = 5
	defaultReliabilityFloor = 0.4
	defaultDrawEpsilon      = 0.25
	reliabilityAlpha        = 0.05
	perJudgeTimeout         = 90 * time.Second
)

// PromptBuilder renders the structured-judging prompt and JSON schema for
// a given match; kept as an interface so MatchRunner's transcript
// assembly stays in the match package while JudgePanel owns invocation
// and aggregation.
type PromptBuilder interface {
	JudgePrompt(m model.Match) (prompt string, schema map[string]any)
}

// ResponseParser turns a judge's raw structured JSON text into a
// JudgeEvaluation, given the match it judged (needed to map the wire
// agentId|null shape back to the internal RecommendedWinner variant).
// Kept pluggable so tests can inject a scripted parser without a real
// schema round-trip.
type ResponseParser func(m model.Match, judgeID, raw string) (model.JudgeEvaluation, error)

type Panel struct {
	repo    store.Repository
	gw      gateway.Gateway
	prompts PromptBuilder
	parse   ResponseParser

	MinJudges         int
	MaxJudges          int
	ReliabilityFloor  float64
	DrawEpsilon       float64
}

func New(repo store.Repository, gw gateway.Gateway, prompts PromptBuilder, parse ResponseParser) *Panel {
	return &Panel{
		repo:             repo,
		gw:               gw,
		prompts:          prompts,
		parse:            parse,
		MinJudges:        defaultMinJudges,
		MaxJudges:        defaultMaxJudges,
		ReliabilityFloor: defaultReliabilityFloor,
		DrawEpsilon:      defaultDrawEpsilon,
	}
}

// Verdict is JudgePanel's result: either a declared winner or a draw,
// the aggregated per-agent scores, and the raw evaluations for
// persistence.
type Verdict struct {
	WinnerID    string // empty means draw
	Draw        bool
	Scores      map[string]float64
	Evaluations []model.JudgeEvaluation
}

// SelectJudges picks minJudges<=k<=maxJudges eligible agents, weighted by
// eloRating*judgeReliability and sampled without replacement, per
// spec.md §4.5's Selection rule.
func (p *Panel) SelectJudges(ctx context.Context, m model.Match) ([]model.Agent, error) {
	all, err := p.repo.ListAgents(ctx, store.AgentFilter{})
	if err != nil {
		return nil, err
	}
	var pool []model.Agent
	for _, a := range all {
		if !a.Active || a.ID == m.Agent1ID || a.ID == m.Agent2ID {
			continue
		}
		if a.JudgeStats.Reliability < p.ReliabilityFloor {
			continue
		}
		pool = append(pool, a)
	}
	if len(pool) == 0 {
		return nil, ErrInsufficientJudges
	}

	preferred := make([]model.Agent, 0, len(pool))
	fallback := make([]model.Agent, 0, len(pool))
	for _, a := range pool {
		if divisionRank(a.Division) >= divisionRank(m.Division) {
			preferred = append(preferred, a)
		} else {
			fallback = append(fallback, a)
		}
	}
	ranked := preferred
	if len(ranked) == 0 {
		ranked = fallback
	}

	k := p.MaxJudges
	if k > len(ranked) {
		k = len(ranked)
	}
	if k < p.MinJudges {
		k = min(p.MinJudges, len(ranked))
	}
	return weightedSampleWithoutReplacement(ranked, k), nil
}

func divisionRank(d model.Division) int {
	switch d {
	case model.DivisionNovice:
		return 0
	case model.DivisionExpert:
		return 1
	case model.DivisionMaster:
		return 2
	case model.DivisionKing:
		return 3
	default:
		return -1
	}
}

func weightedSampleWithoutReplacement(agents []model.Agent, k int) []model.Agent {
	pool := append([]model.Agent(nil), agents...)
	out := make([]model.Agent, 0, k)
	for len(out) < k && len(pool) > 0 {
		var total float64
		weights := make([]float64, len(pool))
		for i, a := range pool {
			w := a.EloRating * a.JudgeStats.Reliability
			if w <= 0 {
				w = 0.0001
			}
			weights[i] = w
			total += w
		}
		r := rand.Float64() * total
		var acc float64
		idx := len(pool) - 1
		for i, w := range weights {
			acc += w
			if r <= acc {
				idx = i
				break
			}
		}
		out = append(out, pool[idx])
		pool = append(pool[:idx], pool[idx+1:]...)
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type judgeResult struct {
	agent model.Agent
	eval  model.JudgeEvaluation
	err   error
}

// Judge selects a panel, invokes each judge in parallel with a
// structured-output schema, tolerates up to ceil(k/2)-1 failures, and
// aggregates the surviving evaluations into a Verdict (spec.md §4.5).
func (p *Panel) Judge(ctx context.Context, m model.Match) (Verdict, error) {
	judges, err := p.SelectJudges(ctx, m)
	if err != nil {
		return Verdict{}, err
	}
	k := len(judges)
	if k < p.MinJudges {
		return Verdict{}, ErrInsufficientJudges
	}
	maxFailures := int(math.Ceil(float64(k)/2)) - 1
	if maxFailures < 0 {
		maxFailures = 0
	}

	prompt, schema := p.prompts.JudgePrompt(m)

	results := make([]judgeResult, k)
	var wg sync.WaitGroup
	for i, j := range judges {
		wg.Add(1)
		go func(i int, j model.Agent) {
			defer wg.Done()
			jctx, cancel := context.WithTimeout(ctx, perJudgeTimeout)
			defer cancel()
			text, _, err := gateway.InvokeWithRetry(jctx, p.gw, j.ID, prompt, gateway.Opts{Structured: true, Schema: schema, Deadline: perJudgeTimeout}, gateway.DefaultRetryPolicy())
			if err != nil {
				results[i] = judgeResult{agent: j, err: err}
				return
			}
			eval, err := p.parse(m, j.ID, text)
			if err != nil {
				results[i] = judgeResult{agent: j, err: err}
				return
			}
			eval.EvaluationQuality = clamp01(eval.EvaluationQuality)
			results[i] = judgeResult{agent: j, eval: eval}
		}(i, j)
	}
	wg.Wait()

	var evaluations []model.JudgeEvaluation
	var reliabilities []model.Agent
	failures := 0
	for _, r := range results {
		if r.err != nil {
			failures++
			continue
		}
		evaluations = append(evaluations, r.eval)
		reliabilities = append(reliabilities, r.agent)
	}
	if failures > maxFailures {
		return Verdict{}, ErrInsufficientJudges
	}

	return p.aggregate(m, evaluations, reliabilities), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// aggregate implements spec.md §4.5's Aggregation rule: normalize to
// [0,10], weight by reliability*evaluationQuality, sum, compare, and
// resolve draws/ties per the majority-recommendation rule.
func (p *Panel) aggregate(m model.Match, evals []model.JudgeEvaluation, judges []model.Agent) Verdict {
	var w1, w2 float64
	var rec1, rec2, recNone int
	for i, e := range evals {
		weight := judges[i].JudgeStats.Reliability * e.EvaluationQuality
		w1 += normalizeScore(e.Agent1TotalScore) * weight
		w2 += normalizeScore(e.Agent2TotalScore) * weight
		switch e.RecommendedWinner {
		case model.RecommendAgent1:
			rec1++
		case model.RecommendAgent2:
			rec2++
		default:
			recNone++
		}
	}

	diff := math.Abs(w1 - w2)
	// The majority recommendation is null unless one of agent1/agent2
	// strictly outpolls both the other agent AND the None votes — a tie
	// between rec1/rec2, or None taking a plurality, both count as null.
	recWinner1 := rec1 > rec2 && rec1 > recNone
	recWinner2 := rec2 > rec1 && rec2 > recNone
	majorityNull := !recWinner1 && !recWinner2
	draw := diff < p.DrawEpsilon && majorityNull

	winnerID := ""
	if !draw {
		switch {
		case diff < p.DrawEpsilon && !majorityNull:
			// Weighted scores tied within epsilon but recommendations are
			// not: resolve to the majority-recommended winner.
			if recWinner1 {
				winnerID = m.Agent1ID
			} else {
				winnerID = m.Agent2ID
			}
		case w1 > w2:
			winnerID = m.Agent1ID
		default:
			winnerID = m.Agent2ID
		}
	}

	return Verdict{
		WinnerID: winnerID,
		Draw:     draw,
		Scores: map[string]float64{
			m.Agent1ID: w1,
			m.Agent2ID: w2,
		},
		Evaluations: evals,
	}
}

func normalizeScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// UpdatedReliability applies spec.md §4.5's judge-reliability nudge: up
// toward 1 if the judge agreed with the panel-declared winner, down
// toward 0 otherwise.
func UpdatedReliability(current float64, agreedWithPanel bool) float64 {
	if agreedWithPanel {
		return current + (1-current)*reliabilityAlpha
	}
	return current - current*reliabilityAlpha
}

// Unanimous reports whether every evaluation recommended the same
// non-null winner (used by the ChallengePool quality-score update).
func Unanimous(evals []model.JudgeEvaluation) bool {
	if len(evals) == 0 {
		return false
	}
	first := evals[0].RecommendedWinner
	if first == model.RecommendNone {
		return false
	}
	for _, e := range evals[1:] {
		if e.RecommendedWinner != first {
			return false
		}
	}
	return true
}
