// Package ranking implements RankingEngine (spec.md §4.7): the ELO
// update, division-scoped stats accumulation, promotion/demotion rules,
// and King succession. It is the only component that updates existing
// Agent records; Apply and AutoSucceed take the per-agent locks
// themselves (Engine.lockFor) for the duration of a finalization,
// matching spec.md §5's "exactly one writer per Agent record at any
// moment" rule.
package ranking

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"arena/internal/arena/challenge"
	"arena/internal/arena/judge"
	"arena/internal/arena/model"
	"arena/internal/arena/store"
)

const (
	promoteNoviceMinMatches = 5
	promoteNoviceWinRate    = 0.60
	promoteNoviceStreak     = 3

	promoteExpertMinMatches = 10
	promoteExpertWinRate    = 0.65
	promoteExpertElo        = 1250

	demoteMasterMinMatches = 10
	demoteMasterWinRate    = 0.35

	demoteExpertMinMatches = 10
	demoteExpertWinRate    = 0.30
	demoteExpertStreak     = -5

	kingChallengerWinRate = 0.75
	kingChallengerStreak  = 5

	kingAutoSuccessionLosses = 5
	kingAutoSuccessionStreak = -3
)

// Outcome is everything RankingEngine needs to apply one match's result:
// the completed match (whose Type marks a King challenge), the panel's
// verdict, and the judges who took part.
type Outcome struct {
	Match       model.Match
	Verdict     judge.Verdict
	JudgeAgents []model.Agent // judges who participated, for reliability update
}

type Engine struct {
	repo store.Repository
	pool *challenge.Pool

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(repo store.Repository, pool *challenge.Pool) *Engine {
	return &Engine{repo: repo, pool: pool, locks: map[string]*sync.Mutex{}}
}

func (e *Engine) lockFor(agentID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[agentID] = l
	}
	return l
}

// Expected returns the standard ELO expected-score formula.
func Expected(ra, rb float64) float64 {
	return 1 / (1 + math.Pow(10, (rb-ra)/400))
}

func actualScore(result model.MatchResult) float64 {
	switch result {
	case model.ResultWin:
		return 1
	case model.ResultDraw:
		return 0.5
	default:
		return 0
	}
}

// Apply finalizes a Completed match: updates ELO, stats, judge
// reliability, challenge quality, and promotion/demotion/King state.
// It is idempotent per matchId (property P10): a second Apply for the
// same match is rejected without mutating anything.
func (e *Engine) Apply(ctx context.Context, o Outcome) error {
	if o.Match.Status != model.MatchCompleted {
		return fmt.Errorf("ranking: match %s is not Completed", o.Match.ID)
	}
	already, err := e.repo.RecordedOutcome(ctx, o.Match.ID)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	// Deterministic lock order (lexicographic by ID) prevents deadlock
	// between two matches finalizing concurrently that happen to share
	// an agent (e.g. a King and a challenger already in another match).
	ids := []string{o.Match.Agent1ID, o.Match.Agent2ID}
	if ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	l0, l1 := e.lockFor(ids[0]), e.lockFor(ids[1])
	l0.Lock()
	defer l0.Unlock()
	if ids[1] != ids[0] {
		l1.Lock()
		defer l1.Unlock()
	}

	a1, err := e.repo.GetAgent(ctx, o.Match.Agent1ID)
	if err != nil {
		return err
	}
	a2, err := e.repo.GetAgent(ctx, o.Match.Agent2ID)
	if err != nil {
		return err
	}

	e.applyElo(&a1, &a2, o.Match)
	e.applyStats(&a1, &a2, o.Match)

	if o.Match.Type == model.MatchKingChallenge {
		e.applyKingSuccession(&a1, &a2, o.Match)
	} else {
		e.applyPromotionDemotion(&a1, o.Match)
		e.applyPromotionDemotion(&a2, o.Match)
	}

	// Version is reset to 0 rather than carried forward from the GetAgent
	// snapshot: the per-agent lock above already gives this call exclusive
	// write access, so optimistic-concurrency checking would only ever see
	// its own unchanged read and reject the write as stale.
	a1.Version = 0
	if err := e.repo.PutAgent(ctx, a1); err != nil {
		return err
	}
	a2.Version = 0
	if err := e.repo.PutAgent(ctx, a2); err != nil {
		return err
	}

	for i, j := range o.JudgeAgents {
		agreed := judgeAgreed(o.Verdict, o.Match, o.Verdict.Evaluations[i])
		j.JudgeStats.Reliability = judge.UpdatedReliability(j.JudgeStats.Reliability, agreed)
		j.Version = 0
		if err := e.repo.PutAgent(ctx, j); err != nil {
			return err
		}
	}

	if e.pool != nil && o.Match.ChallengeID != "" {
		c, err := e.repo.GetChallenge(ctx, o.Match.ChallengeID)
		if err == nil {
			c = challenge.ApplyVerdictQuality(c, judge.Unanimous(o.Verdict.Evaluations))
			_ = e.repo.PutChallenge(ctx, c)
		}
	}

	return e.repo.MarkOutcomeRecorded(ctx, o.Match.ID)
}

func judgeAgreed(v judge.Verdict, m model.Match, e model.JudgeEvaluation) bool {
	panelWinner := v.WinnerID
	switch e.RecommendedWinner {
	case model.RecommendAgent1:
		return panelWinner == m.Agent1ID
	case model.RecommendAgent2:
		return panelWinner == m.Agent2ID
	default:
		return panelWinner == ""
	}
}

func (e *Engine) applyElo(a1, a2 *model.Agent, m model.Match) {
	k := model.KFactor(m.Division)
	e1 := Expected(a1.EloRating, a2.EloRating)
	e2 := 1 - e1
	s1 := actualScore(m.Result)
	s2 := 1 - s1

	delta1 := k * (s1 - e1)
	delta2 := k * (s2 - e2)

	now := time.Now()
	prevA1, prevA2 := a1.EloRating, a2.EloRating
	a1.EloRating = math.Max(0, a1.EloRating+delta1)
	a2.EloRating = math.Max(0, a2.EloRating+delta2)

	a1.EloHistory = append(a1.EloHistory, model.EloEvent{
		Timestamp: now, Rating: a1.EloRating, MatchID: m.ID, OpponentID: a2.ID,
		OpponentRatingAtMatch: prevA2, Result: m.Result, Delta: a1.EloRating - prevA1,
	})
	a2.EloHistory = append(a2.EloHistory, model.EloEvent{
		Timestamp: now, Rating: a2.EloRating, MatchID: m.ID, OpponentID: a1.ID,
		OpponentRatingAtMatch: prevA1, Result: invertResult(m.Result), Delta: a2.EloRating - prevA2,
	})
}

func invertResult(r model.MatchResult) model.MatchResult {
	switch r {
	case model.ResultWin:
		return model.ResultLoss
	case model.ResultLoss:
		return model.ResultWin
	default:
		return model.ResultDraw
	}
}

func (e *Engine) applyStats(a1, a2 *model.Agent, m model.Match) {
	a1.GlobalStats.ApplyResult(m.Result)
	a1.DivisionStats.ApplyResult(m.Result)
	a2.GlobalStats.ApplyResult(invertResult(m.Result))
	a2.DivisionStats.ApplyResult(invertResult(m.Result))
	a1.LastMatchAt = time.Now()
	a2.LastMatchAt = time.Now()
}

func (e *Engine) applyPromotionDemotion(a *model.Agent, m model.Match) {
	won := (a.ID == m.Agent1ID && m.Result == model.ResultWin) || (a.ID == m.Agent2ID && m.Result == invertResult(model.ResultWin))
	lost := (a.ID == m.Agent1ID && m.Result == model.ResultLoss) || (a.ID == m.Agent2ID && m.Result == invertResult(model.ResultLoss))

	switch a.Division {
	case model.DivisionNovice:
		if won && a.DivisionStats.Matches >= promoteNoviceMinMatches &&
			(a.DivisionStats.WinRate() >= promoteNoviceWinRate || a.DivisionStats.CurrentStreak >= promoteNoviceStreak) {
			e.changeDivision(a, model.DivisionExpert, "promotion: novice thresholds met", model.DivisionChangePromotion)
			return
		}
		if lost && a.DivisionStats.Matches >= demoteExpertMinMatches &&
			(a.DivisionStats.WinRate() < demoteExpertWinRate || a.DivisionStats.CurrentStreak <= demoteExpertStreak) {
			// Novice has no lower division; nothing to demote to.
			return
		}
	case model.DivisionExpert:
		if won && a.DivisionStats.Matches >= promoteExpertMinMatches &&
			a.DivisionStats.WinRate() >= promoteExpertWinRate && a.EloRating >= promoteExpertElo {
			e.changeDivision(a, model.DivisionMaster, "promotion: expert thresholds met", model.DivisionChangePromotion)
			return
		}
		if lost && a.DivisionStats.Matches >= demoteExpertMinMatches &&
			(a.DivisionStats.WinRate() < demoteExpertWinRate || a.DivisionStats.CurrentStreak <= demoteExpertStreak) {
			e.changeDivision(a, model.DivisionNovice, "demotion: expert thresholds breached", model.DivisionChangeDemotion)
			return
		}
	case model.DivisionMaster:
		if lost && a.DivisionStats.Matches >= demoteMasterMinMatches && a.DivisionStats.WinRate() < demoteMasterWinRate {
			e.changeDivision(a, model.DivisionExpert, "demotion: master win rate below floor", model.DivisionChangeDemotion)
			return
		}
	}
}

func (e *Engine) changeDivision(a *model.Agent, to model.Division, reason string, kind model.DivisionChangeKind) {
	from := a.Division
	a.Division = to
	a.DivisionStats = model.Stats{}
	a.DivisionChangeHistory = append(a.DivisionChangeHistory, model.DivisionChange{
		From: from, To: to, Timestamp: time.Now(), Reason: reason, Kind: kind,
	})
}

// EligibleChallenger reports whether a Master satisfies spec.md §4.7's
// King-challenger eligibility rule.
func EligibleChallenger(a model.Agent) bool {
	return a.Division == model.DivisionMaster &&
		(a.DivisionStats.WinRate() >= kingChallengerWinRate || a.DivisionStats.CurrentStreak >= kingChallengerStreak)
}

// applyKingSuccession implements spec.md §4.7's King-challenge rules.
// Agent1 is always the current King, Agent2 the challenger, per the
// Match invariant in spec.md §3.
func (e *Engine) applyKingSuccession(king, challenger *model.Agent, m model.Match) {
	challengerWon := m.Result == model.ResultLoss // agent1(King) lost means agent2 won
	if m.Result == model.ResultDraw {
		return
	}
	if challengerWon {
		e.changeDivision(king, model.DivisionMaster, "dethroned", model.DivisionChangeDemotion)
		e.changeDivision(challenger, model.DivisionKing, "crowning", model.DivisionChangePromotion)
		return
	}
	// King defended the throne. RankingEngine has no visibility into the
	// whole Master roster here, so automatic-succession triggers are
	// checked by the caller via KingNeedsSuccession + AutoSucceed.
}

// KingNeedsSuccession reports whether the current King has accumulated
// enough King-challenge losses, or a bad enough streak, to trigger
// automatic succession (spec.md §4.7).
func KingNeedsSuccession(king model.Agent) bool {
	return countKingChallengeLosses(king) >= kingAutoSuccessionLosses || king.DivisionStats.CurrentStreak <= kingAutoSuccessionStreak
}

// countKingChallengeLosses counts the losses in king's ELO history since
// its most recent crowning (all of them if it has no crowning record); a
// King plays no intra-division duels once crowned, so every loss it
// accrues after that point is a King-challenge loss.
func countKingChallengeLosses(king model.Agent) int {
	var crownedAt time.Time
	for _, dc := range king.DivisionChangeHistory {
		if dc.To == model.DivisionKing {
			crownedAt = dc.Timestamp
		}
	}
	losses := 0
	for _, ev := range king.EloHistory {
		if ev.Result == model.ResultLoss && !ev.Timestamp.Before(crownedAt) {
			losses++
		}
	}
	return losses
}

// AutoSucceed replaces king with the highest-ELO Master, per spec.md
// §4.7's automatic-succession rule. Callers invoke this after Apply
// returns for a King-challenge the King won, when KingNeedsSuccession
// reports true.
func (e *Engine) AutoSucceed(ctx context.Context, kingID string) error {
	king, err := e.repo.GetAgent(ctx, kingID)
	if err != nil {
		return err
	}
	masters, err := e.repo.ListAgents(ctx, store.AgentFilter{Division: model.DivisionMaster})
	if err != nil {
		return err
	}
	if len(masters) == 0 {
		return nil
	}
	best := masters[0]
	for _, m := range masters[1:] {
		if m.EloRating > best.EloRating {
			best = m
		}
	}

	ids := []string{king.ID, best.ID}
	if ids[0] > ids[1] {
		ids[0], ids[1] = ids[1], ids[0]
	}
	l0, l1 := e.lockFor(ids[0]), e.lockFor(ids[1])
	l0.Lock()
	defer l0.Unlock()
	l1.Lock()
	defer l1.Unlock()

	e.changeDivision(&king, model.DivisionMaster, "automatic succession: King losses/streak breach", model.DivisionChangeDemotion)
	e.changeDivision(&best, model.DivisionKing, "automatic succession", model.DivisionChangePromotion)
	king.Version = 0
	if err := e.repo.PutAgent(ctx, king); err != nil {
		return err
	}
	best.Version = 0
	return e.repo.PutAgent(ctx, best)
}
