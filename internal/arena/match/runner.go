// Package match implements MatchRunner (spec.md §4.6): the per-match
// state machine that drives a duel, debate, or king-challenge to
// completion, publishing every transition to the EventBus and finalizing
// through RankingEngine. Grounded on the reference server's
// internal/agentgateway.Coordinator/tableRuntime: a mutex-free, single-
// goroutine-per-unit state machine that emits an event after every
// mutation and never holds a lock across a gateway call.
package match

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"arena/internal/arena/eventbus"
	"arena/internal/arena/gateway"
	"arena/internal/arena/judge"
	"arena/internal/arena/model"
	"arena/internal/arena/ranking"
	"arena/internal/arena/store"
)

const defaultMaxTurnsPerSide = 6

// Runner owns everything needed to drive one match from Pending to a
// terminal status. A fresh Runner is constructed per match by
// ArenaScheduler; it is not reused.
type Runner struct {
	repo    store.Repository
	gw      gateway.Gateway
	bus     *eventbus.Bus
	panel   *judge.Panel
	ranking *ranking.Engine

	MatchTimeout    time.Duration
	MaxTurnsPerSide int
}

func New(repo store.Repository, gw gateway.Gateway, bus *eventbus.Bus, panel *judge.Panel, rk *ranking.Engine) *Runner {
	return &Runner{
		repo:            repo,
		gw:              gw,
		bus:             bus,
		panel:           panel,
		ranking:         rk,
		MatchTimeout:    10 * time.Minute,
		MaxTurnsPerSide: defaultMaxTurnsPerSide,
	}
}

// Run drives m from Pending to a terminal status, persisting and
// publishing every transition along the way. It recovers from panics and
// converts them into a Failed match with the match id logged, per
// spec.md §7's "never silently drop a match" principle.
func (r *Runner) Run(ctx context.Context, m model.Match) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("matchId", m.ID).Interface("panic", rec).Msg("match runner panicked")
			latest, err := r.repo.GetMatch(ctx, m.ID)
			if err != nil {
				latest = m
			}
			r.fail(ctx, latest, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.MatchTimeout)
	defer cancel()

	m.Status = model.MatchInProgress
	now := time.Now()
	m.StartedAt = &now
	if err := r.save(ctx, &m); err != nil {
		log.Error().Err(err).Str("matchId", m.ID).Msg("failed to persist match start")
		return
	}
	r.publishStatus(m)

	c, err := r.repo.GetChallenge(ctx, m.ChallengeID)
	if err != nil {
		r.fail(ctx, m, "challenge lookup failed: "+err.Error())
		return
	}

	select {
	case <-ctx.Done():
		r.cancel(ctx, m, ctx.Err())
		return
	default:
	}

	switch m.Type {
	case model.MatchDebate:
		if !r.runDebate(ctx, &m, c) {
			return
		}
	default: // RegularDuel, KingChallenge
		if !r.runDuel(ctx, &m, c) {
			return
		}
	}

	m.Status = model.MatchJudging
	if err := r.save(ctx, &m); err != nil {
		log.Error().Err(err).Str("matchId", m.ID).Msg("failed to persist Judging transition")
		return
	}
	r.publishStatus(m)

	verdict, err := r.panel.Judge(ctx, m)
	if err != nil {
		r.fail(ctx, m, "judging failed: "+err.Error())
		return
	}
	for _, e := range verdict.Evaluations {
		m.Evaluations = append(m.Evaluations, e)
		_ = r.repo.AppendEvaluation(ctx, m.ID, e)
		r.bus.Publish(eventbus.MatchTopic(m.ID), "evaluation", map[string]any{"evaluation": e})
	}

	m.Status = model.MatchFinalizing
	if verdict.Draw {
		m.Result = model.ResultDraw
		m.WinnerID = nil
	} else {
		winner := verdict.WinnerID
		m.WinnerID = &winner
		if winner == m.Agent1ID {
			m.Result = model.ResultWin
		} else {
			m.Result = model.ResultLoss
		}
	}
	m.FinalScores = verdict.Scores
	if err := r.save(ctx, &m); err != nil {
		log.Error().Err(err).Str("matchId", m.ID).Msg("failed to persist Finalizing transition")
		return
	}
	r.publishStatus(m)

	judges := make([]model.Agent, 0, len(verdict.Evaluations))
	for _, e := range verdict.Evaluations {
		if a, err := r.repo.GetAgent(ctx, e.JudgeID); err == nil {
			judges = append(judges, a)
		}
	}

	now = time.Now()
	m.CompletedAt = &now
	m.Status = model.MatchCompleted
	if err := r.save(ctx, &m); err != nil {
		log.Error().Err(err).Str("matchId", m.ID).Msg("failed to persist Completed transition")
		return
	}

	if r.ranking != nil {
		if err := r.ranking.Apply(ctx, ranking.Outcome{Match: m, Verdict: verdict, JudgeAgents: judges}); err != nil {
			log.Error().Err(err).Str("matchId", m.ID).Msg("ranking engine failed to apply outcome")
		} else if m.Type == model.MatchKingChallenge && m.WinnerID != nil && *m.WinnerID == m.Agent1ID {
			if king, err := r.repo.GetAgent(ctx, m.Agent1ID); err == nil && ranking.KingNeedsSuccession(king) {
				if err := r.ranking.AutoSucceed(ctx, king.ID); err != nil {
					log.Error().Err(err).Str("agentId", king.ID).Msg("automatic king succession failed")
				}
			}
		}
	}

	r.publishFinal(m)
	r.bus.Publish(eventbus.ArenaMatchesTopic, "matchCompleted", summarize(m))
}

// runDuel drives the RegularDuel/KingChallenge transition: both agents
// stream a response to the challenge prompt in parallel. It returns false
// if the match reached a terminal state internally (Cancelled/Failed),
// in which case Run must not continue.
func (r *Runner) runDuel(ctx context.Context, m *model.Match, c model.Challenge) bool {
	prompt := duelPrompt(c)
	type outcome struct {
		resp model.AgentResponse
		err  error
	}
	results := make(chan struct {
		agentID string
		outcome
	}, 2)

	stream := func(agentID string) {
		resp, err := r.streamToCompletion(ctx, m.ID, agentID, prompt)
		results <- struct {
			agentID string
			outcome
		}{agentID, outcome{resp, err}}
	}
	go stream(m.Agent1ID)
	go stream(m.Agent2ID)

	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			if ctx.Err() != nil {
				r.cancel(ctx, *m, ctx.Err())
				return false
			}
			r.fail(ctx, *m, fmt.Sprintf("agent %s failed: %v", res.agentID, res.err))
			return false
		}
		if res.agentID == m.Agent1ID {
			m.Agent1Response = &res.resp
		} else {
			m.Agent2Response = &res.resp
		}
		_ = r.save(ctx, m)
		r.bus.Publish(eventbus.MatchTopic(m.ID), "responseComplete", map[string]any{"agentId": res.agentID, "response": res.resp})
	}
	return true
}

// runDebate drives the Debate transition: agents alternate turns, each
// fed the transcript so far, up to MaxTurnsPerSide per side or until a
// model emits the terminal <END> sentinel (spec.md §4.6).
func (r *Runner) runDebate(ctx context.Context, m *model.Match, c model.Challenge) bool {
	speakers := []string{m.Agent1ID, m.Agent2ID}
	stances := []string{"affirmative", "opposing"}
	maxTurns := r.MaxTurnsPerSide * 2

	for turn := 0; turn < maxTurns; turn++ {
		agentID := speakers[turn%2]
		stance := stances[turn%2]
		prompt := debateTurnPrompt(c, stance, m.Transcript)

		resp, err := r.streamToCompletion(ctx, m.ID, agentID, prompt)
		if err != nil {
			if ctx.Err() != nil {
				r.cancel(ctx, *m, ctx.Err())
				return false
			}
			r.fail(ctx, *m, fmt.Sprintf("agent %s failed on turn %d: %v", agentID, turn, err))
			return false
		}
		m.Transcript = append(m.Transcript, resp)
		_ = r.save(ctx, m)
		r.bus.Publish(eventbus.MatchTopic(m.ID), "debateTurn", map[string]any{"turnIndex": turn, "response": resp})

		if isEndSentinel(resp.Text) {
			break
		}
	}
	return true
}

func isEndSentinel(text string) bool {
	return strings.Contains(text, "<END>")
}

// streamToCompletion drains a Gateway.Stream call, publishing a
// responseDelta event per token and accumulating the full text, per
// spec.md §4.6's RegularDuel transition rule.
func (r *Runner) streamToCompletion(ctx context.Context, matchID, agentID, prompt string) (model.AgentResponse, error) {
	start := time.Now()
	deltas, err := r.gw.Stream(ctx, agentID, prompt, gateway.Opts{Deadline: r.MatchTimeout})
	if err != nil {
		return model.AgentResponse{}, err
	}

	var text string
	for d := range deltas {
		if d.Err != nil {
			return model.AgentResponse{}, d.Err
		}
		if d.Text != "" {
			text += d.Text
			r.bus.Publish(eventbus.MatchTopic(matchID), "responseDelta", map[string]any{
				"agentId": agentID, "textDelta": d.Text, "isStreaming": true,
			})
		}
		if d.Final {
			break
		}
	}

	return model.AgentResponse{
		AgentID:      agentID,
		Text:         text,
		ResponseTime: time.Since(start).Seconds(),
		Timestamp:    start,
	}, nil
}

func (r *Runner) save(ctx context.Context, m *model.Match) error {
	if err := r.repo.PutMatch(ctx, *m); err != nil {
		if errors.Is(err, store.ErrStale) {
			latest, gerr := r.repo.GetMatch(ctx, m.ID)
			if gerr == nil {
				m.Version = latest.Version
				return r.repo.PutMatch(ctx, *m)
			}
		}
		return err
	}
	return nil
}

func (r *Runner) publishStatus(m model.Match) {
	r.bus.Publish(eventbus.MatchTopic(m.ID), "status", map[string]any{"status": m.Status})
}

func (r *Runner) publishFinal(m model.Match) {
	r.bus.Publish(eventbus.MatchTopic(m.ID), "final", map[string]any{
		"winnerId": m.WinnerID, "finalScores": m.FinalScores, "result": m.Result,
	})
}

func (r *Runner) fail(ctx context.Context, m model.Match, reason string) {
	m.Status = model.MatchFailed
	m.FailureReason = reason
	m.WinnerID = nil
	now := time.Now()
	m.CompletedAt = &now
	if err := r.save(ctx, &m); err != nil {
		log.Error().Err(err).Str("matchId", m.ID).Msg("failed to persist Failed transition")
	}
	r.publishStatus(m)
	r.publishFinal(m)
	r.bus.Publish(eventbus.ArenaMatchesTopic, "matchCompleted", summarize(m))
}

func (r *Runner) cancel(ctx context.Context, m model.Match, reason error) {
	m.Status = model.MatchCancelled
	if reason != nil {
		m.FailureReason = reason.Error()
	}
	m.WinnerID = nil
	now := time.Now()
	m.CompletedAt = &now
	// Cancellation can outlive the match's own (already-expired) ctx; use
	// a short-lived background context for this final persist/publish.
	bg, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.save(bg, &m); err != nil {
		log.Error().Err(err).Str("matchId", m.ID).Msg("failed to persist Cancelled transition")
	}
	r.publishStatus(m)
	r.publishFinal(m)
	r.bus.Publish(eventbus.ArenaMatchesTopic, "matchCompleted", summarize(m))
}

type matchSummary struct {
	ID       string            `json:"id"`
	Division model.Division    `json:"division"`
	Type     model.MatchType   `json:"type"`
	Status   model.MatchStatus `json:"status"`
	WinnerID *string           `json:"winnerId"`
	Result   model.MatchResult `json:"result,omitempty"`
}

func summarize(m model.Match) matchSummary {
	return matchSummary{ID: m.ID, Division: m.Division, Type: m.Type, Status: m.Status, WinnerID: m.WinnerID, Result: m.Result}
}
