// Package tournament implements the round-robin helper SPEC_FULL.md §12
// adds from the original implementation's run_tournament/
// run_tournament_round: a sequence of quick match requests over a
// division's active agents, fed through the same ArenaScheduler
// admission path one round at a time.
package tournament

import (
	"context"
	"errors"
	"sync"
	"time"

	"arena/internal/arena/model"
	"arena/internal/arena/scheduler"
	"arena/internal/arena/store"
)

const pollInterval = 2 * time.Second

var ErrAlreadyRunning = errors.New("tournament already running")

// Status is what GET /tournament/status reports.
type Status struct {
	Running        bool           `json:"running"`
	Division       model.Division `json:"division,omitempty"`
	Round          int            `json:"round"`
	NumRounds      int            `json:"numRounds"`
	PendingCount   int            `json:"pendingCount"`
	LiveCount      int            `json:"liveCount"`
	CompletedCount int            `json:"completedCount"`
	CurrentKing    string         `json:"current_king,omitempty"`
}

// Runner schedules rounds of a round-robin tournament, one round at a
// time, waiting for every match a round started to reach a terminal
// status before starting the next.
type Runner struct {
	sched *scheduler.Scheduler
	repo  store.Repository

	mu     sync.Mutex
	status Status
}

func New(sched *scheduler.Scheduler, repo store.Repository) *Runner {
	return &Runner{sched: sched, repo: repo}
}

// Start launches a numRounds round-robin tournament over division's
// active agents in a background goroutine, returning immediately
// (spec.md §6.1: 202 Accepted). It refuses to start a second tournament
// while one is already running.
func (r *Runner) Start(ctx context.Context, division model.Division, numRounds int) error {
	r.mu.Lock()
	if r.status.Running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.status = Status{Running: true, Division: division, NumRounds: numRounds}
	r.mu.Unlock()

	go r.run(ctx, division, numRounds)
	return nil
}

func (r *Runner) run(ctx context.Context, division model.Division, numRounds int) {
	defer func() {
		r.mu.Lock()
		r.status.Running = false
		r.mu.Unlock()
	}()

	for round := 1; round <= numRounds; round++ {
		r.mu.Lock()
		r.status.Round = round
		r.mu.Unlock()

		active := true
		agents, err := r.repo.ListAgents(ctx, store.AgentFilter{Division: division, Active: &active})
		if err != nil || len(agents) < 2 {
			return
		}

		pairs := roundRobinPairs(agents, round)
		matchIDs := make([]string, 0, len(pairs))
		for _, p := range pairs {
			m, err := r.sched.Start(ctx, scheduler.Request{
				Division: division,
				Type:     model.MatchRegularDuel,
				Agent1ID: p[0].ID,
				Agent2ID: p[1].ID,
			})
			if err != nil {
				continue
			}
			matchIDs = append(matchIDs, m.ID)
		}

		r.waitForTerminal(ctx, matchIDs)
	}
}

// waitForTerminal blocks (polling the Repository, since tournament
// pacing is not latency-sensitive) until every match in ids has reached
// a terminal status, updating the live/pending/completed counts as it
// goes.
func (r *Runner) waitForTerminal(ctx context.Context, ids []string) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		pending, live, completed := 0, 0, 0
		allDone := true
		for _, id := range ids {
			m, err := r.repo.GetMatch(ctx, id)
			if err != nil {
				continue
			}
			switch {
			case m.IsTerminal():
				completed++
			case m.Status == model.MatchPending:
				pending++
				allDone = false
			default:
				live++
				allDone = false
			}
		}
		r.mu.Lock()
		r.status.PendingCount, r.status.LiveCount, r.status.CompletedCount = pending, live, completed
		r.mu.Unlock()
		if allDone {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// roundRobinPairs produces one round of a circle-method round-robin
// schedule: agents are arranged in a circle and one side rotates each
// round, giving every paired agent a distinct opponent per round until
// the schedule repeats.
func roundRobinPairs(agents []model.Agent, round int) [][2]model.Agent {
	n := len(agents)
	if n < 2 {
		return nil
	}
	rot := make([]model.Agent, n)
	copy(rot, agents)
	if n%2 == 1 {
		// circle method needs an even count; with an odd count the last
		// agent in the list is dropped, so that same agent sits out
		// every round.
		rot = rot[:n-1]
		n--
	}
	shift := (round - 1) % (n - 1)
	fixed := rot[0]
	rest := append([]model.Agent{}, rot[1:]...)
	rotated := make([]model.Agent, len(rest))
	for i, a := range rest {
		rotated[(i+shift)%len(rest)] = a
	}
	circle := append([]model.Agent{fixed}, rotated...)

	pairs := make([][2]model.Agent, 0, n/2)
	for i := 0; i < n/2; i++ {
		pairs = append(pairs, [2]model.Agent{circle[i], circle[n-1-i]})
	}
	return pairs
}

// CurrentStatus returns a snapshot of the tournament's progress,
// annotated with the division's current King if one exists.
func (r *Runner) CurrentStatus(ctx context.Context) Status {
	r.mu.Lock()
	s := r.status
	r.mu.Unlock()

	kings, err := r.repo.ListAgents(ctx, store.AgentFilter{Division: model.DivisionKing})
	if err == nil && len(kings) == 1 {
		s.CurrentKing = kings[0].ID
	}
	return s
}
