// Package scheduler implements ArenaScheduler (spec.md §4.8): the single
// admission-control point for starting matches. It enforces the
// live-match cap and a per-requester-IP rate limit, constructs a
// match.Runner per admitted match, and tracks the live-match table until
// each Runner publishes its terminal event.
//
// Grounded on the reference server's internal/agentgateway.Coordinator
// for the "one process-wide struct, mutex-guarded index, goroutine per
// unit of work" shape; the token-bucket rate limiter is hand-rolled on
// sync.Mutex+time.Time because nothing in the retrieved example pack
// implements a real one (SPEC_FULL.md §11).
package scheduler

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"arena/internal/arena/challenge"
	"arena/internal/arena/eventbus"
	"arena/internal/arena/match"
	"arena/internal/arena/model"
	"arena/internal/arena/pairing"
	"arena/internal/arena/ranking"
	"arena/internal/arena/store"
)

var (
	ErrTooMany     = errors.New("too many live matches")
	ErrNoOpponent  = pairing.ErrNoOpponent
	ErrNotEligible = errors.New("not eligible for king challenge")
)

// testMatchProbability is the fraction of builds routed to a probation
// challenge instead of the normal weighted Pick, so contributed
// challenges eventually earn the single completed match spec.md §4.3
// requires before they clear probation.
const testMatchProbability = 0.1

// TooManyError carries the live/max counts spec.md §6.1's 429 body needs.
type TooManyError struct {
	Live, Max int
}

func (e *TooManyError) Error() string { return "too many live matches" }
func (e *TooManyError) Unwrap() error { return ErrTooMany }

// Request is what a caller passes to Start; Agent1ID/Agent2ID are the
// optional manual override named in spec.md §6.1's /matches/quick body.
type Request struct {
	Division    model.Division
	Type        model.MatchType
	Agent1ID    string
	Agent2ID    string
	RequesterIP string
}

// Config carries spec.md §6.3's scheduler-relevant environment variables.
type Config struct {
	MaxLiveMatches  int
	StartsPerMinute int
	MatchTimeout    time.Duration
	MinJudges       int
	MaxJudges       int
}

func DefaultConfig() Config {
	return Config{MaxLiveMatches: 2, StartsPerMinute: 5, MatchTimeout: 10 * time.Minute, MinJudges: 3, MaxJudges: 5}
}

// Scheduler is the process-wide admission controller. One instance is
// constructed at startup and shared by every HTTP handler.
type Scheduler struct {
	cfg Config

	repo    store.Repository
	bus     *eventbus.Bus
	pairing *pairing.Pairing
	pool    *challenge.Pool
	ranking *ranking.Engine
	newRun  func() *match.Runner

	admission *semaphore.Weighted

	mu      sync.Mutex
	live    map[string]context.CancelFunc
	buckets map[string]*bucket
}

type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// RunnerFactory constructs a fresh match.Runner; injected so tests can
// substitute a scripted Runner without wiring a real Gateway.
type RunnerFactory func() *match.Runner

func New(cfg Config, repo store.Repository, bus *eventbus.Bus, p *pairing.Pairing, pool *challenge.Pool, rk *ranking.Engine, newRunner RunnerFactory) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		repo:      repo,
		bus:       bus,
		pairing:   p,
		pool:      pool,
		ranking:   rk,
		newRun:    newRunner,
		admission: semaphore.NewWeighted(int64(cfg.MaxLiveMatches)),
		live:      map[string]context.CancelFunc{},
		buckets:   map[string]*bucket{},
	}
}

// Start admits and launches a match per the Request, returning the
// created Match (status Pending, about to transition to InProgress) or
// one of ErrTooMany/ErrNoOpponent/ErrNotEligible.
func (s *Scheduler) Start(ctx context.Context, req Request) (model.Match, error) {
	if req.RequesterIP != "" && !s.allow(req.RequesterIP) {
		return model.Match{}, &TooManyError{Live: s.liveCount(), Max: s.cfg.MaxLiveMatches}
	}
	if !s.admission.TryAcquire(1) {
		return model.Match{}, &TooManyError{Live: s.liveCount(), Max: s.cfg.MaxLiveMatches}
	}

	m, err := s.build(ctx, req)
	if err != nil {
		s.admission.Release(1)
		return model.Match{}, err
	}
	if err := s.repo.PutMatch(ctx, m); err != nil {
		s.admission.Release(1)
		return model.Match{}, err
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.ArenaMatchesTopic, "matchCreated", m)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.live[m.ID] = cancel
	s.mu.Unlock()

	go func() {
		defer s.release(m.ID)
		r := s.newRun()
		r.Run(runCtx, m)
	}()

	return m, nil
}

func (s *Scheduler) build(ctx context.Context, req Request) (model.Match, error) {
	var a1, a2 model.Agent
	var err error
	if req.Agent1ID != "" && req.Agent2ID != "" {
		a1, a2, err = s.pairing.PickManual(ctx, req.Division, req.Agent1ID, req.Agent2ID)
	} else {
		a1, a2, err = s.pairing.Pick(ctx, req.Division)
	}
	if err != nil {
		return model.Match{}, err
	}

	typ := req.Type
	if typ == "" {
		typ = model.MatchRegularDuel
	}
	if typ == model.MatchKingChallenge {
		if a1.Division != model.DivisionKing {
			a1, a2 = a2, a1
		}
		if a1.Division != model.DivisionKing || !ranking.EligibleChallenger(a2) {
			return model.Match{}, ErrNotEligible
		}
	}

	cTyp := challengeTypeFor(typ)
	var c model.Challenge
	if rand.Float64() < testMatchProbability {
		c, err = s.pool.PickTestMatch(ctx, req.Division, cTyp)
		if err == challenge.ErrNoChallenge {
			c, err = s.pool.Pick(ctx, req.Division, cTyp, a1.ID, a2.ID)
		}
	} else {
		c, err = s.pool.Pick(ctx, req.Division, cTyp, a1.ID, a2.ID)
	}
	if err != nil {
		return model.Match{}, err
	}

	return model.Match{
		ID:          ulid.Make().String(),
		Agent1ID:    a1.ID,
		Agent2ID:    a2.ID,
		ChallengeID: c.ID,
		Division:    req.Division,
		Type:        typ,
		Status:      model.MatchPending,
		CreatedAt:   time.Now(),
	}, nil
}

func challengeTypeFor(t model.MatchType) model.ChallengeType {
	if t == model.MatchDebate {
		return model.ChallengeDebate
	}
	return "" // any challenge type eligible for a duel
}

func (s *Scheduler) release(matchID string) {
	s.mu.Lock()
	delete(s.live, matchID)
	s.mu.Unlock()
	s.admission.Release(1)
}

// Cancel aborts a live match's context; the Runner transitions it to
// Cancelled and persists the partial transcript.
func (s *Scheduler) Cancel(matchID string) error {
	s.mu.Lock()
	cancel, ok := s.live[matchID]
	s.mu.Unlock()
	if !ok {
		return errors.New("not found or already terminal")
	}
	cancel()
	return nil
}

// Snapshot returns the current state of every live match, per spec.md
// §4.8's Snapshot API.
func (s *Scheduler) Snapshot(ctx context.Context) []model.Match {
	s.mu.Lock()
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	out := make([]model.Match, 0, len(ids))
	for _, id := range ids {
		if m, err := s.repo.GetMatch(ctx, id); err == nil {
			out = append(out, m)
		}
	}
	return out
}

func (s *Scheduler) liveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// allow implements a simple token-bucket: StartsPerMinute tokens
// refilled continuously, capped at StartsPerMinute, one token consumed
// per admitted Start.
func (s *Scheduler) allow(ip string) bool {
	s.mu.Lock()
	b, ok := s.buckets[ip]
	if !ok {
		b = &bucket{tokens: float64(s.cfg.StartsPerMinute), last: time.Now()}
		s.buckets[ip] = b
	}
	s.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.last).Minutes()
	b.tokens += elapsed * float64(s.cfg.StartsPerMinute)
	if b.tokens > float64(s.cfg.StartsPerMinute) {
		b.tokens = float64(s.cfg.StartsPerMinute)
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Shutdown cancels every live match's context, per spec.md §4.8's
// shutdown rule.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.live))
	for _, c := range s.live {
		cancels = append(cancels, c)
	}
	s.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	log.Info().Int("cancelled", len(cancels)).Msg("scheduler shutdown: cancelled live matches")
}
