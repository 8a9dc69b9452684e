// Package store defines the Repository abstraction (spec.md §4.2) and two
// implementations: an in-memory fixture used by tests and a pgx-backed
// store for production, grounded on the reference server's internal/store
// package (pool-backed, raw SQL, sha256 id helpers).
package store

import (
	"context"
	"errors"

	"arena/internal/arena/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrStale    = errors.New("stale")
	ErrConflict = errors.New("conflict")
)

// AgentFilter narrows ListAgents; a zero-value filter matches everything.
type AgentFilter struct {
	Division model.Division
	Active   *bool
}

// ChallengeFilter narrows ListChallenges.
type ChallengeFilter struct {
	Type       model.ChallengeType
	Difficulty model.Difficulty
	ExcludeRetired bool
}

// MatchFilter narrows ListMatches.
type MatchFilter struct {
	Status model.MatchStatus
}

// Repository is the durable store every higher-level component depends
// on. Writes to Agent and Match take the record's Version field for
// optimistic concurrency; a version mismatch returns ErrStale and the
// caller must re-read and retry (spec.md §4.2, §7).
type Repository interface {
	PutAgent(ctx context.Context, a model.Agent) error
	GetAgent(ctx context.Context, id string) (model.Agent, error)
	ListAgents(ctx context.Context, filter AgentFilter) ([]model.Agent, error)

	PutChallenge(ctx context.Context, c model.Challenge) error
	GetChallenge(ctx context.Context, id string) (model.Challenge, error)
	ListChallenges(ctx context.Context, filter ChallengeFilter) ([]model.Challenge, error)

	PutMatch(ctx context.Context, m model.Match) error
	GetMatch(ctx context.Context, id string) (model.Match, error)
	ListMatches(ctx context.Context, filter MatchFilter) ([]model.Match, error)

	AppendEvaluation(ctx context.Context, matchID string, eval model.JudgeEvaluation) error
	AppendDivisionChange(ctx context.Context, agentID string, rec model.DivisionChange) error

	// RecordedOutcome/MarkOutcomeRecorded back property P10 ("re-applying
	// a Completed match's outcome via RankingEngine is rejected").
	RecordedOutcome(ctx context.Context, matchID string) (bool, error)
	MarkOutcomeRecorded(ctx context.Context, matchID string) error
}
