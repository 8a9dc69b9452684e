package store

import (
	"context"
	"sync"

	"arena/internal/arena/model"
)

// Memory is an in-memory Repository used by tests and by arena-server
// when REPOSITORY_URL is unset; it implements the same optimistic-concurrency contract the
// pgx-backed store does so property tests (P9, P10) exercise identical
// semantics against either backend.
type Memory struct {
	mu         sync.Mutex
	agents     map[string]model.Agent
	challenges map[string]model.Challenge
	matches    map[string]model.Match
	recorded   map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		agents:     map[string]model.Agent{},
		challenges: map[string]model.Challenge{},
		matches:    map[string]model.Match{},
		recorded:   map[string]bool{},
	}
}

func (m *Memory) PutAgent(_ context.Context, a model.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.agents[a.ID]
	if ok && a.Version != 0 && existing.Version != a.Version-1 {
		return ErrStale
	}
	if !ok && a.Version > 1 {
		return ErrStale
	}
	if a.Version == 0 {
		a.Version = existing.Version + 1
	}
	m.agents[a.ID] = a
	return nil
}

func (m *Memory) GetAgent(_ context.Context, id string) (model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return model.Agent{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) ListAgents(_ context.Context, filter AgentFilter) ([]model.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if filter.Division != "" && a.Division != filter.Division {
			continue
		}
		if filter.Active != nil && a.Active != *filter.Active {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *Memory) PutChallenge(_ context.Context, c model.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.challenges[c.ID]
	if ok && c.Version != 0 && existing.Version != c.Version-1 {
		return ErrStale
	}
	if c.Version == 0 {
		c.Version = existing.Version + 1
	}
	m.challenges[c.ID] = c
	return nil
}

func (m *Memory) GetChallenge(_ context.Context, id string) (model.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return model.Challenge{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) ListChallenges(_ context.Context, filter ChallengeFilter) ([]model.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Challenge, 0, len(m.challenges))
	for _, c := range m.challenges {
		if filter.ExcludeRetired && c.Retired {
			continue
		}
		if filter.Type != "" && c.Type != filter.Type {
			continue
		}
		if filter.Difficulty != "" && c.Difficulty != filter.Difficulty {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *Memory) PutMatch(_ context.Context, match model.Match) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.matches[match.ID]
	if ok && match.Version != 0 && existing.Version != match.Version-1 {
		return ErrStale
	}
	if match.Version == 0 {
		match.Version = existing.Version + 1
	}
	m.matches[match.ID] = match
	return nil
}

func (m *Memory) GetMatch(_ context.Context, id string) (model.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[id]
	if !ok {
		return model.Match{}, ErrNotFound
	}
	return match, nil
}

func (m *Memory) ListMatches(_ context.Context, filter MatchFilter) ([]model.Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Match, 0, len(m.matches))
	for _, match := range m.matches {
		if filter.Status != "" && match.Status != filter.Status {
			continue
		}
		out = append(out, match)
	}
	return out, nil
}

func (m *Memory) AppendEvaluation(_ context.Context, matchID string, eval model.JudgeEvaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	match, ok := m.matches[matchID]
	if !ok {
		return ErrNotFound
	}
	match.Evaluations = append(match.Evaluations, eval)
	m.matches[matchID] = match
	return nil
}

func (m *Memory) AppendDivisionChange(_ context.Context, agentID string, rec model.DivisionChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[agentID]
	if !ok {
		return ErrNotFound
	}
	a.DivisionChangeHistory = append(a.DivisionChangeHistory, rec)
	m.agents[agentID] = a
	return nil
}

func (m *Memory) RecordedOutcome(_ context.Context, matchID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recorded[matchID], nil
}

func (m *Memory) MarkOutcomeRecorded(_ context.Context, matchID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded[matchID] = true
	return nil
}

var _ Repository = (*Memory)(nil)
