package store

import (
	"context"
	"encoding/json"

	"arena/internal/arena/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the production Repository, grounded on the reference
// server's internal/store.Store: a pgxpool.Pool plus hand-written SQL
// (the reference server's internal/store/repo.go style) rather than
// generated query code, since this module has no sqlc schema to
// generate against. Every write wraps its optimistic-concurrency check
// and row write in one pgx.Tx, the "atomic persistence discipline"
// SPEC_FULL.md §12 calls for.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	p := &Postgres{Pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS arena_agents (
	id TEXT PRIMARY KEY,
	version INT NOT NULL,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS arena_challenges (
	id TEXT PRIMARY KEY,
	version INT NOT NULL,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS arena_matches (
	id TEXT PRIMARY KEY,
	version INT NOT NULL,
	status TEXT NOT NULL,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS arena_outcomes_recorded (
	match_id TEXT PRIMARY KEY
);
`

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.Pool.Exec(ctx, schemaDDL)
	return err
}

func (p *Postgres) PutAgent(ctx context.Context, a model.Agent) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return err
	}
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var currentVersion int
	err = tx.QueryRow(ctx, `SELECT version FROM arena_agents WHERE id = $1`, a.ID).Scan(&currentVersion)
	switch {
	case err == pgx.ErrNoRows:
		if a.Version > 1 {
			return ErrStale
		}
		if _, err := tx.Exec(ctx, `INSERT INTO arena_agents (id, version, doc) VALUES ($1, $2, $3)`, a.ID, 1, doc); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if a.Version != 0 && currentVersion != a.Version-1 {
			return ErrStale
		}
		if _, err := tx.Exec(ctx, `UPDATE arena_agents SET version = $1, doc = $2 WHERE id = $3`, currentVersion+1, doc, a.ID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetAgent(ctx context.Context, id string) (model.Agent, error) {
	var raw []byte
	err := p.Pool.QueryRow(ctx, `SELECT doc FROM arena_agents WHERE id = $1`, id).Scan(&raw)
	if err == pgx.ErrNoRows {
		return model.Agent{}, ErrNotFound
	}
	if err != nil {
		return model.Agent{}, err
	}
	var a model.Agent
	if err := json.Unmarshal(raw, &a); err != nil {
		return model.Agent{}, err
	}
	return a, nil
}

func (p *Postgres) ListAgents(ctx context.Context, filter AgentFilter) ([]model.Agent, error) {
	rows, err := p.Pool.Query(ctx, `SELECT doc FROM arena_agents`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Agent
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a model.Agent
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, err
		}
		if filter.Division != "" && a.Division != filter.Division {
			continue
		}
		if filter.Active != nil && a.Active != *filter.Active {
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *Postgres) PutChallenge(ctx context.Context, c model.Challenge) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return err
	}
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var currentVersion int
	err = tx.QueryRow(ctx, `SELECT version FROM arena_challenges WHERE id = $1`, c.ID).Scan(&currentVersion)
	switch {
	case err == pgx.ErrNoRows:
		if c.Version > 1 {
			return ErrStale
		}
		if _, err := tx.Exec(ctx, `INSERT INTO arena_challenges (id, version, doc) VALUES ($1, $2, $3)`, c.ID, 1, doc); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if c.Version != 0 && currentVersion != c.Version-1 {
			return ErrStale
		}
		if _, err := tx.Exec(ctx, `UPDATE arena_challenges SET version = $1, doc = $2 WHERE id = $3`, currentVersion+1, doc, c.ID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetChallenge(ctx context.Context, id string) (model.Challenge, error) {
	var raw []byte
	err := p.Pool.QueryRow(ctx, `SELECT doc FROM arena_challenges WHERE id = $1`, id).Scan(&raw)
	if err == pgx.ErrNoRows {
		return model.Challenge{}, ErrNotFound
	}
	if err != nil {
		return model.Challenge{}, err
	}
	var c model.Challenge
	if err := json.Unmarshal(raw, &c); err != nil {
		return model.Challenge{}, err
	}
	return c, nil
}

func (p *Postgres) ListChallenges(ctx context.Context, filter ChallengeFilter) ([]model.Challenge, error) {
	rows, err := p.Pool.Query(ctx, `SELECT doc FROM arena_challenges`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Challenge
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var c model.Challenge
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
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
	return out, rows.Err()
}

func (p *Postgres) PutMatch(ctx context.Context, m model.Match) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return err
	}
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var currentVersion int
	err = tx.QueryRow(ctx, `SELECT version FROM arena_matches WHERE id = $1`, m.ID).Scan(&currentVersion)
	switch {
	case err == pgx.ErrNoRows:
		if m.Version > 1 {
			return ErrStale
		}
		if _, err := tx.Exec(ctx, `INSERT INTO arena_matches (id, version, status, doc) VALUES ($1, $2, $3, $4)`, m.ID, 1, string(m.Status), doc); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if m.Version != 0 && currentVersion != m.Version-1 {
			return ErrStale
		}
		if _, err := tx.Exec(ctx, `UPDATE arena_matches SET version = $1, status = $2, doc = $3 WHERE id = $4`, currentVersion+1, string(m.Status), doc, m.ID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) GetMatch(ctx context.Context, id string) (model.Match, error) {
	var raw []byte
	err := p.Pool.QueryRow(ctx, `SELECT doc FROM arena_matches WHERE id = $1`, id).Scan(&raw)
	if err == pgx.ErrNoRows {
		return model.Match{}, ErrNotFound
	}
	if err != nil {
		return model.Match{}, err
	}
	var m model.Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return model.Match{}, err
	}
	return m, nil
}

func (p *Postgres) ListMatches(ctx context.Context, filter MatchFilter) ([]model.Match, error) {
	var rows pgx.Rows
	var err error
	if filter.Status != "" {
		rows, err = p.Pool.Query(ctx, `SELECT doc FROM arena_matches WHERE status = $1`, string(filter.Status))
	} else {
		rows, err = p.Pool.Query(ctx, `SELECT doc FROM arena_matches`)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Match
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m model.Match
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) AppendEvaluation(ctx context.Context, matchID string, eval model.JudgeEvaluation) error {
	m, err := p.GetMatch(ctx, matchID)
	if err != nil {
		return err
	}
	m.Evaluations = append(m.Evaluations, eval)
	return p.PutMatch(ctx, m)
}

func (p *Postgres) AppendDivisionChange(ctx context.Context, agentID string, rec model.DivisionChange) error {
	a, err := p.GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	a.DivisionChangeHistory = append(a.DivisionChangeHistory, rec)
	return p.PutAgent(ctx, a)
}

func (p *Postgres) RecordedOutcome(ctx context.Context, matchID string) (bool, error) {
	var id string
	err := p.Pool.QueryRow(ctx, `SELECT match_id FROM arena_outcomes_recorded WHERE match_id = $1`, matchID).Scan(&id)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *Postgres) MarkOutcomeRecorded(ctx context.Context, matchID string) error {
	_, err := p.Pool.Exec(ctx, `INSERT INTO arena_outcomes_recorded (match_id) VALUES ($1) ON CONFLICT DO NOTHING`, matchID)
	return err
}

var _ Repository = (*Postgres)(nil)
