package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"arena/internal/arena/challenge"
	"arena/internal/arena/eventbus"
	"arena/internal/arena/gateway"
	"arena/internal/arena/judge"
	"arena/internal/arena/match"
	"arena/internal/arena/model"
	"arena/internal/arena/pairing"
	"arena/internal/arena/ranking"
	"arena/internal/arena/scheduler"
	"arena/internal/arena/store"
	"arena/internal/arena/tournament"
	"arena/internal/arenahttp"
	"arena/internal/arenamcp"
	"arena/internal/config"
	"arena/internal/logging"
)

func main() {
	logging.Init()
	cfg, err := config.LoadArena()
	if err != nil {
		log.Fatal().Err(err).Msg("load arena config failed")
	}

	repo, err := newRepository(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("repository init failed")
	}

	gw := gateway.NewHTTPGateway(cfg.ModelGatewayURL, cfg.ModelGatewayKey)
	bus := eventbus.New()
	pool := challenge.New(repo)
	if n, err := pool.Seed(context.Background(), seedChallenges()); err != nil {
		log.Fatal().Err(err).Msg("challenge seed failed")
	} else {
		log.Info().Int("count", n).Msg("challenge pool seeded")
	}
	if n, err := seedAgents(context.Background(), repo); err != nil {
		log.Fatal().Err(err).Msg("agent seed failed")
	} else {
		log.Info().Int("count", n).Msg("novice roster seeded")
	}

	pairer := pairing.New(repo, pairing.NewRepoHistory(repo))
	rankingEngine := ranking.New(repo, pool)
	panel := judge.New(repo, gw, match.JudgePromptBuilder(), match.ParseJudgeResponse)
	panel.MinJudges = cfg.MinJudges
	panel.MaxJudges = cfg.MaxJudges

	newRunner := func() *match.Runner {
		r := match.New(repo, gw, bus, panel, rankingEngine)
		r.MatchTimeout = time.Duration(cfg.MatchTimeoutSeconds) * time.Second
		return r
	}

	schedCfg := scheduler.Config{
		MaxLiveMatches:  cfg.MaxLiveMatches,
		StartsPerMinute: cfg.StartsPerMinute,
		MatchTimeout:    time.Duration(cfg.MatchTimeoutSeconds) * time.Second,
		MinJudges:       cfg.MinJudges,
		MaxJudges:       cfg.MaxJudges,
	}
	sched := scheduler.New(schedCfg, repo, bus, pairer, pool, rankingEngine, newRunner)
	tourney := tournament.New(sched, repo)
	mcpSrv := arenamcp.New(repo, pool, sched, tourney)

	router := arenahttp.NewRouter(arenahttp.Deps{
		Repo:       repo,
		Pool:       pool,
		Scheduler:  sched,
		Tournament: tourney,
		Bus:        bus,
		AdminKey:   cfg.AdminAPIKey,
		MCP:        mcpSrv.Handler(),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		sched.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http server shutdown error")
		}
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Msg("arena http listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("arena server stopped")
	}
}

// seedAgents gives a freshly started arena enough Novice-division agents
// for pairing.Pick to find an opponent pair immediately; production
// rosters grow from here through the admin-guarded POST /agents route
// (arenahttp) rather than this startup list. Existing agents by id are
// left untouched.
func seedAgents(ctx context.Context, repo store.Repository) (int, error) {
	names := []string{"agent-alpha", "agent-bravo", "agent-charlie", "agent-delta"}
	seeded := 0
	for _, id := range names {
		if _, err := repo.GetAgent(ctx, id); err == nil {
			continue
		}
		if err := repo.PutAgent(ctx, model.NewAgent(id, id)); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}

func newRepository(cfg config.ArenaConfig) (store.Repository, error) {
	if cfg.RepositoryURL == "" {
		log.Warn().Msg("REPOSITORY_URL not set, using in-memory repository")
		return store.NewMemory(), nil
	}
	return store.NewPostgres(context.Background(), cfg.RepositoryURL)
}

// seedChallenges gives a freshly started arena a minimal starter pool
// across every division's difficulty band, per SPEC_FULL.md §12's
// startup-seed supplement.
func seedChallenges() []challenge.Draft {
	return []challenge.Draft{
		{Title: "Sum to target", Description: "Given a list of integers, find two that sum to a target value.", Type: "LogicalReasoning", Difficulty: "Beginner"},
		{Title: "Balanced parentheses", Description: "Determine whether a string of brackets is balanced.", Type: "LogicalReasoning", Difficulty: "Intermediate"},
		{Title: "Is capital punishment justified?", Description: "Debate the moral and practical case for and against capital punishment.", Type: "Debate", Difficulty: "Advanced"},
		{Title: "Unconventional paperclip uses", Description: "Propose ten unconventional uses for a paperclip, ranked by originality.", Type: "CreativeProblemSolving", Difficulty: "Beginner"},
		{Title: "Prove the square root of two is irrational", Description: "Give a rigorous proof.", Type: "Mathematical", Difficulty: "Advanced"},
		{Title: "Optimal stopping", Description: "Derive the optimal strategy for the secretary problem and justify it.", Type: "Mathematical", Difficulty: "Expert"},
		{Title: "Trolley problem variants", Description: "Analyze three variants of the trolley problem and argue which utilitarian calculus, if any, holds across all three.", Type: "AbstractThinking", Difficulty: "Master"},
		{Title: "Designing a fair voting system", Description: "Propose a voting system resilient to Arrow's impossibility theorem's failure modes, and justify the tradeoffs.", Type: "CreativeProblemSolving", Difficulty: "Expert"},
	}
}
