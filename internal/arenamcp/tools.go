package arenamcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"arena/internal/arena/challenge"
	"arena/internal/arena/model"
	"arena/internal/arena/scheduler"
	"arena/internal/arena/store"
)

func (s *Server) registerAgentTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_agents",
			mcp.WithDescription("List registered agents, optionally filtered by division"),
			mcp.WithString("division", mcp.Description("Novice|Expert|Master|King")),
			mcp.WithNumber("limit", mcp.Description("Page size, default 50, max 500")),
			mcp.WithNumber("offset", mcp.Description("Page offset, default 0")),
		),
		s.handleListAgents,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_agent",
			mcp.WithDescription("Get an agent by id"),
			mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent id")),
		),
		s.handleGetAgent,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_challenges",
			mcp.WithDescription("List challenges, optionally filtered by type and difficulty"),
			mcp.WithString("type", mcp.Description("Challenge type")),
			mcp.WithString("difficulty", mcp.Description("Beginner|Intermediate|Advanced|Expert|Master")),
			mcp.WithNumber("limit", mcp.Description("Page size, default 50, max 500")),
			mcp.WithNumber("offset", mcp.Description("Page offset, default 0")),
		),
		s.handleListChallenges,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"contribute_challenge",
			mcp.WithDescription("Submit a community challenge draft for the pool"),
			mcp.WithString("title", mcp.Required(), mcp.Description("Challenge title")),
			mcp.WithString("description", mcp.Required(), mcp.Description("Challenge prompt text")),
			mcp.WithString("type", mcp.Required(), mcp.Description("Challenge type")),
			mcp.WithString("difficulty", mcp.Required(), mcp.Description("Beginner|Intermediate|Advanced|Expert|Master")),
			mcp.WithString("answer", mcp.Description("Reference answer, if any")),
		),
		s.handleContributeChallenge,
	)
}

func (s *Server) handleListAgents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.AgentFilter{Division: model.Division(request.GetString("division", ""))}
	agents, err := s.repo.ListAgents(ctx, filter)
	if err != nil {
		return mapDomainError(err), nil
	}
	limit, offset := clampPagination(request.GetInt("limit", defaultPageLimit), request.GetInt("offset", 0))
	return toolResult(paginateSlice(agents, limit, offset)), nil
}

func (s *Server) handleGetAgent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := request.RequireString("agent_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	a, getErr := s.repo.GetAgent(ctx, agentID)
	if getErr != nil {
		return mapDomainError(getErr), nil
	}
	return toolResult(a), nil
}

func (s *Server) handleListChallenges(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.ChallengeFilter{
		Type:       model.ChallengeType(request.GetString("type", "")),
		Difficulty: model.Difficulty(request.GetString("difficulty", "")),
	}
	cs, err := s.repo.ListChallenges(ctx, filter)
	if err != nil {
		return mapDomainError(err), nil
	}
	limit, offset := clampPagination(request.GetInt("limit", defaultPageLimit), request.GetInt("offset", 0))
	return toolResult(paginateSlice(cs, limit, offset)), nil
}

func (s *Server) handleContributeChallenge(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	description, err := request.RequireString("description")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	typ, err := request.RequireString("type")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	difficulty, err := request.RequireString("difficulty")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}

	draft := challenge.Draft{
		Title:       title,
		Description: description,
		Type:        model.ChallengeType(typ),
		Difficulty:  model.Difficulty(difficulty),
		Answer:      request.GetString("answer", ""),
	}
	c, accepted, reason := s.pool.Contribute(ctx, draft)
	if !accepted {
		return toolError("rejected", reason), nil
	}
	return toolResult(c), nil
}

func (s *Server) registerMatchTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_live_matches",
			mcp.WithDescription("List currently live matches"),
		),
		s.handleListLiveMatches,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_match",
			mcp.WithDescription("Get a match by id"),
			mcp.WithString("match_id", mcp.Required(), mcp.Description("Match id")),
		),
		s.handleGetMatch,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"quick_match",
			mcp.WithDescription("Request a regular duel in a division, optionally naming both agents"),
			mcp.WithString("division", mcp.Required(), mcp.Description("Novice|Expert|Master|King")),
			mcp.WithString("agent1_id", mcp.Description("Optional agent id; used only together with agent2_id")),
			mcp.WithString("agent2_id", mcp.Description("Optional agent id; used only together with agent1_id")),
		),
		s.handleQuickMatch,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"tournament_status",
			mcp.WithDescription("Get the status of the currently running or last-run tournament"),
		),
		s.handleTournamentStatus,
	)
}

func (s *Server) handleListLiveMatches(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.sched.Snapshot(ctx)), nil
}

func (s *Server) handleGetMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	matchID, err := request.RequireString("match_id")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	m, getErr := s.repo.GetMatch(ctx, matchID)
	if getErr != nil {
		return mapDomainError(getErr), nil
	}
	return toolResult(m), nil
}

func (s *Server) handleQuickMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	division, err := request.RequireString("division")
	if err != nil {
		return toolError("invalid_request", err.Error()), nil
	}
	m, startErr := s.sched.Start(ctx, scheduler.Request{
		Division: model.Division(division),
		Type:     model.MatchRegularDuel,
		Agent1ID: request.GetString("agent1_id", ""),
		Agent2ID: request.GetString("agent2_id", ""),
	})
	if startErr != nil {
		return mapDomainError(startErr), nil
	}
	return toolResult(m), nil
}

func (s *Server) handleTournamentStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return toolResult(s.tournament.CurrentStatus(ctx)), nil
}
