package arenamcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"arena/internal/arena/challenge"
	"arena/internal/arena/scheduler"
	"arena/internal/arena/store"
	"arena/internal/arena/tournament"
)

// Server wraps an MCP tool surface over the arena's repository and
// admission-control components, so an orchestrating agent can inspect
// standings and request matches over the same transport it uses for
// other tool calls, rather than needing a separate REST client.
type Server struct {
	repo       store.Repository
	pool       *challenge.Pool
	sched      *scheduler.Scheduler
	tournament *tournament.Runner

	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

func New(repo store.Repository, pool *challenge.Pool, sched *scheduler.Scheduler, tr *tournament.Runner) *Server {
	mcpSrv := server.NewMCPServer(
		"arena",
		"0.1.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
		server.WithRecovery(),
	)
	s := &Server{
		repo:       repo,
		pool:       pool,
		sched:      sched,
		tournament: tr,
		mcpServer:  mcpSrv,
		httpServer: server.NewStreamableHTTPServer(mcpSrv, server.WithStateLess(true), server.WithDisableStreaming(true)),
	}
	s.registerAgentTools()
	s.registerMatchTools()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer
}
