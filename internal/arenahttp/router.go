// Package arenahttp wires the HTTP/SSE surface spec.md §6.1/§6.2 names
// onto the arena components, grounded on the reference server's
// internal/transport/http package: the same chi.Mux/middleware-group
// shape, the same APILogMiddleware, a ParsePagination/WriteHTTPError pair
// reused verbatim, and an admin-auth middleware adapted to spec.md's
// literal X-API-Key header contract instead of the reference's
// X-Admin-Key/Bearer pair.
package arenahttp

import (
	"expvar"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"arena/internal/arena/arenametrics"
	"arena/internal/arena/challenge"
	"arena/internal/arena/eventbus"
	"arena/internal/arena/scheduler"
	"arena/internal/arena/store"
	"arena/internal/arena/tournament"
)

// Deps is everything the router needs to construct handlers; one
// instance is built once at startup in cmd/arena-server.
type Deps struct {
	Repo       store.Repository
	Pool       *challenge.Pool
	Scheduler  *scheduler.Scheduler
	Tournament *tournament.Runner
	Bus        *eventbus.Bus
	AdminKey   string

	// MCP is optional; when set, the arena's tool surface is mounted at
	// /mcp alongside the REST API.
	MCP http.Handler
}

func NewRouter(d Deps) *chi.Mux {
	h := &handlers{d: d}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.With(APILogMiddleware()).Get("/healthz", h.Health())
	r.With(APILogMiddleware()).Get("/metrics", promhttp.HandlerFor(arenametrics.Registry(), promhttp.HandlerOpts{}).ServeHTTP)

	if d.MCP != nil {
		r.With(APILogMiddleware()).MethodFunc(http.MethodOptions, "/mcp", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Allow", "POST, GET, DELETE, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
		})
		r.With(APILogMiddleware()).Method(http.MethodPost, "/mcp", d.MCP)
		r.With(APILogMiddleware()).Method(http.MethodGet, "/mcp", d.MCP)
		r.With(APILogMiddleware()).Method(http.MethodDelete, "/mcp", d.MCP)
	}

	r.Route("/", func(r chi.Router) {
		r.Use(APILogMiddleware())

		r.Get("/agents", h.ListAgents())
		r.Get("/agents/{id}", h.GetAgent())
		r.Get("/challenges", h.ListChallenges())
		r.Post("/challenges/contribute", h.ContributeChallenge())

		r.Get("/matches", h.ListMatches())
		r.Get("/matches/live", h.LiveMatches())
		r.Get("/matches/{id}", h.GetMatch())
		r.Post("/matches/quick", h.QuickMatch())
		r.Post("/matches/king-challenge", h.KingChallenge())

		r.Get("/matches/stream", h.StreamArena())
		r.Get("/matches/{id}/stream", h.StreamMatch())

		r.Get("/tournament/status", h.TournamentStatus())

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(d.AdminKey))
			r.Post("/agents", h.CreateAgent())
			r.Post("/tournament/start", h.TournamentStart())
		})

		r.Route("/debug", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(d.AdminKey))
			r.Get("/vars", expvar.Handler().ServeHTTP)
		})
	})

	return r
}

func (h *handlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}
