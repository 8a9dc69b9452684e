package arenahttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"arena/internal/arena/challenge"
	"arena/internal/arena/model"
	"arena/internal/arena/pairing"
	"arena/internal/arena/scheduler"
	"arena/internal/arena/store"
)

type handlers struct {
	d Deps
}

func (h *handlers) ListAgents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.AgentFilter{Division: model.Division(r.URL.Query().Get("division"))}
		agents, err := h.d.Repo.ListAgents(r.Context(), filter)
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, paginate(agents, r))
	}
}

func (h *handlers) GetAgent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := h.d.Repo.GetAgent(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteHTTPError(w, http.StatusNotFound, "not_found", "agent not found")
			return
		}
		WriteJSON(w, http.StatusOK, a)
	}
}

// createAgentRequest is the body POST /agents expects; spec.md §3 agents
// are "created by admin" so this sits behind AdminAuthMiddleware.
type createAgentRequest struct {
	DisplayName     string   `json:"displayName"`
	Description     string   `json:"description"`
	Specializations []string `json:"specializations"`
}

func (h *handlers) CreateAgent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createAgentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
		if strings.TrimSpace(req.DisplayName) == "" {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_request", "displayName is required")
			return
		}
		a := model.NewAgent(ulid.Make().String(), req.DisplayName)
		a.Description = req.Description
		a.Specializations = req.Specializations
		if err := h.d.Repo.PutAgent(r.Context(), a); err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		WriteJSON(w, http.StatusCreated, a)
	}
}

func (h *handlers) ListChallenges() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.ChallengeFilter{
			Type:       model.ChallengeType(r.URL.Query().Get("type")),
			Difficulty: model.Difficulty(r.URL.Query().Get("difficulty")),
		}
		cs, err := h.d.Repo.ListChallenges(r.Context(), filter)
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, paginate(cs, r))
	}
}

func (h *handlers) ContributeChallenge() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var draft challenge.Draft
		if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
		c, accepted, reason := h.d.Pool.Contribute(r.Context(), draft)
		if !accepted {
			status := http.StatusBadRequest
			if reason == "duplicate challenge" {
				status = http.StatusConflict
			}
			WriteHTTPError(w, status, reason, reason)
			return
		}
		WriteJSON(w, http.StatusCreated, c)
	}
}

func (h *handlers) ListMatches() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.MatchFilter{Status: model.MatchStatus(r.URL.Query().Get("status"))}
		ms, err := h.d.Repo.ListMatches(r.Context(), filter)
		if err != nil {
			WriteHTTPError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, paginate(ms, r))
	}
}

func (h *handlers) LiveMatches() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, h.d.Scheduler.Snapshot(r.Context()))
	}
}

func (h *handlers) GetMatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := h.d.Repo.GetMatch(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteHTTPError(w, http.StatusNotFound, "not_found", "match not found")
			return
		}
		WriteJSON(w, http.StatusOK, m)
	}
}

type quickMatchBody struct {
	Division model.Division `json:"division"`
	Agent1ID string         `json:"agent1Id,omitempty"`
	Agent2ID string         `json:"agent2Id,omitempty"`
}

func (h *handlers) QuickMatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body quickMatchBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
		if body.Division == "" {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_body", "division is required")
			return
		}
		m, err := h.d.Scheduler.Start(r.Context(), scheduler.Request{
			Division:    body.Division,
			Type:        model.MatchRegularDuel,
			Agent1ID:    body.Agent1ID,
			Agent2ID:    body.Agent2ID,
			RequesterIP: clientIP(r),
		})
		h.writeStartResult(w, m, err)
	}
}

func (h *handlers) KingChallenge() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := h.d.Scheduler.Start(r.Context(), scheduler.Request{
			Division:    model.DivisionKing,
			Type:        model.MatchKingChallenge,
			RequesterIP: clientIP(r),
		})
		h.writeStartResult(w, m, err)
	}
}

func (h *handlers) writeStartResult(w http.ResponseWriter, m model.Match, err error) {
	if err == nil {
		WriteJSON(w, http.StatusCreated, m)
		return
	}
	var tooMany *scheduler.TooManyError
	switch {
	case errors.As(err, &tooMany):
		WriteJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": "too_many_matches", "message": "too many live matches",
			"live_match_count": tooMany.Live, "max_live_matches": tooMany.Max,
		})
	case errors.Is(err, scheduler.ErrNotEligible):
		WriteHTTPError(w, http.StatusConflict, "not_eligible", err.Error())
	case errors.Is(err, pairing.ErrNoOpponent):
		WriteHTTPError(w, http.StatusBadRequest, "no_opponent", err.Error())
	default:
		WriteHTTPError(w, http.StatusBadRequest, "bad_request", err.Error())
	}
}

func (h *handlers) TournamentStart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		division := model.Division(r.URL.Query().Get("division"))
		if division == "" {
			division = model.DivisionNovice
		}
		numRounds := 1
		if v := r.URL.Query().Get("numRounds"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				numRounds = n
			}
		}
		if err := h.d.Tournament.Start(context.WithoutCancel(r.Context()), division, numRounds); err != nil {
			WriteHTTPError(w, http.StatusConflict, "already_running", err.Error())
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (h *handlers) TournamentStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, h.d.Tournament.CurrentStatus(r.Context()))
	}
}

