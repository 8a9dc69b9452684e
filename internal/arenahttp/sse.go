package arenahttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"arena/internal/arena/eventbus"
)

var ssePingInterval = 15 * time.Second

// StreamMatch implements GET /matches/{id}/stream: a snapshot of the
// full Match followed by the match/<id> topic's live events, replaying
// anything buffered after Last-Event-ID on reconnect. Grounded on the
// reference server's EventsSSEHandler.
func (h *handlers) StreamMatch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		matchID := chi.URLParam(r, "id")
		m, err := h.d.Repo.GetMatch(r.Context(), matchID)
		if err != nil {
			WriteHTTPError(w, http.StatusNotFound, "not_found", "match not found")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteHTTPError(w, http.StatusInternalServerError, "stream_unsupported", "streaming not supported")
			return
		}
		setSSEHeaders(w)

		if err := writeSSE(w, "snapshot", m); err != nil {
			return
		}
		flusher.Flush()

		streamTopic(r, w, flusher, h.d.Bus, eventbus.MatchTopic(matchID))
	}
}

// StreamArena implements GET /matches/stream: the arena/matches topic's
// matchCreated/matchUpdated/matchCompleted summaries, with no initial
// snapshot since it is a firehose over every match rather than one.
func (h *handlers) StreamArena() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteHTTPError(w, http.StatusInternalServerError, "stream_unsupported", "streaming not supported")
			return
		}
		setSSEHeaders(w)
		streamTopic(r, w, flusher, h.d.Bus, eventbus.ArenaMatchesTopic)
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// streamTopic replays buffered events after Last-Event-ID, then forwards
// the live subscription until the client disconnects, interleaving a
// ": ping" comment heartbeat every 15s per spec.md §6.2.
func streamTopic(r *http.Request, w http.ResponseWriter, flusher http.Flusher, bus *eventbus.Bus, topic string) {
	lastEventID := r.Header.Get("Last-Event-ID")
	for _, ev := range bus.ReplayAfter(topic, lastEventID) {
		if err := writeEvent(w, ev); err != nil {
			return
		}
	}
	flusher.Flush()

	sub := bus.Subscribe(topic)
	defer sub.Unsubscribe()

	ticker := time.NewTicker(ssePingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.Events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev eventbus.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if ev.EventID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.EventID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Name); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func writeSSE(w http.ResponseWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
