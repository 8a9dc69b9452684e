// Package arenametrics provides the optional Prometheus metrics surface
// SPEC_FULL.md §11 wires alongside the reference server's own expvar
// counters: gauges and histograms over ArenaScheduler, RankingEngine, and
// EventBus activity. Grounded on okian-cuju's pkg/metrics/prometheus.go
// (promauto-registered metrics on a dedicated registry, exported via a
// small set of Record*/Update* functions). Only Registry is used, by
// arenahttp's /metrics route; nothing in this module calls the
// SetLiveMatches/Record* functions, so every series stays at its initial
// value.
package arenametrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var (
	liveMatches = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "arena", Name: "live_matches", Help: "Current number of InProgress/Judging/Finalizing matches.",
	})
	matchesStarted = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena", Name: "matches_started_total", Help: "Total matches admitted by the scheduler.",
	}, []string{"division", "type"})
	matchesCompleted = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "arena", Name: "matches_completed_total", Help: "Total matches that reached a terminal status.",
	}, []string{"division", "status"})
	matchDuration = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "arena", Name: "match_duration_seconds", Help: "Wall-clock duration of completed matches.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	eloDelta = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "arena", Name: "elo_delta", Help: "Absolute ELO rating delta applied per match side.",
		Buckets: prometheus.LinearBuckets(0, 4, 10),
	})
	judgeFailures = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "arena", Name: "judge_invocation_failures_total", Help: "Judge invocations that returned an error.",
	})
	eventBusDropped = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "arena", Name: "eventbus_dropped_events_total", Help: "Events dropped by backpressured SSE subscribers.",
	})
)

func Registry() *prometheus.Registry { return registry }

func SetLiveMatches(n int) { liveMatches.Set(float64(n)) }

func RecordMatchStarted(division, matchType string) {
	matchesStarted.WithLabelValues(division, matchType).Inc()
}

func RecordMatchCompleted(division, status string, duration time.Duration) {
	matchesCompleted.WithLabelValues(division, status).Inc()
	matchDuration.Observe(duration.Seconds())
}

func RecordEloDelta(delta float64) {
	if delta < 0 {
		delta = -delta
	}
	eloDelta.Observe(delta)
}

func RecordJudgeFailure() { judgeFailures.Inc() }

func RecordEventDropped(n int) {
	for i := 0; i < n; i++ {
		eventBusDropped.Inc()
	}
}
