package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the contest engine.
type Metrics struct {
	VotesTotal        *prometheus.CounterVec
	VoteRetries       prometheus.Counter
	ContestsCreated   prometheus.Counter
	ContestsFinalized *prometheus.CounterVec
	SweepDuration     prometheus.Histogram
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter
}

// NewMetrics builds the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		VotesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "battle_votes_total",
				Help: "Vote attempts by outcome (new, changed, duplicate, change_forbidden, closed, contention).",
			},
			[]string{"outcome"},
		),
		VoteRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "battle_vote_retries_total",
			Help: "Vote transactions retried after a concurrent write collision.",
		}),
		ContestsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "battle_contests_created_total",
			Help: "Contests created.",
		}),
		ContestsFinalized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "battle_contests_finalized_total",
				Help: "Contests moved to completed, by trigger (sweep, admin) and result (winner, tie).",
			},
			[]string{"trigger", "result"},
		),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "battle_finalize_sweep_duration_seconds",
			Help:    "Duration of finalize sweeps.",
			Buckets: prometheus.DefBuckets,
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "battle_stats_cache_hits_total",
			Help: "Stats served from Redis.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "battle_stats_cache_misses_total",
			Help: "Stats computed from the database.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.VotesTotal,
			m.VoteRetries,
			m.ContestsCreated,
			m.ContestsFinalized,
			m.SweepDuration,
			m.CacheHits,
			m.CacheMisses,
		)
	}
	return m
}
