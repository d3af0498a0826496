package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Playback metrics
var (
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_music_sessions_active",
			Help: "Number of guilds with an open playback session",
		},
	)

	TracksStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_music_tracks_started_total",
			Help: "Total number of tracks handed to the voice transport",
		},
	)

	ResolveFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_music_resolve_failures_total",
			Help: "Total number of tracks skipped because they could not be resolved",
		},
		[]string{"reason"},
	)

	ResolveRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_resolver_requests_total",
			Help: "Total number of resolver lookups by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	ResolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_resolver_duration_seconds",
			Help:    "Time spent resolving queries and links",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"mode"},
	)

	SessionTeardowns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_music_session_teardowns_total",
			Help: "Total number of playback sessions torn down",
		},
		[]string{"reason"},
	)
)

// Bot metrics
var (
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_commands_total",
			Help: "Total number of slash commands handled",
		},
		[]string{"command", "outcome"},
	)

	ModerationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_moderation_actions_total",
			Help: "Total number of moderation actions taken",
		},
		[]string{"action"},
	)
)
