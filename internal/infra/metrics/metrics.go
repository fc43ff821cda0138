// Package metrics provides Prometheus metrics for the rewards engine:
// dispatched events, XP, level-ups, badges, persistence and live clients.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "altaper4mance"

// ─── Dispatch ───────────────────────────────────────────────────────────────

// EventsDispatched counts reward events by kind and outcome
// ("applied" or "skipped" for anonymous callers).
var EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "events_dispatched_total",
	Help:      "Total reward events dispatched.",
}, []string{"kind", "outcome"})

// DispatchLatency tracks time spent applying one event, lock wait included.
var DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "dispatch_latency_seconds",
	Help:      "Time to apply a reward event.",
	Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
})

// XPGranted counts experience points granted.
var XPGranted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "xp_granted_total",
	Help:      "Total experience points granted.",
})

// ─── Transitions ────────────────────────────────────────────────────────────

// LevelUps counts level_up transitions.
var LevelUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "level_ups_total",
	Help:      "Total level-up transitions.",
})

// BadgesUnlocked counts badge_unlocked transitions per badge.
var BadgesUnlocked = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "badges_unlocked_total",
	Help:      "Total badge unlocks by badge id.",
}, []string{"badge"})

// StreakMilestones counts streak_milestone transitions per milestone.
var StreakMilestones = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "streak_milestones_total",
	Help:      "Total streak milestones reached.",
}, []string{"streak"})

// ─── Persistence ────────────────────────────────────────────────────────────

// PersistWrites counts store writes by result ("ok", "conflict", "error").
var PersistWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "persist_writes_total",
	Help:      "Store write attempts by result.",
}, []string{"result"})

// PersistPending tracks users with unsaved changes.
var PersistPending = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "persist_pending",
	Help:      "Users whose latest stats are not yet persisted.",
})

// PersistExhausted counts writes that used up their retry budget.
var PersistExhausted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "persist_retries_exhausted_total",
	Help:      "Writes that exceeded the retry budget and were parked.",
})

// StoreLoads counts loads by result ("ok", "not_found", "corrupt", "error").
var StoreLoads = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "store_loads_total",
	Help:      "Store loads by result.",
}, []string{"result"})

// ─── Live Feed ──────────────────────────────────────────────────────────────

// LiveClients tracks connected websocket clients.
var LiveClients = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "live_clients",
	Help:      "Connected transition feed clients.",
})

// TransitionsPublished counts batches fanned out by sink.
var TransitionsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "transitions_published_total",
	Help:      "Transition batches published by sink.",
}, []string{"sink"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// CatalogReloads counts badge catalog reloads by result.
var CatalogReloads = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "catalog_reloads_total",
	Help:      "Badge catalog reloads by result.",
}, []string{"result"})
