package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "preparedness",
		Name:      "realtime_connections",
		Help:      "Open realtime connections.",
	})
	RoomMemberships = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "preparedness",
		Name:      "room_memberships",
		Help:      "Connection to room memberships held by the hub.",
	})
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preparedness",
		Name:      "broadcasts_total",
		Help:      "Events broadcast to rooms, by event name.",
	}, []string{"event"})
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preparedness",
		Name:      "deliveries_total",
		Help:      "Per-connection deliveries, by outcome.",
	}, []string{"outcome"})
	RelayMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preparedness",
		Name:      "relay_messages_total",
		Help:      "Messages exchanged with the redis relay, by direction and outcome.",
	}, []string{"direction", "outcome"})
	DrillTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preparedness",
		Name:      "drill_transitions_total",
		Help:      "Drill state transitions, by target status.",
	}, []string{"status"})
	CheckIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preparedness",
		Name:      "drill_checkins_total",
		Help:      "Drill check-in attempts, by result.",
	}, []string{"result"})
	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preparedness",
		Name:      "alerts_total",
		Help:      "Alert lifecycle events, by action and priority.",
	}, []string{"action", "priority"})
	ModuleCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "preparedness",
		Name:      "module_completions_total",
		Help:      "Recorded learning module completions.",
	})
	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "preparedness",
		Name:      "job_runs_total",
		Help:      "Scheduled job runs, by job and outcome.",
	}, []string{"job", "outcome"})
)
