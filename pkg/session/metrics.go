package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "loom_sessions_active",
		Help: "Number of live sessions.",
	})
	metricSessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_sessions_created_total",
		Help: "Total sessions created.",
	})
	metricSessionsKilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_sessions_killed_total",
		Help: "Total sessions killed, by reason.",
	}, []string{"reason"})
	metricSessionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loom_sessions_rejected_total",
		Help: "Total session creations rejected, by cause.",
	}, []string{"cause"})
	metricUpdatesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_updates_issued_total",
		Help: "Total update batches issued to clients.",
	})
	metricBadAcks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_bad_acks_total",
		Help: "Total acknowledgments rejected as out of window.",
	})
	metricEventsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_events_dispatched_total",
		Help: "Total client events dispatched to handlers.",
	})
	metricSlotsLearned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loom_stateless_slots_learned_total",
		Help: "Total stateless slot scripts learned.",
	})
)
