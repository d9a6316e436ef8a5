package tracking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_requests_total",
		Help: "Requests seen by the tracker, by decision and skip reason",
	}, []string{"decision", "reason"})

	mergeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_merge_outcomes_total",
		Help: "Online user merges by resulting transition",
	}, []string{"kind"})

	mergeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_merge_errors_total",
		Help: "Online user merges that failed",
	})

	jobsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_jobs_dropped_total",
		Help: "Completion jobs dropped because the queue was full or closed",
	})

	activitiesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_activities_written_total",
		Help: "Activity records accepted by at least one sink",
	})

	activitiesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_activities_failed_total",
		Help: "Activity records lost because every sink returned an error",
	})

	sinkActivities = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_sink_activities_total",
		Help: "Activity records per sink and result",
	}, []string{"sink", "result"})
)
