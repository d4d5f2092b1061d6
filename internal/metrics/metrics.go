package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowmill_executions_started_total",
		Help: "Number of executions picked up by a worker.",
	})
	ExecutionsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowmill_executions_succeeded_total",
		Help: "Number of executions that reached a Succeed state.",
	})
	ExecutionsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowmill_executions_failed_total",
		Help: "Number of failed executions by error kind.",
	}, []string{"kind"})
	TaskAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowmill_task_attempts_total",
		Help: "Task invocation attempts by task reference.",
	}, []string{"task"})
	TaskRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowmill_task_retries_total",
		Help: "Task invocation retries by task reference.",
	}, []string{"task"})
	StateDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "flowmill_state_duration_seconds",
		Help:    "Wall time spent in each state type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)
