package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// State metrics
	ResourcesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "claimd_resources_total",
			Help: "Total number of resources by type and activity",
		},
		[]string{"type", "active"},
	)

	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "claimd_tasks_total",
			Help: "Total number of tasks by type and status",
		},
		[]string{"type", "status"},
	)

	ClaimsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "claimd_claims_total",
			Help: "Total number of resource claims by status",
		},
		[]string{"status"},
	)

	ClaimsInserted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimd_claims_inserted_total",
			Help: "Total number of inserted claims by resulting status",
		},
		[]string{"status"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "claimd_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "claimd_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "claimd_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "claimd_raft_peers_total",
			Help: "Number of servers in the Raft configuration",
		},
	)

	RaftApplyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claimd_raft_apply_duration_seconds",
			Help:    "Time to commit and apply a command by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimd_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claimd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Scheduler metrics
	SchedulingLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "claimd_scheduling_latency_seconds",
			Help:    "Time taken by one scheduling attempt in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scheduler"},
	)

	ScheduleAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimd_schedule_attempts_total",
			Help: "Scheduling attempts by scheduler and outcome",
		},
		[]string{"scheduler", "outcome"},
	)

	TasksBumped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimd_tasks_bumped_total",
			Help: "Tasks bumped by the priority scheduler by resulting status",
		},
		[]string{"status"},
	)

	// Assigner metrics
	AssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimd_assignments_total",
			Help: "Assignment requests by final task status",
		},
		[]string{"status"},
	)

	AssignmentDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "claimd_assignment_duration_seconds",
			Help:    "Duration of one assignment request in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AssignmentQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "claimd_assignment_queue_depth",
			Help: "Assignment requests waiting for a worker",
		},
	)

	// Checker metrics
	CheckerCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "claimd_checker_cycles_total",
			Help: "Total number of schedule checker cycles",
		},
	)

	CheckerDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "claimd_checker_duration_seconds",
			Help:    "Schedule checker cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckerPassErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimd_checker_pass_errors_total",
			Help: "Errors per schedule checker pass",
		},
		[]string{"pass"},
	)

	// Propagation metrics
	PropagationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claimd_propagations_total",
			Help: "Status and specification propagations by direction and outcome",
		},
		[]string{"direction", "outcome"},
	)

	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "claimd_notifications_dropped_total",
			Help: "Notifications that could not be delivered",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ResourcesTotal)
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(ClaimsTotal)
	prometheus.MustRegister(ClaimsInserted)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftApplyDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SchedulingLatency)
	prometheus.MustRegister(ScheduleAttempts)
	prometheus.MustRegister(TasksBumped)
	prometheus.MustRegister(AssignmentsTotal)
	prometheus.MustRegister(AssignmentDuration)
	prometheus.MustRegister(AssignmentQueueDepth)
	prometheus.MustRegister(CheckerCyclesTotal)
	prometheus.MustRegister(CheckerDuration)
	prometheus.MustRegister(CheckerPassErrors)
	prometheus.MustRegister(PropagationsTotal)
	prometheus.MustRegister(NotificationsDropped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
