/*
Package metrics provides Prometheus metrics collection and exposition for claimd.

All collectors are package-level variables registered with the default
registry in init(). Components update them directly:

	timer := metrics.NewTimer()
	result := s.Allocate(ctx)
	timer.ObserveDurationVec(metrics.SchedulingLatency, "dwell")
	metrics.ScheduleAttempts.WithLabelValues("dwell", outcome).Inc()

# Metric Categories

	State:      claimd_resources_total, claimd_tasks_total, claimd_claims_total
	Claims:     claimd_claims_inserted_total{status}
	Raft:       claimd_raft_is_leader, claimd_raft_log_index, claimd_raft_apply_duration_seconds
	API:        claimd_api_requests_total, claimd_api_request_duration_seconds
	Scheduler:  claimd_scheduling_latency_seconds, claimd_schedule_attempts_total, claimd_tasks_bumped_total
	Assigner:   claimd_assignments_total, claimd_assignment_duration_seconds, claimd_assignment_queue_depth
	Checker:    claimd_checker_cycles_total, claimd_checker_duration_seconds, claimd_checker_pass_errors_total
	Propagator: claimd_propagations_total, claimd_notifications_dropped_total

State gauges are refreshed by the manager's collector loop every 15 seconds.

# Health

The health checker tracks named components. A component that is registered
unhealthy makes /health return 503. /ready additionally requires the storage,
raft and api components to be registered and healthy. NewServeMux serves
/metrics, /health, /ready and /live on one mux.
*/
package metrics
