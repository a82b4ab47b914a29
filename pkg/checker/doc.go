/*
Package checker re-validates the live schedule in the background.

The checker runs on its own goroutine at a fixed interval (30 seconds by
default). Each cycle runs four independent passes:

	┌────────────────────────────────────────────────────────────┐
	│                     Check cycle                            │
	│                  (every Interval)                          │
	└──┬──────────────┬──────────────────┬──────────────────┬────┘
	   │              │                  │                  │
	   ▼              ▼                  ▼                  ▼
	extend         forward fit       withdrawn          missing
	active         waiting           tasks              reservations
	pipelines      pipelines

# Passes

extend_active: an active pipeline whose end has passed is extended to
LookAhead past now, storage claims included, so it is not taken for
finished while it still runs.

forward_fit: a scheduled or queued pipeline that would start before its
predecessors end, or before now plus MinStartOffset, is moved to that
point. If it then overlaps another pipeline of its cluster it is moved to
the end of that pipeline, repeatedly, until it overlaps none.

withdrawn_tasks: a task that has not started and whose object the project
metadata system no longer knows is deleted with its specification and
claims.

missing_reservations: a reservation whose task control tree no longer
exists is deleted the same way.

# Errors

A pass collects the errors of the tasks it could not handle and carries
on. RunOnce returns the errors of every pass in one multierror, and each
failing pass is counted in claimd_checker_pass_errors_total.

RunOnce can be called directly, as the "claimd checker run-once" command
does.
*/
package checker
