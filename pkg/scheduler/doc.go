/*
Package scheduler allocates resources for one task at a time.

A scheduler is built for exactly one task and one set of validated
estimates. Allocate opens a unit of work (the task's previous claims are
removed), maps every estimate onto candidate resources from the catalog,
inserts the claims in one batch and releases the unit on exit: a failed
attempt deletes the claims it inserted unless it keeps them for diagnosis.

# Schedulers

	Basic     fixed window; success iff every claim lands as claimed.
	          NewBasic(..., true) keeps the conflict claims of a failed
	          attempt and leaves the task in conflict.
	Dwell     fixed duration, start anywhere in [minStart, maxStart]. A
	          conflicting probe advances to the earliest end of a claim
	          blocking it; the earliest feasible start wins.
	Priority  fixed window; a conflict is resolved by bumping tasks of
	          lower priority (task type rank, then task priority). Queued
	          and active tasks are aborted and their claims end at the new
	          task's start. Other tasks return to approved and lose their
	          claims.

# Candidate selection

Each need goes to the active resource of its type, inside the task's
cluster group, with the greatest claimable capacity left after the needs
already planned in the same batch. When no resource can hold a need the
best one is still claimed, so the conflict is recorded against it.

# Results

Allocate never panics and never returns a bare error. Result carries
Success, a FailureKind (validation, capacity_conflict, estimation,
propagation, transient_rpc) and the cause:

	result := scheduler.NewDwell(mgr, cat, req, minStart, maxStart, d).Allocate(ctx)
	if !result.Success && result.Failure == scheduler.FailureCapacityConflict {
		// the task is in conflict
	}
*/
package scheduler
