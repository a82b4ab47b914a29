/*
Package propagator keeps claimd and the task control system in step.

StatusPropagator consumes status changes reported by the task control
system. The status is stored, then a handler per status adjusts the task:

	queued, active           pipeline starts after its predecessors and
	                         successors are pushed behind it
	completing, finished,    end clamped to the reported stop time
	aborted
	approved, on_hold,       claims become tentative
	prepared, obsolete,
	error

Windows are changed through pkg/shift, so storage claims stay retained
beyond the task end.

SpecificationPropagator pushes the claim properties of scheduled and
conflicting tasks to the task control system as a flat key/value
specification, then the status. The assigner calls it before an
assignment returns, so no allocation waits on the notification bus. A push
that fails puts the task in error.
*/
package propagator
