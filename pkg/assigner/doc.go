/*
Package assigner implements the resource assignment of one task.

DoAssignment stores the task's specification, estimates its resource
needs, picks a scheduler and persists the allocation:

	tree ─► upsert ─► approved/on_hold/prepared? ─► TaskApproved
	                      │
	                      ▼
	                  estimate ─► invalid ─► error, TaskError
	                      │
	                      ▼
	        dwell (trigger with window) or priority
	                      │ capacity conflict
	                      ▼
	              basic, keeping conflict claims
	                      │
	        scheduled ◄───┴───► conflict or error

A scheduled or conflicting task is then pushed to the task control system
by the Propagator given with WithPropagator; a failed push turns it into
error. After every attempt the task is in exactly one of scheduled,
conflict or error. Tasks bumped by the priority scheduler are announced and pushed to
the task control system.

Pool runs DoAssignment for concurrent requests on a fixed number of
workers. A stopped pool refuses new requests with ErrPoolStopped.
*/
package assigner
