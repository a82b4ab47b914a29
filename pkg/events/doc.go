/*
Package events provides the notification bus for claimd.

The Broker is an in-memory fan-out: Publish puts the event on a buffered
channel (100 events) and a single loop copies it into every subscriber's
buffered channel (50 events each). A full buffer drops the event for that
subscriber and counts it in claimd_notifications_dropped_total. Delivery is
at-most-once; publishers never block and never see delivery failures.

# Event Types

	TaskApproved       task reached approved, on_hold or prepared; no resources touched
	TaskScheduled      all claims landed as claimed
	TaskConflict       at least one claim is in conflict
	TaskError          estimation, scheduling or propagation failed
	TaskStatusChanged  status set from outside the assigner (bumping, propagators)
	TaskDeleted        task removed by the schedule checker
	ResourceUpdated    availability or capacity of a resource changed

Task notifications carry the flat metadata keys radb_id, otdb_id, mom_id,
status and, when the project metadata system knows it, project.

# Redis

RedisForwarder subscribes to the broker and publishes each event as JSON on
the Redis channel "<prefix>.<EventName>", e.g.
"lofar.ra.notification.TaskScheduled". Failed publishes are logged and
dropped.

	broker := events.NewBroker()
	broker.Start()

	fwd := events.NewRedisForwarder(events.RedisConfig{
		Addr:   "localhost:6379",
		Prefix: "lofar.ra.notification",
	})
	fwd.Start(broker.Subscribe())
*/
package events
