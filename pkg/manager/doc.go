/*
Package manager implements the RADB facade: the single mutation path for
resources, tasks and claims.

Every write is a Command{Op, Data} applied by ClaimFSM to the BoltDB store.
In replicated mode commands go through a hashicorp/raft log, so each claim
insertion is one log entry and its capacity check and write happen under the
FSM mutex inside one bolt transaction. In standalone mode the manager applies
commands to the FSM directly. Reads never touch raft; they are served from
the local store.

# Architecture

	┌──────────────── MANAGER ─────────────────┐
	│                                           │
	│  typed methods (InsertClaims, UpsertTask) │
	│            │                              │
	│            ▼                              │
	│   Apply(Command) ── standalone ──┐        │
	│            │                      │        │
	│            ▼                      │        │
	│      raft log (boltdb)            │        │
	│            │                      │        │
	│            ▼                      ▼        │
	│        ClaimFSM.applyCommand              │
	│            │                              │
	│            ▼                              │
	│      storage.BoltStore                    │
	└───────────────────────────────────────────┘

The FSM is deterministic: ids come from bolt sequences and every timestamp
comes from the command payload, never from the local clock.

# Modes

	m, _ := manager.NewManager(&manager.Config{
		NodeID:   "claimd-1",
		BindAddr: "127.0.0.1:7946",
		DataDir:  "/var/lib/claimd",
	})
	_ = m.Bootstrap()          // new single-node cluster over TCP
	_ = m.BootstrapInMemory()  // in-memory raft, used by tests
	_ = m.Join(ctx, leader, token)

A Config with Standalone set skips raft entirely; IsLeader is always true.

# Results and errors

Apply returns whatever the FSM operation produced. An error returned by the
store (ErrNotFound, *ValidationError) travels back through the raft future
and is returned unchanged, so callers classify it with errors.Is and
errors.As exactly as they would against the store.

MetricsCollector copies resource, task and claim counts plus raft state into
the prometheus gauges every interval.
*/
package manager
