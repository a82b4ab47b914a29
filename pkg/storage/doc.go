/*
Package storage provides BoltDB-backed persistence for claimd's resource
assignment state.

The storage package implements the Store interface using BoltDB as the
underlying database. Resources, resource groups, specifications, tasks and
resource claims are serialized as JSON and stored in separate buckets, keyed
by big-endian integer ids drawn from each bucket's sequence.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/claimd.db                │          │
	│  │  - One transaction per Store call           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  resources          (resource id)           │          │
	│  │  resource_groups    (group id)              │          │
	│  │  specifications     (specification id)      │          │
	│  │  tasks              (task id)               │          │
	│  │  claims             (claim id)              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Index Buckets                   │          │
	│  │  tasks_by_otdb      otdb id → task id       │          │
	│  │  tasks_by_mom       mom id → task id        │          │
	│  │  claims_by_resource resource id|claim id    │          │
	│  │  claims_by_task     task id|claim id        │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Claim insertion

InsertClaims is the only path that creates claims. It reads every claim on
the requested resources, runs the capacity check from package conflict and
writes the new claims inside one db.Update. BoltDB serializes writers, so
two schedulers can never both see the same free capacity.

A request that does not fit is not rejected: it is stored with status
conflict and the owning task moves to conflict in the same transaction.
Malformed requests (end not after start, non-positive size) fail the whole
batch with a ValidationError before anything is written.

UpdateClaims only re-checks capacity when ClaimUpdate.Validate is set.
Propagators that widen storage claims by the fixed retention window pass
Validate=false.

# Cascades

DeleteSpecification removes the specification, every task built from it,
all of their claims and the predecessor/successor links pointing at the
deleted tasks. Nothing of the task stays queryable afterward.

# Usage

	store, err := storage.NewBoltStore("/var/lib/claimd")
	if err != nil {
		return err
	}
	defer store.Close()

	claims, err := store.InsertClaims(task.ID, []*types.ClaimRequest{{
		ResourceID: disk.ID,
		StartTime:  task.StartTime,
		EndTime:    task.EndTime,
		ClaimSize:  120,
	}}, types.Owner{Username: "scheduler"})

Writes normally go through package manager so that they are replicated via
the raft log. Reads may hit the store directly.
*/
package storage
