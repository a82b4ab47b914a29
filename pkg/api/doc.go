/*
Package api implements the claimd gRPC API, the RADB service, and the HTTP
health endpoints.

The RADB service is registered by hand with rpc.Unary and speaks the JSON
codec from pkg/rpc, so messages are plain Go structs and no generated code
is involved.

	┌────────── CLIENT (claimd CLI, task control, dashboards) ─────────┐
	│  pkg/client  ─── rpc.Invoke, JSON codec ───►                     │
	└──────────────────────────────┬───────────────────────────────────┘
	                               │ gRPC  /claimd.RADB/<Method>
	┌──────────────────────────────▼───────────── MANAGER NODE ────────┐
	│  api.Server                                                       │
	│    MetricsInterceptor ─► ReadOnlyInterceptor (optional)           │
	│       │                                                           │
	│       ├── resources, groups   ─► catalog.Catalog                  │
	│       ├── claims, tasks       ─► manager.Manager                  │
	│       ├── DoAssignment        ─► assigner.Pool                    │
	│       ├── HandleStatusEvent   ─► propagator.StatusPropagator      │
	│       └── join tokens, info   ─► manager.Manager (raft)           │
	└───────────────────────────────────────────────────────────────────┘

# Methods

Reads: GetResources, GetResourceGroups, GetClaims, GetClaimableCapacity,
GetOverlappingClaims, GetOverlappingTasks, GetTasks, GetTask, GetClusterInfo.

Writes: UpdateResourceAvailability, DoAssignment, DeleteSpecification,
HandleStatusEvent, JoinCluster, GenerateJoinToken.

DoAssignment queues the tree and returns the request id. With Wait set the
call blocks until the assignment finished and returns its outcome.

# Errors

Handler errors are mapped with rpc.ToStatus: NotFound and validation errors
keep their codes, transient errors become Unavailable, and the client maps
them back with rpc.FromStatus.

# Health

HealthServer serves /health (liveness), /ready (leader known and store
reachable) and /metrics (Prometheus).
*/
package api
