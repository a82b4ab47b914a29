/*
Package types defines the core data structures used throughout claimd.

This package contains the domain model of the resource assignment core:
resources and resource groups, resource claims, tasks, specifications, and the
filter/update shapes used to query and mutate them. Every other package builds
on these types for persistence, scheduling, propagation and the RPC surface.

# Core Types

Resource pool:
  - Resource: typed, capacity-limited unit (storage, bandwidth, compute, rcu)
  - ResourceGroup: node in the group tree used to scope queries

Allocation:
  - ResourceClaim: ClaimSize units of one resource for [StartTime, EndTime)
  - ClaimStatus: tentative, claimed, conflict
  - ClaimRequest: what a scheduler asks for; the claim store decides the status

Work:
  - Task: observation, pipeline, reservation or maintenance window
  - TaskStatus: lifecycle step, see CanTransition
  - Specification: opaque key/value parset plus time bounds
  - SpecificationTree: assignment input including predecessor trees

# Enum literals

TaskType, TaskStatus and ClaimStatus string values are keyed on by external
systems. They are part of the wire contract and must stay bit-exact.

# Task lifecycle

	prepared → approved → prescheduled → {scheduled | conflict | error}
	scheduled → queued → active → completing → finished

aborted and obsolete are reachable from most non-final states, on_hold from
approved. CanTransition encodes the full table.

# Errors

errors.go holds the error taxonomy shared by all components:

  - ErrNotFound: unknown id
  - ValidationError: malformed request, never retried
  - EstimationError: estimator rejected the specification
  - PropagationError: push to an external system failed
  - TransientRPCError: timeout or unavailable collaborator

A capacity conflict is not an error. It is recorded as a claim with status
conflict and surfaces as task status conflict.

# Time semantics

Claims are half-open intervals: a claim ending at t and a claim starting at t
never compete for capacity. Filters with Lower/Upper bounds use an inclusive
overlap test (claim.EndTime >= lower && claim.StartTime <= upper) and treat a
nil bound as unbounded.
*/
package types
