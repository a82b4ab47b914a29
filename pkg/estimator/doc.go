// Package estimator defines the typed estimator contract and two
// implementations: Static, driven by per-task-type YAML rules, and Client,
// which calls a remote estimator over gRPC.
//
// The free-form specification content stays at the boundary. The scheduling
// core only ever sees Result and its Estimates, and Result.Validate must pass
// before any claim is requested.
package estimator
