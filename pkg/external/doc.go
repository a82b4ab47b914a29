/*
Package external holds the collaborator systems claimd talks to but does
not own: the task control system (OTDB), the project metadata system
(MoM) and the data cleanup service.

Each collaborator is an interface with a gRPC client speaking the JSON
codec of pkg/rpc, server registration helpers for simulators and tests,
and a Nop implementation used when the collaborator is not configured.
Reads and status pushes are idempotent and retried on transient errors.
Data removal is not.
*/
package external
