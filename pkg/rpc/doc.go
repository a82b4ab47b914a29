/*
Package rpc holds the gRPC plumbing shared by claimd's servers and clients.

Messages are plain Go structs carried by a JSON codec registered under the
content subtype "json". Invoke applies DefaultTimeout (5s) to calls that
carry no deadline and maps gRPC codes back onto claimd's error taxonomy:

	NotFound                             -> types.ErrNotFound
	InvalidArgument                      -> *types.ValidationError
	DeadlineExceeded, Unavailable, ...   -> *types.TransientRPCError

Retry re-runs idempotent calls on TransientRPCError with exponential
backoff. Status pushes are idempotent; claim insertion is not and must never
be wrapped in Retry.
*/
package rpc
