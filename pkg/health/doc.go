/*
Package health probes the external systems a claimd manager depends on and
reports their reachability to the /health endpoint.

A manager talks to up to five collaborators: the estimator, task control,
project metadata, the cleanup service and the Redis notification bus. None
of them is critical for readiness (assignment degrades to failures, the
propagators log and continue), but an operator wants to see at a glance
which of them is unreachable.

# Checkers

Three checker types implement the Checker interface:

	TCP   dial the address, close on success
	gRPC  drive a *grpc.ClientConn towards READY and report its state
	Ping  call an arbitrary func(ctx) error, used for Redis PING

# Monitor

A Monitor runs one goroutine per registered probe:

	every Interval:
	  result := checker.Check(ctx with Timeout)
	  status.Update(result, config)
	  report(name, status)   // metrics.UpdateComponent by default

A probe turns unhealthy only after Retries consecutive failures and is
healthy again after the first success. Transitions are logged at warn and
info level.

# Usage

	mon := health.NewMonitor(health.DefaultConfig())
	mon.Add("estimator", health.NewGRPCChecker("estimator", conn))
	mon.Add("notifications", health.NewPingChecker("redis", forwarder.Ping))
	mon.Start()
	defer mon.Stop()
*/
package health
