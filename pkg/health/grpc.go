package health

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc/connectivity"
)

// Conn is the part of *grpc.ClientConn the gRPC checker watches
type Conn interface {
	Connect()
	GetState() connectivity.State
	WaitForStateChange(ctx context.Context, source connectivity.State) bool
}

// GRPCChecker reports whether a client connection reaches READY. Idle
// connections are woken up, so a probe also establishes the transport.
type GRPCChecker struct {
	name string
	conn Conn
}

// NewGRPCChecker watches conn, naming it in result messages
func NewGRPCChecker(name string, conn Conn) *GRPCChecker {
	return &GRPCChecker{name: name, conn: conn}
}

// Check waits for READY until ctx is done
func (g *GRPCChecker) Check(ctx context.Context) Result {
	start := time.Now()
	g.conn.Connect()

	for {
		state := g.conn.GetState()
		switch state {
		case connectivity.Ready:
			return result(start, true, fmt.Sprintf("%s connection ready", g.name))
		case connectivity.Shutdown:
			return result(start, false, fmt.Sprintf("%s connection shut down", g.name))
		}
		if !g.conn.WaitForStateChange(ctx, state) {
			return result(start, false, fmt.Sprintf("%s connection %s", g.name, state))
		}
	}
}

// Type returns the health check type
func (g *GRPCChecker) Type() CheckType {
	return CheckTypeGRPC
}
