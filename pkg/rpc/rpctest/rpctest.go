// Package rpctest runs gRPC services over an in-memory listener for tests.
package rpctest

import (
	"context"
	"net"
	"testing"

	"github.com/cuemby/claimd/pkg/rpc"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

// Serve starts a server with the services installed by register and
// returns a connected client. Both are torn down with the test.
func Serve(t testing.TB, register func(s *grpc.Server), opts ...grpc.ServerOption) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(opts...)
	register(server)
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	conn, err := rpc.Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}
