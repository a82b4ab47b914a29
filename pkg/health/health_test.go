package health

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/claimd/pkg/rpc/rpctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

func TestStatusUpdate(t *testing.T) {
	cfg := Config{Retries: 2}
	s := NewStatus()

	assert.False(t, s.Update(Result{Healthy: false}, cfg))
	assert.True(t, s.Healthy, "one failure is below the retry threshold")

	assert.True(t, s.Update(Result{Healthy: false}, cfg))
	assert.False(t, s.Healthy)
	assert.Equal(t, 2, s.ConsecutiveFailures)

	assert.True(t, s.Update(Result{Healthy: true}, cfg))
	assert.True(t, s.Healthy)
	assert.Zero(t, s.ConsecutiveFailures)
	assert.Equal(t, 1, s.ConsecutiveSuccesses)
}

func TestTCPChecker(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	res := NewTCPChecker(lis.Addr().String()).Check(context.Background())
	assert.True(t, res.Healthy, res.Message)
	assert.Equal(t, CheckTypeTCP, NewTCPChecker("x").Type())

	addr := lis.Addr().String()
	require.NoError(t, lis.Close())
	res = NewTCPChecker(addr).WithTimeout(time.Second).Check(context.Background())
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "connection failed")
}

func TestGRPCCheckerReady(t *testing.T) {
	conn := rpctest.Serve(t, func(s *grpc.Server) {})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := NewGRPCChecker("estimator", conn).Check(ctx)
	assert.True(t, res.Healthy, res.Message)
}

// stuckConn never leaves TRANSIENT_FAILURE
type stuckConn struct{}

func (stuckConn) Connect() {}
func (stuckConn) GetState() connectivity.State { return connectivity.TransientFailure }
func (stuckConn) WaitForStateChange(ctx context.Context, _ connectivity.State) bool {
	<-ctx.Done()
	return false
}

func TestGRPCCheckerUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := NewGRPCChecker("cleanup", stuckConn{}).Check(ctx)
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "TRANSIENT_FAILURE")
}

func TestPingChecker(t *testing.T) {
	ok := NewPingChecker("redis", func(context.Context) error { return nil })
	assert.True(t, ok.Check(context.Background()).Healthy)

	failing := NewPingChecker("redis", func(context.Context) error { return errors.New("connection refused") })
	res := failing.Check(context.Background())
	assert.False(t, res.Healthy)
	assert.Contains(t, res.Message, "connection refused")
}

type reports struct {
	mu   sync.Mutex
	last map[string]bool
}

func (r *reports) report(name string, healthy bool, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[name] = healthy
}

func (r *reports) get(name string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.last[name]
	return v, ok
}

func TestMonitor(t *testing.T) {
	rep := &reports{last: map[string]bool{}}
	mon := NewMonitor(Config{Interval: 10 * time.Millisecond, Timeout: time.Second, Retries: 2})
	mon.SetReporter(rep.report)

	mon.Add("up", NewPingChecker("up", func(context.Context) error { return nil }))
	mon.Add("down", NewPingChecker("down", func(context.Context) error { return errors.New("refused") }))
	mon.Start()
	defer mon.Stop()

	require.Eventually(t, func() bool {
		up, okUp := rep.get("up")
		down, okDown := rep.get("down")
		return okUp && up && okDown && !down
	}, 2*time.Second, 10*time.Millisecond)

	status, ok := mon.Status("down")
	require.True(t, ok)
	assert.GreaterOrEqual(t, status.ConsecutiveFailures, 2)

	_, ok = mon.Status("missing")
	assert.False(t, ok)
}
