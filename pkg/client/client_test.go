package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/claimd/pkg/api"
	"github.com/cuemby/claimd/pkg/catalog"
	"github.com/cuemby/claimd/pkg/manager"
	"github.com/cuemby/claimd/pkg/rpc"
	"github.com/cuemby/claimd/pkg/rpc/rpctest"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newClient(t *testing.T) (*Client, *manager.Manager) {
	t.Helper()
	mgr, err := manager.NewManager(&manager.Config{NodeID: "client-test", DataDir: t.TempDir(), Standalone: true})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Shutdown() })

	s := api.NewServer(mgr, catalog.New(mgr), nil, nil, api.Options{})
	conn := rpctest.Serve(t, func(g *grpc.Server) { s.Register(g) })
	return New(conn, WithTimeout(time.Second)), mgr
}

func TestRoundTrip(t *testing.T) {
	c, mgr := newClient(t)
	ctx := context.Background()

	res, err := mgr.CreateResource(&types.Resource{
		Name: "cep4storage", Type: types.ResourceTypeStorage, Unit: "bytes",
		TotalCapacity: 100, AvailableCapacity: 100, Active: true,
	})
	require.NoError(t, err)
	task, err := mgr.UpsertTask(
		&types.Specification{StartTime: t0, EndTime: t0.Add(time.Hour), Cluster: "CEP4"},
		&types.Task{OTDBID: 500, MomID: 1500, Type: types.TaskTypePipeline, Status: types.TaskStatusScheduled,
			StartTime: t0, EndTime: t0.Add(time.Hour), Cluster: "CEP4"})
	require.NoError(t, err)
	claims, err := mgr.InsertClaims(task.ID, []*types.ClaimRequest{
		{ResourceID: res.ID, StartTime: t0, EndTime: t0.Add(time.Hour), ClaimSize: 40},
	}, types.Owner{Username: "claimd"})
	require.NoError(t, err)

	resources, err := c.GetResources(ctx, types.ResourceFilter{Types: []types.ResourceType{types.ResourceTypeStorage}})
	require.NoError(t, err)
	require.Len(t, resources, 1)

	got, err := c.GetTask(ctx, api.GetTaskRequest{OTDBID: 500})
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)

	gotClaims, err := c.GetClaims(ctx, types.ClaimFilter{TaskIDs: []int{task.ID}})
	require.NoError(t, err)
	require.Len(t, gotClaims, 1)
	assert.Equal(t, claims[0].ID, gotClaims[0].ID)

	claimable, err := c.GetClaimableCapacity(ctx, res.ID, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(60), claimable)

	overlapping, err := c.GetOverlappingClaims(ctx, claims[0].ID)
	require.NoError(t, err)
	assert.Empty(t, overlapping)

	info, err := c.GetClusterInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "client-test", info.NodeID)

	require.NoError(t, c.DeleteSpecification(ctx, task.SpecificationID))
	_, err = c.GetTask(ctx, api.GetTaskRequest{ID: task.ID})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestAssignmentDisabled(t *testing.T) {
	c, _ := newClient(t)

	_, err := c.DoAssignment(context.Background(), &types.SpecificationTree{OTDBID: 1}, true)
	require.Error(t, err)
	assert.Equal(t, codes.Unimplemented, status.Code(errors.Cause(err)))
}

func TestReadsRetryTransientErrors(t *testing.T) {
	var calls int32
	conn := rpctest.Serve(t, func(g *grpc.Server) {
		g.RegisterService(&grpc.ServiceDesc{
			ServiceName: api.ServiceName,
			HandlerType: (*interface{})(nil),
			Methods: []grpc.MethodDesc{
				rpc.Unary(api.ServiceName, "GetTasks", func(ctx context.Context, _ interface{}, _ *api.GetTasksRequest) (interface{}, error) {
					if atomic.AddInt32(&calls, 1) < 3 {
						return nil, status.Error(codes.Unavailable, "leader changing")
					}
					return &api.TasksResponse{Tasks: []*types.Task{{ID: 1}}}, nil
				}),
				rpc.Unary(api.ServiceName, "DeleteSpecification", func(ctx context.Context, _ interface{}, _ *api.DeleteSpecificationRequest) (interface{}, error) {
					atomic.AddInt32(&calls, 1)
					return nil, status.Error(codes.Unavailable, "leader changing")
				}),
			},
		}, struct{}{})
	})
	c := New(conn, WithRetry(rpc.NewRetryPolicy(3, time.Millisecond, 5*time.Millisecond)))
	ctx := context.Background()

	tasks, err := c.GetTasks(ctx, types.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))

	atomic.StoreInt32(&calls, 0)
	err = c.DeleteSpecification(ctx, 1)
	assert.True(t, types.IsTransient(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

var _ manager.ClusterJoiner = (*Client)(nil)
