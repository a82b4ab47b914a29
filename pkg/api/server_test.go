package api

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/claimd/pkg/assigner"
	"github.com/cuemby/claimd/pkg/catalog"
	"github.com/cuemby/claimd/pkg/manager"
	"github.com/cuemby/claimd/pkg/propagator"
	"github.com/cuemby/claimd/pkg/rpc"
	"github.com/cuemby/claimd/pkg/rpc/rpctest"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockAssigner struct {
	mock.Mock
}

func (m *mockAssigner) Assign(ctx context.Context, tree *types.SpecificationTree) (*assigner.Outcome, error) {
	args := m.Called(tree.OTDBID)
	o, _ := args.Get(0).(*assigner.Outcome)
	return o, args.Error(1)
}

func (m *mockAssigner) Submit(ctx context.Context, tree *types.SpecificationTree) (string, error) {
	args := m.Called(tree.OTDBID)
	return args.String(0), args.Error(1)
}

type mockStatus struct {
	mock.Mock
}

func (m *mockStatus) Handle(ctx context.Context, ev propagator.TaskEvent) error {
	return m.Called(ev).Error(0)
}

type env struct {
	mgr    *manager.Manager
	conn   *grpc.ClientConn
	assign *mockAssigner
	status *mockStatus
	task   *types.Task
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	mgr, err := manager.NewManager(&manager.Config{NodeID: "api-test", DataDir: t.TempDir(), Standalone: true})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Shutdown() })

	_, err = mgr.CreateResource(&types.Resource{
		Name: "cep4storage", Type: types.ResourceTypeStorage, Unit: "bytes",
		TotalCapacity: 100, AvailableCapacity: 100, Active: true,
	})
	require.NoError(t, err)
	task, err := mgr.UpsertTask(
		&types.Specification{StartTime: t0, EndTime: t0.Add(time.Hour), Cluster: "CEP4"},
		&types.Task{
			OTDBID: 500, MomID: 1500, Type: types.TaskTypePipeline, Status: types.TaskStatusApproved,
			StartTime: t0, EndTime: t0.Add(time.Hour), Cluster: "CEP4",
		})
	require.NoError(t, err)

	e := &env{mgr: mgr, assign: &mockAssigner{}, status: &mockStatus{}, task: task}
	s := NewServer(mgr, catalog.New(mgr), e.assign, e.status, opts)
	interceptors := []grpc.UnaryServerInterceptor{MetricsInterceptor()}
	if opts.ReadOnly {
		interceptors = append(interceptors, ReadOnlyInterceptor())
	}
	e.conn = rpctest.Serve(t, func(g *grpc.Server) { s.Register(g) }, grpc.ChainUnaryInterceptor(interceptors...))
	return e
}

func (e *env) call(method string, req, resp interface{}) error {
	return rpc.Invoke(context.Background(), e.conn, Method(method), req, resp, time.Second)
}

func TestGetResources(t *testing.T) {
	e := newEnv(t, Options{})

	var resp ResourcesResponse
	require.NoError(t, e.call("GetResources", &GetResourcesRequest{}, &resp))
	require.Len(t, resp.Resources, 1)
	assert.Equal(t, "cep4storage", resp.Resources[0].Name)

	available := int64(50)
	var res types.Resource
	require.NoError(t, e.call("UpdateResourceAvailability", &UpdateResourceAvailabilityRequest{
		ResourceID: resp.Resources[0].ID,
		Update:     types.ResourceUpdate{AvailableCapacity: &available},
	}, &res))
	assert.Equal(t, int64(50), res.AvailableCapacity)

	err := e.call("UpdateResourceAvailability", &UpdateResourceAvailabilityRequest{ResourceID: 99}, &res)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestGetTask(t *testing.T) {
	e := newEnv(t, Options{})

	tests := []struct {
		name string
		req  GetTaskRequest
	}{
		{"by id", GetTaskRequest{ID: e.task.ID}},
		{"by otdb id", GetTaskRequest{OTDBID: 500}},
		{"by mom id", GetTaskRequest{MomID: 1500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var task types.Task
			require.NoError(t, e.call("GetTask", &tt.req, &task))
			assert.Equal(t, e.task.ID, task.ID)
		})
	}

	var task types.Task
	err := e.call("GetTask", &GetTaskRequest{}, &task)
	assert.True(t, errors.Is(err, types.ErrValidation))

	err = e.call("GetTask", &GetTaskRequest{OTDBID: 9}, &task)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	var tasks TasksResponse
	require.NoError(t, e.call("GetTasks", &GetTasksRequest{Filter: types.TaskFilter{Cluster: "CEP4"}}, &tasks))
	assert.Len(t, tasks.Tasks, 1)
}

func TestClaimableCapacity(t *testing.T) {
	e := newEnv(t, Options{})

	resources, err := e.mgr.ListResources()
	require.NoError(t, err)

	var resp ClaimableCapacityResponse
	require.NoError(t, e.call("GetClaimableCapacity", &ClaimableCapacityRequest{
		ResourceID: resources[0].ID, Lower: t0, Upper: t0.Add(time.Hour),
	}, &resp))
	assert.Equal(t, int64(100), resp.Claimable)
}

func TestDoAssignment(t *testing.T) {
	e := newEnv(t, Options{})

	e.assign.On("Submit", 600).Return("req-1", nil)
	e.assign.On("Assign", 601).Return(&assigner.Outcome{
		RequestID:    "req-2",
		Task:         &types.Task{ID: 7},
		Status:       types.TaskStatusScheduled,
		Scheduler:    "basic",
		ChangedTasks: []*types.Task{{ID: 3}},
	}, nil)
	e.assign.On("Assign", 602).Return(nil, assigner.ErrPoolStopped)

	var resp AssignmentResponse
	require.NoError(t, e.call("DoAssignment", &DoAssignmentRequest{Tree: &types.SpecificationTree{OTDBID: 600}}, &resp))
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Zero(t, resp.TaskID)

	resp = AssignmentResponse{}
	require.NoError(t, e.call("DoAssignment", &DoAssignmentRequest{Tree: &types.SpecificationTree{OTDBID: 601}, Wait: true}, &resp))
	assert.Equal(t, 7, resp.TaskID)
	assert.Equal(t, types.TaskStatusScheduled, resp.Status)
	assert.Equal(t, []int{3}, resp.ChangedTaskIDs)

	err := e.call("DoAssignment", &DoAssignmentRequest{Tree: &types.SpecificationTree{OTDBID: 602}, Wait: true}, &resp)
	assert.Error(t, err)
	e.assign.AssertExpectations(t)
}

func TestHandleStatusEvent(t *testing.T) {
	e := newEnv(t, Options{})

	ev := propagator.TaskEvent{Kind: types.TaskStatusQueued, OTDBID: 500, Time: t0}
	e.status.On("Handle", ev).Return(nil).Once()
	e.status.On("Handle", mock.Anything).Return(types.NotFound("task", 9))

	require.NoError(t, e.call("HandleStatusEvent", &ev, &rpc.Empty{}))
	err := e.call("HandleStatusEvent", &propagator.TaskEvent{Kind: types.TaskStatusQueued, OTDBID: 9, Time: t0}, &rpc.Empty{})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestDeleteSpecification(t *testing.T) {
	e := newEnv(t, Options{})

	require.NoError(t, e.call("DeleteSpecification", &DeleteSpecificationRequest{SpecificationID: e.task.SpecificationID}, &rpc.Empty{}))
	_, err := e.mgr.GetTask(e.task.ID)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestJoinTokens(t *testing.T) {
	e := newEnv(t, Options{})

	var token JoinTokenResponse
	require.NoError(t, e.call("GenerateJoinToken", &rpc.Empty{}, &token))
	assert.NotEmpty(t, token.Token)
	assert.True(t, token.ExpiresAt.After(time.Now()))

	err := e.call("JoinCluster", &JoinClusterRequest{NodeID: "n2", Address: "127.0.0.1:7947", Token: "bogus"}, &rpc.Empty{})
	require.Error(t, err)
	assert.Equal(t, codes.PermissionDenied, status.Code(errors.Cause(err)))

	var info ClusterInfoResponse
	require.NoError(t, e.call("GetClusterInfo", &rpc.Empty{}, &info))
	assert.Equal(t, "api-test", info.NodeID)
	assert.True(t, info.Leader)
}

func TestReadOnly(t *testing.T) {
	e := newEnv(t, Options{ReadOnly: true})

	var resp ResourcesResponse
	require.NoError(t, e.call("GetResources", &GetResourcesRequest{}, &resp))

	err := e.call("DeleteSpecification", &DeleteSpecificationRequest{SpecificationID: e.task.SpecificationID}, &rpc.Empty{})
	require.Error(t, err)
	assert.Equal(t, codes.PermissionDenied, status.Code(errors.Cause(err)))

	_, err = e.mgr.GetTask(e.task.ID)
	assert.NoError(t, err)
}

func TestIsReadOnlyMethod(t *testing.T) {
	tests := []struct {
		method string
		want   bool
	}{
		{Method("GetTasks"), true},
		{Method("GetClusterInfo"), true},
		{Method("DoAssignment"), false},
		{Method("JoinCluster"), false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isReadOnlyMethod(tt.method), tt.method)
	}
}
