package propagator

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/claimd/pkg/events"
	"github.com/cuemby/claimd/pkg/external"
	"github.com/cuemby/claimd/pkg/manager"
	"github.com/cuemby/claimd/pkg/shift"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

type mockControl struct {
	mock.Mock
}

func (m *mockControl) SetSpecification(ctx context.Context, otdbID int, spec map[string]string) error {
	return m.Called(otdbID, spec).Error(0)
}

func (m *mockControl) SetStatus(ctx context.Context, otdbID int, status types.TaskStatus) error {
	return m.Called(otdbID, status).Error(0)
}

func (m *mockControl) GetTreeInfo(ctx context.Context, otdbID int) (*external.TreeInfo, error) {
	args := m.Called(otdbID)
	info, _ := args.Get(0).(*external.TreeInfo)
	return info, args.Error(1)
}

type env struct {
	mgr     *manager.Manager
	storage *types.Resource
	compute *types.Resource
	control *mockControl
	status  *StatusPropagator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	mgr, err := manager.NewManager(&manager.Config{NodeID: "propagator-test", DataDir: t.TempDir(), Standalone: true})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Shutdown() })

	storage, err := mgr.CreateResource(&types.Resource{Name: "cep4storage", Type: types.ResourceTypeStorage, TotalCapacity: 1000, AvailableCapacity: 1000, Active: true})
	require.NoError(t, err)
	compute, err := mgr.CreateResource(&types.Resource{Name: "cpunode01", Type: types.ResourceTypeCompute, TotalCapacity: 24, AvailableCapacity: 24, Active: true})
	require.NoError(t, err)

	control := &mockControl{}
	status := NewStatusPropagator(mgr, shift.New(mgr, 0), control)
	status.now = func() time.Time { return at(1000) }
	return &env{mgr: mgr, storage: storage, compute: compute, control: control, status: status}
}

// task stores a task with a storage and a compute claim over its window
func (e *env) task(t *testing.T, otdbID int, typ types.TaskType, status types.TaskStatus, start, end time.Time) *types.Task {
	t.Helper()
	task, err := e.mgr.UpsertTask(
		&types.Specification{StartTime: start, EndTime: end, Cluster: "CEP4"},
		&types.Task{OTDBID: otdbID, MomID: otdbID + 1000, Type: typ, Status: status, StartTime: start, EndTime: end, Cluster: "CEP4"})
	require.NoError(t, err)
	_, err = e.mgr.InsertClaims(task.ID, []*types.ClaimRequest{
		{ResourceID: e.storage.ID, StartTime: start, EndTime: end, ClaimSize: 100, Properties: []types.ClaimProperty{
			{Name: "uv_nr_of_files", Value: 244, IO: types.PropertyOutput, SAP: 1},
			{Name: "uv_file_size", Value: 1024, IO: types.PropertyOutput},
		}},
		{ResourceID: e.compute.ID, StartTime: start, EndTime: end, ClaimSize: 4},
	}, types.Owner{})
	require.NoError(t, err)
	return task
}

func (e *env) claim(t *testing.T, taskID int, typ types.ResourceType) *types.ResourceClaim {
	t.Helper()
	claims, err := e.mgr.GetClaims(types.ClaimFilter{TaskIDs: []int{taskID}, ResourceTypes: []types.ResourceType{typ}})
	require.NoError(t, err)
	require.Len(t, claims, 1)
	return claims[0]
}

func (e *env) reload(t *testing.T, id int) *types.Task {
	t.Helper()
	task, err := e.mgr.GetTask(id)
	require.NoError(t, err)
	return task
}

func TestQueuedPipelineFollowsPredecessor(t *testing.T) {
	e := newEnv(t)
	obs := e.task(t, 100, types.TaskTypeObservation, types.TaskStatusFinished, at(0), at(90))
	pipe := e.task(t, 200, types.TaskTypePipeline, types.TaskStatusScheduled, at(60), at(120))
	require.NoError(t, e.mgr.SetPredecessors(pipe.ID, []int{obs.ID}))

	require.NoError(t, e.status.Handle(context.Background(), TaskEvent{Kind: types.TaskStatusQueued, OTDBID: 200, Time: at(30)}))

	got := e.reload(t, pipe.ID)
	assert.Equal(t, types.TaskStatusQueued, got.Status)
	assert.Equal(t, at(90), got.StartTime.UTC())
	assert.Equal(t, at(150), got.EndTime.UTC())
	assert.Equal(t, at(150), e.claim(t, pipe.ID, types.ResourceTypeCompute).EndTime.UTC())
	assert.Equal(t, at(150).Add(shift.DefaultStorageRetention), e.claim(t, pipe.ID, types.ResourceTypeStorage).EndTime.UTC())
}

func TestStartCascadesToSuccessors(t *testing.T) {
	e := newEnv(t)
	first := e.task(t, 200, types.TaskTypePipeline, types.TaskStatusScheduled, at(0), at(60))
	second := e.task(t, 201, types.TaskTypePipeline, types.TaskStatusScheduled, at(60), at(90))
	third := e.task(t, 202, types.TaskTypePipeline, types.TaskStatusScheduled, at(100), at(110))
	require.NoError(t, e.mgr.SetPredecessors(second.ID, []int{first.ID}))
	require.NoError(t, e.mgr.SetPredecessors(third.ID, []int{second.ID}))

	require.NoError(t, e.status.Handle(context.Background(), TaskEvent{Kind: types.TaskStatusActive, OTDBID: 200, Time: at(20)}))

	assert.Equal(t, at(80), e.reload(t, first.ID).EndTime.UTC())
	got := e.reload(t, second.ID)
	assert.Equal(t, at(80), got.StartTime.UTC())
	assert.Equal(t, at(110), got.EndTime.UTC())
	assert.Equal(t, at(80), e.claim(t, second.ID, types.ResourceTypeCompute).StartTime.UTC())
	got = e.reload(t, third.ID)
	assert.Equal(t, at(110), got.StartTime.UTC())
	assert.Equal(t, at(120), got.EndTime.UTC())
}

func TestObservationStartKeepsWindow(t *testing.T) {
	e := newEnv(t)
	obs := e.task(t, 100, types.TaskTypeObservation, types.TaskStatusScheduled, at(0), at(60))

	require.NoError(t, e.status.Handle(context.Background(), TaskEvent{Kind: types.TaskStatusActive, OTDBID: 100, Time: at(5)}))
	assert.Equal(t, at(0), e.reload(t, obs.ID).StartTime.UTC())
}

func TestFinishedClampsEnd(t *testing.T) {
	tests := []struct {
		name    string
		info    *external.TreeInfo
		infoErr error
		start   time.Time
		wantEnd time.Time
	}{
		{"reported stop time", &external.TreeInfo{StopTime: at(45)}, nil, at(0), at(45)},
		{"stop time after now", &external.TreeInfo{StopTime: at(2000)}, nil, at(0), at(1000)},
		{"tree gone", nil, types.NotFound("tree", 100), at(0), at(1000)},
		{"never before start", &external.TreeInfo{StopTime: at(-10)}, nil, at(0), at(0).Add(minRunTime)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			obs := e.task(t, 100, types.TaskTypeObservation, types.TaskStatusActive, tt.start, at(60))
			e.control.On("GetTreeInfo", 100).Return(tt.info, tt.infoErr)

			require.NoError(t, e.status.Handle(context.Background(), TaskEvent{Kind: types.TaskStatusFinished, OTDBID: 100}))

			got := e.reload(t, obs.ID)
			assert.Equal(t, types.TaskStatusFinished, got.Status)
			assert.Equal(t, tt.wantEnd, got.EndTime.UTC())
			assert.Equal(t, tt.wantEnd, e.claim(t, obs.ID, types.ResourceTypeCompute).EndTime.UTC())
		})
	}
}

func TestApprovedMakesClaimsTentative(t *testing.T) {
	e := newEnv(t)
	obs := e.task(t, 100, types.TaskTypeObservation, types.TaskStatusScheduled, at(0), at(60))
	sub := e.mgr.GetEventBroker().Subscribe()

	require.NoError(t, e.status.Handle(context.Background(), TaskEvent{Kind: types.TaskStatusApproved, OTDBID: 100, Time: at(0)}))

	claims, err := e.mgr.GetClaims(types.ClaimFilter{TaskIDs: []int{obs.ID}})
	require.NoError(t, err)
	for _, c := range claims {
		assert.Equal(t, types.ClaimStatusTentative, c.Status)
	}

	select {
	case event := <-sub:
		assert.Equal(t, events.EventTaskStatusChanged, event.Type)
		assert.Equal(t, string(types.TaskStatusApproved), event.Metadata[events.KeyStatus])
	case <-time.After(2 * time.Second):
		t.Fatal("no status notification")
	}
}

func TestHandleRejectsUnknown(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	err := e.status.Handle(ctx, TaskEvent{Kind: "running", OTDBID: 100})
	assert.True(t, errors.Is(err, types.ErrValidation))

	err = e.status.Handle(ctx, TaskEvent{Kind: types.TaskStatusQueued, OTDBID: 404})
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestSpecificationPropagation(t *testing.T) {
	e := newEnv(t)
	obs := e.task(t, 100, types.TaskTypeObservation, types.TaskStatusScheduled, at(0), at(60))
	p := NewSpecificationPropagator(e.mgr, e.control)

	want := map[string]string{
		KeyStartTime: "2026-03-01 12:00:00",
		KeyEndTime:   "2026-03-01 13:00:00",
		KeyCluster:   "CEP4",
		"claims.cep4storage.output.sap1.uv_nr_of_files": "244",
		"claims.cep4storage.output.uv_file_size":         "1024",
	}
	e.control.On("SetSpecification", 100, want).Return(nil).Once()
	e.control.On("SetStatus", 100, types.TaskStatusScheduled).Return(nil).Once()

	require.NoError(t, p.Propagate(context.Background(), obs.ID, types.TaskStatusScheduled))
	e.control.AssertExpectations(t)
	assert.Equal(t, types.TaskStatusScheduled, e.reload(t, obs.ID).Status)
}

func TestSpecificationFailureSetsError(t *testing.T) {
	e := newEnv(t)
	obs := e.task(t, 100, types.TaskTypeObservation, types.TaskStatusScheduled, at(0), at(60))
	p := NewSpecificationPropagator(e.mgr, e.control)

	e.control.On("SetSpecification", 100, mock.Anything).Return(nil)
	e.control.On("SetStatus", 100, types.TaskStatusScheduled).Return(&types.TransientRPCError{Method: "SetStatus", Err: context.DeadlineExceeded})

	err := p.Propagate(context.Background(), obs.ID, types.TaskStatusScheduled)
	require.Error(t, err)
	var propagation *types.PropagationError
	assert.True(t, errors.As(err, &propagation))
	assert.Equal(t, types.TaskStatusError, e.reload(t, obs.ID).Status)
}
