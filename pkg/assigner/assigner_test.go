package assigner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/claimd/pkg/catalog"
	"github.com/cuemby/claimd/pkg/estimator"
	"github.com/cuemby/claimd/pkg/events"
	"github.com/cuemby/claimd/pkg/external"
	"github.com/cuemby/claimd/pkg/manager"
	"github.com/cuemby/claimd/pkg/propagator"
	"github.com/cuemby/claimd/pkg/scheduler"
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

type mockCleanup struct {
	mock.Mock
}

func (m *mockCleanup) GetDiskUsage(ctx context.Context, otdbID int) (*external.DiskUsage, error) {
	args := m.Called(otdbID)
	usage, _ := args.Get(0).(*external.DiskUsage)
	return usage, args.Error(1)
}

func (m *mockCleanup) RemoveTaskData(ctx context.Context, otdbID int) (*external.CleanupResult, error) {
	args := m.Called(otdbID)
	result, _ := args.Get(0).(*external.CleanupResult)
	return result, args.Error(1)
}

type projects map[int]string

func (p projects) GetObjectDetails(ctx context.Context, momID int) (*external.ObjectDetails, error) {
	name, ok := p[momID]
	if !ok {
		return nil, types.NotFound("mom object", momID)
	}
	return &external.ObjectDetails{MomID: momID, ProjectName: name}, nil
}

func (p projects) GetDataProducts(ctx context.Context, momID int) ([]external.DataProduct, error) {
	return nil, nil
}

type env struct {
	mgr     *manager.Manager
	storage *types.Resource
	events  events.Subscriber
	control *mockControl
	cleanup *mockCleanup
	a       *Assigner
}

// newEnv creates a CEP4 cluster with one storage resource of capacity 100.
// Pipelines and observations need 10 units; reservations cannot be
// estimated.
func newEnv(t *testing.T) *env {
	t.Helper()
	mgr, err := manager.NewManager(&manager.Config{NodeID: "assigner-test", DataDir: t.TempDir(), Standalone: true})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Shutdown() })

	group, err := mgr.CreateResourceGroup(&types.ResourceGroup{Name: "CEP4", Type: "cluster"})
	require.NoError(t, err)
	res, err := mgr.CreateResource(&types.Resource{Name: "cep4storage", Type: types.ResourceTypeStorage, TotalCapacity: 100, AvailableCapacity: 100, Active: true})
	require.NoError(t, err)
	require.NoError(t, mgr.AddResourceToGroup(group.ID, res.ID))

	est := estimator.NewStatic([]estimator.Rule{
		{TaskType: types.TaskTypePipeline, Sizes: map[types.ResourceType]int64{types.ResourceTypeStorage: 10}},
		{TaskType: types.TaskTypeObservation, Sizes: map[types.ResourceType]int64{types.ResourceTypeStorage: 10}},
	})

	control := &mockControl{}
	cleanup := &mockCleanup{}
	cleanup.On("GetDiskUsage", mock.Anything).Return(&external.DiskUsage{}, nil).Maybe()

	e := &env{
		mgr:     mgr,
		storage: res,
		events:  mgr.GetEventBroker().Subscribe(),
		control: control,
		cleanup: cleanup,
	}
	e.a = New(mgr, catalog.New(mgr), est, Config{Owner: types.Owner{Username: "claimd"}},
		WithTaskControl(control),
		WithCleanup(cleanup),
		WithProjectMetadata(projects{1500: "LC0_001"}))
	return e
}

func tree(otdbID int, typ types.TaskType, status types.TaskStatus, start, end time.Time) *types.SpecificationTree {
	return &types.SpecificationTree{
		OTDBID:    otdbID,
		MomID:     otdbID + 1000,
		TaskType:  typ,
		Status:    status,
		Cluster:   "CEP4",
		StartTime: start,
		EndTime:   end,
	}
}

// block stores a task of typ holding a claimed claim of size on [start, end)
func (e *env) block(t *testing.T, otdbID int, typ types.TaskType, start, end time.Time, size int64) *types.Task {
	t.Helper()
	task, err := e.mgr.UpsertTask(
		&types.Specification{StartTime: start, EndTime: end, Cluster: "CEP4"},
		&types.Task{OTDBID: otdbID, Type: typ, Status: types.TaskStatusScheduled, StartTime: start, EndTime: end, Cluster: "CEP4"})
	require.NoError(t, err)
	_, err = e.mgr.InsertClaims(task.ID, []*types.ClaimRequest{{ResourceID: e.storage.ID, StartTime: start, EndTime: end, ClaimSize: size}}, types.Owner{})
	require.NoError(t, err)
	return task
}

func waitEvent(t *testing.T, sub events.Subscriber, typ events.EventType) *events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-sub:
			if event.Type == typ {
				return event
			}
		case <-timeout:
			t.Fatalf("no %s event", typ)
			return nil
		}
	}
}

func TestApprovedTaskIsNotScheduled(t *testing.T) {
	e := newEnv(t)

	outcome, err := e.a.DoAssignment(context.Background(), tree(500, types.TaskTypePipeline, types.TaskStatusApproved, at(0), at(60)))
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusApproved, outcome.Status)
	assert.Empty(t, outcome.Scheduler)
	assert.NotEmpty(t, outcome.RequestID)

	event := waitEvent(t, e.events, events.EventTaskApproved)
	assert.Equal(t, "500", event.Metadata[events.KeyOTDBID])
	assert.Equal(t, "LC0_001", event.Metadata[events.KeyProject])

	claims, err := e.mgr.GetClaims(types.ClaimFilter{TaskIDs: []int{outcome.Task.ID}})
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestScheduledWithCleanup(t *testing.T) {
	e := newEnv(t)
	e.cleanup.ExpectedCalls = nil
	e.cleanup.On("GetDiskUsage", 500).Return(&external.DiskUsage{Found: true, DiskUsage: 2048}, nil).Once()
	e.cleanup.On("RemoveTaskData", 500).Return(&external.CleanupResult{Deleted: true}, nil).Once()

	outcome, err := e.a.DoAssignment(context.Background(), tree(500, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(0), at(60)))
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusScheduled, outcome.Status)
	assert.Equal(t, "priority", outcome.Scheduler)
	assert.Equal(t, scheduler.FailureNone, outcome.Failure)

	stored, err := e.mgr.GetTaskByOTDBID(500)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusScheduled, stored.Status)

	claims, err := e.mgr.GetClaims(types.ClaimFilter{TaskIDs: []int{stored.ID}})
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, types.ClaimStatusClaimed, claims[0].Status)
	assert.Equal(t, "claimd", claims[0].Username)

	event := waitEvent(t, e.events, events.EventTaskScheduled)
	assert.Equal(t, "LC0_001", event.Metadata[events.KeyProject])
	e.cleanup.AssertExpectations(t)
}

func TestCleanupFailureIsNotFatal(t *testing.T) {
	e := newEnv(t)
	e.cleanup.ExpectedCalls = nil
	e.cleanup.On("GetDiskUsage", 500).Return(nil, errors.New("du failed"))

	outcome, err := e.a.DoAssignment(context.Background(), tree(500, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(0), at(60)))
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusScheduled, outcome.Status)
	e.cleanup.AssertNotCalled(t, "RemoveTaskData", mock.Anything)
}

func TestEstimationErrorSetsError(t *testing.T) {
	e := newEnv(t)

	outcome, err := e.a.DoAssignment(context.Background(), tree(500, types.TaskTypeReservation, types.TaskStatusPrescheduled, at(0), at(60)))
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusError, outcome.Status)
	assert.Equal(t, scheduler.FailureEstimation, outcome.Failure)
	assert.Contains(t, outcome.Reason, "no estimate rule")
	waitEvent(t, e.events, events.EventTaskError)
}

func TestConflictFallsBackToBasic(t *testing.T) {
	e := newEnv(t)
	e.block(t, 900, types.TaskTypeMaintenance, at(0), at(60), 95)

	outcome, err := e.a.DoAssignment(context.Background(), tree(500, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(0), at(60)))
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusConflict, outcome.Status)
	assert.Equal(t, "basic", outcome.Scheduler)
	assert.Equal(t, scheduler.FailureCapacityConflict, outcome.Failure)

	claims, err := e.mgr.GetClaims(types.ClaimFilter{TaskIDs: []int{outcome.Task.ID}})
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, types.ClaimStatusConflict, claims[0].Status)

	overlapping, err := e.mgr.GetOverlappingTasks(claims[0].ID)
	require.NoError(t, err)
	require.Len(t, overlapping, 1)
	assert.Equal(t, 900, overlapping[0].OTDBID)
	waitEvent(t, e.events, events.EventTaskConflict)
}

func TestBumpedTasksArePushed(t *testing.T) {
	e := newEnv(t)
	blocker := e.block(t, 900, types.TaskTypePipeline, at(0), at(60), 95)
	e.control.On("SetStatus", 900, types.TaskStatusApproved).Return(nil).Once()

	outcome, err := e.a.DoAssignment(context.Background(), tree(500, types.TaskTypeObservation, types.TaskStatusPrescheduled, at(0), at(60)))
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusScheduled, outcome.Status)
	require.Len(t, outcome.ChangedTasks, 1)
	assert.Equal(t, blocker.ID, outcome.ChangedTasks[0].ID)

	event := waitEvent(t, e.events, events.EventTaskStatusChanged)
	assert.Equal(t, "900", event.Metadata[events.KeyOTDBID])
	assert.Equal(t, string(types.TaskStatusApproved), event.Metadata[events.KeyStatus])
	e.control.AssertExpectations(t)
}

func TestTriggerUsesDwell(t *testing.T) {
	e := newEnv(t)
	e.block(t, 900, types.TaskTypeMaintenance, at(0), at(30), 95)

	tr := tree(500, types.TaskTypeObservation, types.TaskStatusPrescheduled, at(0), at(30))
	tr.Trigger = true
	tr.Dwell = &types.DwellWindow{MinStartTime: at(0), MaxStartTime: at(60)}

	outcome, err := e.a.DoAssignment(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, "dwell", outcome.Scheduler)
	assert.Equal(t, types.TaskStatusScheduled, outcome.Status)
	assert.Equal(t, at(30), outcome.Task.StartTime.UTC())
	assert.Equal(t, at(60), outcome.Task.EndTime.UTC())
}

func TestPredecessorsAreLinked(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.a.DoAssignment(ctx, tree(400, types.TaskTypeObservation, types.TaskStatusApproved, at(0), at(60)))
	require.NoError(t, err)

	tr := tree(500, types.TaskTypePipeline, types.TaskStatusApproved, at(60), at(120))
	tr.Predecessors = []*types.SpecificationTree{
		tree(400, types.TaskTypeObservation, types.TaskStatusApproved, at(0), at(60)),
		tree(401, types.TaskTypeObservation, types.TaskStatusApproved, at(0), at(60)),
	}
	outcome, err := e.a.DoAssignment(ctx, tr)
	require.NoError(t, err)

	pred, err := e.mgr.GetTaskByOTDBID(400)
	require.NoError(t, err)
	assert.Equal(t, []int{pred.ID}, outcome.Task.PredecessorIDs)
}

func TestInvalidTreeIsRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		tree *types.SpecificationTree
	}{
		{"nil", nil},
		{"no otdb id", tree(0, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(0), at(60))},
		{"bad type", tree(1, "calibration", types.TaskStatusPrescheduled, at(0), at(60))},
		{"bad status", tree(1, types.TaskTypePipeline, "running", at(0), at(60))},
		{"empty window", tree(1, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(60), at(60))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.a.DoAssignment(ctx, tt.tree)
			assert.True(t, errors.Is(err, types.ErrValidation))
		})
	}
}

func TestPropagationFailureSetsError(t *testing.T) {
	e := newEnv(t)
	e.control.On("SetSpecification", 500, mock.Anything).Return(&types.TransientRPCError{Method: "SetSpecification", Err: context.DeadlineExceeded})
	a := New(e.mgr, e.a.catalog, e.a.estimator, e.a.cfg,
		WithTaskControl(e.control),
		WithCleanup(e.cleanup),
		WithPropagator(propagator.NewSpecificationPropagator(e.mgr, e.control)))

	outcome, err := a.DoAssignment(context.Background(), tree(500, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(0), at(60)))
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusError, outcome.Status)
	assert.Equal(t, scheduler.FailurePropagation, outcome.Failure)
	assert.Equal(t, types.TaskStatusError, outcome.Task.Status)

	stored, err := e.mgr.GetTaskByOTDBID(500)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusError, stored.Status)
	waitEvent(t, e.events, events.EventTaskError)
}

// failingCatalog serves the first calls from the wrapped catalog and
// fails every later one with a timeout
type failingCatalog struct {
	scheduler.Catalog
	calls int32
	after int32
}

func (c *failingCatalog) CandidatesFor(ctx context.Context, cluster string, typ types.ResourceType) ([]*types.Resource, error) {
	if atomic.AddInt32(&c.calls, 1) > c.after {
		return nil, &types.TransientRPCError{Method: "CandidatesFor", Err: context.DeadlineExceeded}
	}
	return c.Catalog.CandidatesFor(ctx, cluster, typ)
}

func TestDwellTransientFailureAfterConflictSetsError(t *testing.T) {
	e := newEnv(t)
	e.block(t, 900, types.TaskTypeMaintenance, at(0), at(30), 95)
	a := New(e.mgr, &failingCatalog{Catalog: e.a.catalog, after: 1}, e.a.estimator, e.a.cfg, WithCleanup(e.cleanup))

	// The first dwell slot conflicts and leaves the task in conflict; the
	// second slot cannot reach the catalog.
	tr := tree(500, types.TaskTypeObservation, types.TaskStatusPrescheduled, at(0), at(30))
	tr.Trigger = true
	tr.Dwell = &types.DwellWindow{MinStartTime: at(0), MaxStartTime: at(60)}

	outcome, err := a.DoAssignment(context.Background(), tr)
	require.NoError(t, err)
	assert.Equal(t, "dwell", outcome.Scheduler)
	assert.Equal(t, scheduler.FailureTransientRPC, outcome.Failure)
	assert.Equal(t, types.TaskStatusError, outcome.Status)

	stored, err := e.mgr.GetTaskByOTDBID(500)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusError, stored.Status)
	waitEvent(t, e.events, events.EventTaskError)
}
