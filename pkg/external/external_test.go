package external

import (
	"context"
	"sync"
	"testing"
	"time"

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

// flakyControl fails the first failures calls of every method
type flakyControl struct {
	mu       sync.Mutex
	failures int
	calls    map[string]int
	specs    map[int]map[string]string
	statuses map[int]types.TaskStatus
}

func newFlakyControl(failures int) *flakyControl {
	return &flakyControl{
		failures: failures,
		calls:    make(map[string]int),
		specs:    make(map[int]map[string]string),
		statuses: make(map[int]types.TaskStatus),
	}
}

func (f *flakyControl) fail(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if f.calls[method] <= f.failures {
		return status.Error(codes.Unavailable, "try again")
	}
	return nil
}

func (f *flakyControl) SetSpecification(ctx context.Context, otdbID int, spec map[string]string) error {
	if err := f.fail("SetSpecification"); err != nil {
		return err
	}
	f.mu.Lock()
	f.specs[otdbID] = spec
	f.mu.Unlock()
	return nil
}

func (f *flakyControl) SetStatus(ctx context.Context, otdbID int, s types.TaskStatus) error {
	if err := f.fail("SetStatus"); err != nil {
		return err
	}
	f.mu.Lock()
	f.statuses[otdbID] = s
	f.mu.Unlock()
	return nil
}

func (f *flakyControl) GetTreeInfo(ctx context.Context, otdbID int) (*TreeInfo, error) {
	if otdbID == 404 {
		return nil, types.NotFound("tree", otdbID)
	}
	return &TreeInfo{OTDBID: otdbID, Status: f.statuses[otdbID]}, nil
}

func fastRetry() Options {
	return Options{Timeout: time.Second, Retry: rpc.NewRetryPolicy(3, time.Millisecond, 5*time.Millisecond)}
}

func TestTaskControlClientRetries(t *testing.T) {
	impl := newFlakyControl(2)
	conn := rpctest.Serve(t, func(s *grpc.Server) { RegisterTaskControlServer(s, impl) })
	client := NewTaskControlClient(conn, fastRetry())
	ctx := context.Background()

	require.NoError(t, client.SetSpecification(ctx, 500, map[string]string{"a": "1"}))
	require.NoError(t, client.SetStatus(ctx, 500, types.TaskStatusScheduled))
	assert.Equal(t, 3, impl.calls["SetSpecification"])
	assert.Equal(t, map[string]string{"a": "1"}, impl.specs[500])

	info, err := client.GetTreeInfo(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusScheduled, info.Status)

	_, err = client.GetTreeInfo(ctx, 404)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestTaskControlClientGivesUp(t *testing.T) {
	impl := newFlakyControl(10)
	conn := rpctest.Serve(t, func(s *grpc.Server) { RegisterTaskControlServer(s, impl) })
	client := NewTaskControlClient(conn, fastRetry())

	err := client.SetStatus(context.Background(), 1, types.TaskStatusError)
	require.Error(t, err)
	assert.True(t, types.IsTransient(err))
	assert.Equal(t, 3, impl.calls["SetStatus"])
}

type countingCleanup struct {
	mu      sync.Mutex
	removes int
}

func (c *countingCleanup) GetDiskUsage(ctx context.Context, otdbID int) (*DiskUsage, error) {
	return &DiskUsage{Found: true, DiskUsage: 42}, nil
}

func (c *countingCleanup) RemoveTaskData(ctx context.Context, otdbID int) (*CleanupResult, error) {
	c.mu.Lock()
	c.removes++
	c.mu.Unlock()
	return nil, status.Error(codes.Unavailable, "busy")
}

func TestCleanupRemoveIsNotRetried(t *testing.T) {
	impl := &countingCleanup{}
	conn := rpctest.Serve(t, func(s *grpc.Server) { RegisterCleanupServer(s, impl) })
	client := NewCleanupClient(conn, fastRetry())
	ctx := context.Background()

	usage, err := client.GetDiskUsage(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(42), usage.DiskUsage)

	_, err = client.RemoveTaskData(ctx, 7)
	require.Error(t, err)
	assert.Equal(t, 1, impl.removes)
}

type staticProjects map[int]*ObjectDetails

func (p staticProjects) GetObjectDetails(ctx context.Context, momID int) (*ObjectDetails, error) {
	d, ok := p[momID]
	if !ok {
		return nil, types.NotFound("mom object", momID)
	}
	return d, nil
}

func (p staticProjects) GetDataProducts(ctx context.Context, momID int) ([]DataProduct, error) {
	return []DataProduct{{Name: "L500_SB000_uv.MS", Size: 1024}}, nil
}

func TestProjectMetadataClient(t *testing.T) {
	impl := staticProjects{12: {MomID: 12, ProjectName: "LC0_001", ObjectName: "target"}}
	conn := rpctest.Serve(t, func(s *grpc.Server) { RegisterProjectMetadataServer(s, impl) })
	client := NewProjectMetadataClient(conn, fastRetry())
	ctx := context.Background()

	details, err := client.GetObjectDetails(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, "LC0_001", details.ProjectName)

	_, err = client.GetObjectDetails(ctx, 13)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	products, err := client.GetDataProducts(ctx, 12)
	require.NoError(t, err)
	assert.Len(t, products, 1)
}

func TestNopCollaborators(t *testing.T) {
	ctx := context.Background()
	info, err := NopTaskControl{}.GetTreeInfo(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, info.OTDBID)

	usage, err := NopCleanup{}.GetDiskUsage(ctx, 1)
	require.NoError(t, err)
	assert.False(t, usage.Found)
}
