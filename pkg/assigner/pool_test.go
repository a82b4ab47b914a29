package assigner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/claimd/pkg/external"
	"github.com/cuemby/claimd/pkg/propagator"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolAssignsConcurrently(t *testing.T) {
	e := newEnv(t)
	pool := NewPool(e.a, 4, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	// Ten tasks of 10 units fill the resource exactly; the eleventh conflicts.
	var wg sync.WaitGroup
	outcomes := make([]*Outcome, 11)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := pool.Assign(context.Background(), tree(500+i, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(0), at(60)))
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	counts := make(map[types.TaskStatus]int)
	for _, o := range outcomes {
		require.NotNil(t, o)
		counts[o.Status]++
	}
	assert.Equal(t, 10, counts[types.TaskStatusScheduled])
	assert.Equal(t, 1, counts[types.TaskStatusConflict])

	claimable, err := e.mgr.ClaimableCapacity(e.storage.ID, at(0), at(60))
	require.NoError(t, err)
	assert.Equal(t, int64(0), claimable)

	cancel()
	require.NoError(t, <-done)

	_, err = pool.Submit(context.Background(), tree(600, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(0), at(60)))
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPoolSubmit(t *testing.T) {
	e := newEnv(t)
	pool := NewPool(e.a, 1, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	id, err := pool.Submit(context.Background(), tree(500, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(0), at(60)))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		task, err := e.mgr.GetTaskByOTDBID(500)
		return err == nil && task.Status == types.TaskStatusScheduled
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPoolRefusesAfterStop(t *testing.T) {
	e := newEnv(t)
	pool := NewPool(e.a, 2, 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	for i := 0; i < 16; i++ {
		_, err := pool.Submit(context.Background(), tree(600+i, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(0), at(60)))
		require.ErrorIs(t, err, ErrPoolStopped)
	}

	assignCtx, assignCancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer assignCancel()
	_, err := pool.Assign(assignCtx, tree(700, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(0), at(60)))
	assert.ErrorIs(t, err, ErrPoolStopped)
}

// slowControl takes a few milliseconds per call and records the last
// status pushed per tree
type slowControl struct {
	mu       sync.Mutex
	statuses map[int]types.TaskStatus
	specs    map[int]bool
}

func (c *slowControl) SetSpecification(ctx context.Context, otdbID int, spec map[string]string) error {
	time.Sleep(5 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[otdbID] = true
	return nil
}

func (c *slowControl) SetStatus(ctx context.Context, otdbID int, status types.TaskStatus) error {
	time.Sleep(5 * time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[otdbID] = status
	return nil
}

func (c *slowControl) GetTreeInfo(ctx context.Context, otdbID int) (*external.TreeInfo, error) {
	return nil, types.NotFound("tree", otdbID)
}

func TestPoolBurstPushesEveryAllocation(t *testing.T) {
	e := newEnv(t)
	control := &slowControl{statuses: map[int]types.TaskStatus{}, specs: map[int]bool{}}
	a := New(e.mgr, e.a.catalog, e.a.estimator, e.a.cfg,
		WithTaskControl(control),
		WithCleanup(e.cleanup),
		WithPropagator(propagator.NewSpecificationPropagator(e.mgr, control)))
	pool := NewPool(a, 4, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	// Ten fit on the storage resource; the rest conflict.
	const burst = 120
	var wg sync.WaitGroup
	outcomes := make([]*Outcome, burst)
	for i := 0; i < burst; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcome, err := pool.Assign(context.Background(), tree(1000+i, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(0), at(60)))
			assert.NoError(t, err)
			outcomes[i] = outcome
		}(i)
	}
	wg.Wait()

	control.mu.Lock()
	defer control.mu.Unlock()
	counts := make(map[types.TaskStatus]int)
	for i, o := range outcomes {
		require.NotNil(t, o)
		counts[o.Status]++
		otdbID := 1000 + i
		assert.True(t, control.specs[otdbID], fmt.Sprintf("specification of %d not pushed", otdbID))
		assert.Equal(t, o.Status, control.statuses[otdbID], fmt.Sprintf("status of %d", otdbID))

		stored, err := e.mgr.GetTaskByOTDBID(otdbID)
		require.NoError(t, err)
		assert.Equal(t, o.Status, stored.Status)
	}
	assert.Equal(t, 10, counts[types.TaskStatusScheduled])
	assert.Equal(t, burst-10, counts[types.TaskStatusConflict])
}
