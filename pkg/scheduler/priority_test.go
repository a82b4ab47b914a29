package scheduler

import (
	"context"
	"testing"

	"github.com/cuemby/claimd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityRank(t *testing.T) {
	cfg := DefaultPriorityConfig()
	obs := &types.Task{Type: types.TaskTypeObservation}
	pipe := &types.Task{Type: types.TaskTypePipeline, Priority: 9}
	pipeLow := &types.Task{Type: types.TaskTypePipeline, Priority: 1}

	assert.True(t, cfg.rank(pipe).less(cfg.rank(obs)))
	assert.True(t, cfg.rank(pipeLow).less(cfg.rank(pipe)))
	assert.False(t, cfg.rank(obs).less(cfg.rank(obs)))
}

func TestPriorityBumpsScheduledTask(t *testing.T) {
	e := newEnv(t, 100)
	victim := e.task(t, types.TaskTypePipeline, types.TaskStatusScheduled, at(0), at(60), 0)
	e.occupy(t, victim, at(0), at(60), 80)
	task := e.task(t, types.TaskTypeObservation, types.TaskStatusPrescheduled, at(0), at(60), 0)

	result := NewPriority(e.mgr, e.catalog, forTask(storageNeed(50), task), DefaultPriorityConfig()).Allocate(context.Background())
	require.True(t, result.Success, "failure: %v", result.Err)
	require.Len(t, result.ChangedTasks, 1)
	assert.Equal(t, victim.ID, result.ChangedTasks[0].ID)
	assert.Equal(t, types.TaskStatusApproved, result.ChangedTasks[0].Status)
	assert.Empty(t, e.claims(t, victim))
}

func TestPriorityAbortsRunningTask(t *testing.T) {
	e := newEnv(t, 100)
	victim := e.task(t, types.TaskTypePipeline, types.TaskStatusQueued, at(-30), at(60), 0)
	e.occupy(t, victim, at(-30), at(60), 80)
	task := e.task(t, types.TaskTypeObservation, types.TaskStatusPrescheduled, at(0), at(60), 0)

	result := NewPriority(e.mgr, e.catalog, forTask(storageNeed(50), task), DefaultPriorityConfig()).Allocate(context.Background())
	require.True(t, result.Success, "failure: %v", result.Err)
	require.Len(t, result.ChangedTasks, 1)

	aborted := e.reload(t, victim)
	assert.Equal(t, types.TaskStatusAborted, aborted.Status)
	assert.Equal(t, at(0), aborted.EndTime)

	claims := e.claims(t, victim)
	require.Len(t, claims, 1)
	assert.Equal(t, at(-30), claims[0].StartTime)
	assert.Equal(t, at(0), claims[0].EndTime)
}

func TestPriorityMinimalBumpsLowestFirst(t *testing.T) {
	e := newEnv(t, 100)
	low := e.task(t, types.TaskTypePipeline, types.TaskStatusScheduled, at(0), at(60), 1)
	e.occupy(t, low, at(0), at(60), 50)
	high := e.task(t, types.TaskTypePipeline, types.TaskStatusScheduled, at(0), at(60), 2)
	e.occupy(t, high, at(0), at(60), 50)
	task := e.task(t, types.TaskTypeObservation, types.TaskStatusPrescheduled, at(0), at(60), 0)

	result := NewPriority(e.mgr, e.catalog, forTask(storageNeed(50), task), DefaultPriorityConfig()).Allocate(context.Background())
	require.True(t, result.Success)
	require.Len(t, result.ChangedTasks, 1)
	assert.Equal(t, low.ID, result.ChangedTasks[0].ID)
	assert.Equal(t, types.TaskStatusScheduled, e.reload(t, high).Status)
}

func TestPriorityBumpAll(t *testing.T) {
	e := newEnv(t, 100)
	low := e.task(t, types.TaskTypePipeline, types.TaskStatusScheduled, at(0), at(60), 1)
	e.occupy(t, low, at(0), at(60), 50)
	high := e.task(t, types.TaskTypePipeline, types.TaskStatusScheduled, at(0), at(60), 2)
	e.occupy(t, high, at(0), at(60), 50)
	task := e.task(t, types.TaskTypeObservation, types.TaskStatusPrescheduled, at(0), at(60), 0)

	cfg := DefaultPriorityConfig()
	cfg.Policy = BumpAll
	result := NewPriority(e.mgr, e.catalog, forTask(storageNeed(50), task), cfg).Allocate(context.Background())
	require.True(t, result.Success)
	assert.Len(t, result.ChangedTasks, 2)
	assert.Equal(t, types.TaskStatusApproved, e.reload(t, high).Status)
}

func TestPriorityCannotBumpHigherPriority(t *testing.T) {
	e := newEnv(t, 100)
	obs := e.task(t, types.TaskTypeObservation, types.TaskStatusScheduled, at(0), at(60), 0)
	e.occupy(t, obs, at(0), at(60), 100)
	task := e.task(t, types.TaskTypePipeline, types.TaskStatusPrescheduled, at(0), at(60), 0)

	result := NewPriority(e.mgr, e.catalog, forTask(storageNeed(50), task), DefaultPriorityConfig()).Allocate(context.Background())
	assert.False(t, result.Success)
	assert.Equal(t, FailureCapacityConflict, result.Failure)
	assert.Empty(t, result.ChangedTasks)
	assert.Empty(t, e.claims(t, task))
	assert.Equal(t, types.TaskStatusScheduled, e.reload(t, obs).Status)
	assert.Len(t, e.claims(t, obs), 1)
}
