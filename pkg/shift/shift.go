package shift

import (
	"time"

	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultStorageRetention is how long storage claims outlive their task
const DefaultStorageRetention = 365 * 24 * time.Hour

// Store is the part of the task and claim store a Shifter writes through
type Store interface {
	UpdateTask(update types.TaskUpdate) (*types.Task, error)
	UpdateClaims(filter types.ClaimFilter, update types.ClaimUpdate) ([]*types.ResourceClaim, error)
}

// Shifter changes a task's window and keeps its claims aligned: non-storage
// claims take the new window, storage claims start with the task and end
// retention after it. Capacity is not re-checked.
type Shifter struct {
	store     Store
	retention time.Duration
	logger    zerolog.Logger
}

// New creates a Shifter. A non-positive retention uses
// DefaultStorageRetention.
func New(store Store, retention time.Duration) *Shifter {
	if retention <= 0 {
		retention = DefaultStorageRetention
	}
	return &Shifter{
		store:     store,
		retention: retention,
		logger:    log.WithComponent("shift"),
	}
}

// Retention returns the storage retention window
func (s *Shifter) Retention() time.Duration {
	return s.retention
}

// Move starts task at start and keeps its duration
func (s *Shifter) Move(task *types.Task, start time.Time) (*types.Task, error) {
	return s.SetWindow(task, start, start.Add(task.Duration()))
}

// Extend sets task's end and keeps its start
func (s *Shifter) Extend(task *types.Task, end time.Time) (*types.Task, error) {
	return s.SetWindow(task, task.StartTime, end)
}

// SetWindow moves task to [start, end) and its claims with it
func (s *Shifter) SetWindow(task *types.Task, start, end time.Time) (*types.Task, error) {
	if err := types.ValidateInterval(start, end); err != nil {
		return nil, err
	}
	if start.Equal(task.StartTime) && end.Equal(task.EndTime) {
		return task, nil
	}

	// Claims are updated first; a task whose window moved always has
	// claims that followed it.
	_, err := s.store.UpdateClaims(types.ClaimFilter{
		TaskIDs:      []int{task.ID},
		ExcludeTypes: []types.ResourceType{types.ResourceTypeStorage},
	}, types.ClaimUpdate{StartTime: &start, EndTime: &end})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to move claims of task %d", task.ID)
	}

	retained := end.Add(s.retention)
	_, err = s.store.UpdateClaims(types.ClaimFilter{
		TaskIDs:       []int{task.ID},
		ResourceTypes: []types.ResourceType{types.ResourceTypeStorage},
	}, types.ClaimUpdate{StartTime: &start, EndTime: &retained})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to extend storage claims of task %d", task.ID)
	}

	updated, err := s.store.UpdateTask(types.TaskUpdate{TaskID: task.ID, StartTime: &start, EndTime: &end})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to move task %d", task.ID)
	}

	s.logger.Info().
		Int("task_id", task.ID).
		Int("otdb_id", task.OTDBID).
		Time("from_start", task.StartTime).
		Time("from_end", task.EndTime).
		Time("start", start).
		Time("end", end).
		Msg("Task window shifted")
	return updated, nil
}
