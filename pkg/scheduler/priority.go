package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
)

// BumpPolicy selects how many lower-priority tasks are bumped per round
type BumpPolicy string

const (
	// BumpMinimal bumps the lowest-priority task, one at a time, until the
	// conflict clears
	BumpMinimal BumpPolicy = "minimal"
	// BumpAll bumps every lower-priority overlapping task at once
	BumpAll BumpPolicy = "all"
)

// PriorityConfig orders tasks by TypeRank of their type, then by their own
// priority. Higher wins.
type PriorityConfig struct {
	Policy   BumpPolicy             `yaml:"policy"`
	TypeRank map[types.TaskType]int `yaml:"type_rank"`
}

// DefaultPriorityConfig ranks maintenance and reservations above
// observations, and observations above pipelines
func DefaultPriorityConfig() PriorityConfig {
	return PriorityConfig{
		Policy: BumpMinimal,
		TypeRank: map[types.TaskType]int{
			types.TaskTypeMaintenance: 3,
			types.TaskTypeReservation: 3,
			types.TaskTypeObservation: 2,
			types.TaskTypePipeline:    1,
		},
	}
}

type rank struct {
	typeRank int
	priority int
}

func (r rank) less(o rank) bool {
	if r.typeRank != o.typeRank {
		return r.typeRank < o.typeRank
	}
	return r.priority < o.priority
}

func (c PriorityConfig) rank(t *types.Task) rank {
	return rank{typeRank: c.TypeRank[t.Type], priority: t.Priority}
}

// Priority schedules a task at its fixed window and resolves conflicts by
// bumping lower-priority tasks off the contended resources
type Priority struct {
	base
	cfg PriorityConfig
}

// NewPriority creates a Priority scheduler
func NewPriority(store Store, catalog Catalog, req Request, cfg PriorityConfig) *Priority {
	if cfg.Policy == "" {
		cfg.Policy = BumpMinimal
	}
	return &Priority{
		base: newBase("priority", store, catalog, req),
		cfg:  cfg,
	}
}

// Allocate implements Scheduler. Bumped tasks are returned in ChangedTasks
// whether or not the allocation succeeds in the end.
func (s *Priority) Allocate(ctx context.Context) Result {
	return s.run(ctx, false, func(u *unit) Result {
		start, end := u.task.StartTime, u.task.EndTime
		bumped := make(map[int]bool)
		var changed []*types.Task

		withChanged := func(r Result) Result {
			r.ChangedTasks = changed
			return r
		}

		for {
			if err := ctx.Err(); err != nil {
				return withChanged(failed(err))
			}
			claims, conflicts, err := s.try(ctx, u, start, end)
			if err != nil {
				return withChanged(failed(err))
			}
			if len(conflicts) == 0 {
				return withChanged(Result{Success: true, Start: start, End: end, Claims: claims})
			}

			victims, err := s.victims(u.task, conflicts, bumped)
			if err != nil {
				return withChanged(failed(err))
			}
			if len(victims) == 0 {
				return withChanged(conflicted(start, end, claims))
			}
			if err := u.discard(); err != nil {
				return withChanged(failed(errors.Wrap(err, "failed to discard conflicting claims")))
			}

			if s.cfg.Policy == BumpMinimal {
				victims = victims[:1]
			}
			for _, v := range victims {
				task, err := s.bump(v, start)
				if err != nil {
					return withChanged(failed(errors.Wrapf(err, "failed to bump task %d", v.ID)))
				}
				bumped[v.ID] = true
				changed = append(changed, task)
			}
		}
	})
}

// bumpable statuses hold claimed claims that may be taken away
func bumpable(s types.TaskStatus) bool {
	switch s {
	case types.TaskStatusPrescheduled, types.TaskStatusScheduled, types.TaskStatusQueued, types.TaskStatusActive:
		return true
	}
	return false
}

// victims returns the lower-priority tasks owning claimed claims that
// overlap the conflicts, lowest priority first
func (s *Priority) victims(task *types.Task, conflicts []*types.ResourceClaim, bumped map[int]bool) ([]*types.Task, error) {
	own := s.cfg.rank(task)
	seen := make(map[int]bool)
	var result []*types.Task

	for _, c := range conflicts {
		overlapping, err := s.store.GetOverlappingClaims(c.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get claims overlapping %d", c.ID)
		}
		for _, o := range overlapping {
			if o.Status != types.ClaimStatusClaimed || o.TaskID == task.ID || seen[o.TaskID] || bumped[o.TaskID] {
				continue
			}
			seen[o.TaskID] = true
			other, err := s.store.GetTask(o.TaskID)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to load task %d", o.TaskID)
			}
			if bumpable(other.Status) && s.cfg.rank(other).less(own) {
				result = append(result, other)
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		ri, rj := s.cfg.rank(result[i]), s.cfg.rank(result[j])
		if ri != rj {
			return ri.less(rj)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// bump frees victim's resources from cut onwards. Running tasks are aborted
// and their claims end at cut; other tasks go back to approved and lose
// their claims.
func (s *Priority) bump(victim *types.Task, cut time.Time) (*types.Task, error) {
	if victim.Status == types.TaskStatusQueued || victim.Status == types.TaskStatusActive {
		claims, err := s.store.GetClaims(types.ClaimFilter{TaskIDs: []int{victim.ID}})
		if err != nil {
			return nil, err
		}
		var drop []int
		for _, c := range claims {
			switch {
			case !c.StartTime.Before(cut):
				drop = append(drop, c.ID)
			case c.EndTime.After(cut):
				if _, err := s.store.UpdateClaims(types.ClaimFilter{IDs: []int{c.ID}}, types.ClaimUpdate{EndTime: &cut}); err != nil {
					return nil, err
				}
			}
		}
		if len(drop) > 0 {
			if _, err := s.store.DeleteClaims(types.ClaimFilter{IDs: drop}); err != nil {
				return nil, err
			}
		}

		aborted := types.TaskStatusAborted
		update := types.TaskUpdate{TaskID: victim.ID, Status: &aborted}
		if victim.StartTime.Before(cut) && victim.EndTime.After(cut) {
			update.EndTime = &cut
		}
		task, err := s.store.UpdateTask(update)
		if err != nil {
			return nil, err
		}
		s.logger.Info().Int("bumped_task_id", victim.ID).Time("cut", cut).Msg("Aborted running task")
		metrics.TasksBumped.WithLabelValues(string(aborted)).Inc()
		return task, nil
	}

	if _, err := s.store.DeleteClaims(types.ClaimFilter{TaskIDs: []int{victim.ID}}); err != nil {
		return nil, err
	}
	approved := types.TaskStatusApproved
	task, err := s.store.UpdateTask(types.TaskUpdate{TaskID: victim.ID, Status: &approved})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("bumped_task_id", victim.ID).Msg("Returned task to approved")
	metrics.TasksBumped.WithLabelValues(string(approved)).Inc()
	return task, nil
}
