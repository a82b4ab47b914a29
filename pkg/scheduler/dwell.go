package scheduler

import (
	"context"
	"time"

	"github.com/cuemby/claimd/pkg/conflict"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
)

// Dwell schedules a task of fixed duration at the earliest start in
// [minStart, maxStart] where all claims fit. On conflict it advances the
// probe to the earliest end of a claim blocking the current probe.
type Dwell struct {
	base
	minStart time.Time
	maxStart time.Time
	duration time.Duration
}

// NewDwell creates a Dwell scheduler
func NewDwell(store Store, catalog Catalog, req Request, minStart, maxStart time.Time, duration time.Duration) *Dwell {
	return &Dwell{
		base:     newBase("dwell", store, catalog, req),
		minStart: minStart,
		maxStart: maxStart,
		duration: duration,
	}
}

// Allocate implements Scheduler
func (s *Dwell) Allocate(ctx context.Context) Result {
	return s.run(ctx, false, func(u *unit) Result {
		if s.duration <= 0 {
			return failed(types.NewValidationError("dwell duration must be positive, got %s", s.duration))
		}
		if s.maxStart.Before(s.minStart) {
			return failed(types.NewValidationError("dwell window ends before it starts"))
		}

		probe := s.minStart
		for !probe.After(s.maxStart) {
			if err := ctx.Err(); err != nil {
				return failed(err)
			}
			end := probe.Add(s.duration)
			claims, conflicts, err := s.try(ctx, u, probe, end)
			if err != nil {
				return failed(err)
			}
			if len(conflicts) == 0 {
				task, err := s.store.UpdateTask(types.TaskUpdate{TaskID: u.task.ID, StartTime: &probe, EndTime: &end})
				if err != nil {
					return failed(errors.Wrap(err, "failed to move task to dwell slot"))
				}
				u.task = task
				return Result{Success: true, Start: probe, End: end, Claims: claims}
			}

			next, ok, err := s.nextProbe(u.task.ID, probe, conflicts)
			if err != nil {
				return failed(err)
			}
			if err := u.discard(); err != nil {
				return failed(errors.Wrap(err, "failed to discard conflicting probe"))
			}
			if !ok {
				s.logger.Debug().Time("probe", probe).Msg("No blocking claim ends later; dwell exhausted")
				return conflicted(probe, end, nil)
			}
			s.logger.Debug().Time("probe", probe).Time("next", next).Msg("Dwell probe conflicted")
			probe = next
		}
		return conflicted(probe, probe.Add(s.duration), nil)
	})
}

// nextProbe returns the earliest end, after probe, of the claimed claims of
// other tasks that overlap the conflicting claims
func (s *Dwell) nextProbe(taskID int, probe time.Time, conflicts []*types.ResourceClaim) (time.Time, bool, error) {
	var blocking []*types.ResourceClaim
	for _, c := range conflicts {
		overlapping, err := s.store.GetOverlappingClaims(c.ID)
		if err != nil {
			return time.Time{}, false, errors.Wrapf(err, "failed to get claims overlapping %d", c.ID)
		}
		for _, o := range overlapping {
			if o.TaskID != taskID && o.Status == types.ClaimStatusClaimed {
				blocking = append(blocking, o)
			}
		}
	}
	next, ok := conflict.NextStart(probe, blocking)
	return next, ok, nil
}
