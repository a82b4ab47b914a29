package scheduler

import (
	"context"
)

// Basic schedules a task at its fixed window
type Basic struct {
	base
	keepConflicts bool
}

// NewBasic creates a Basic scheduler. With keepConflicts a failed attempt
// leaves its conflict claims in place and the task in conflict, so an
// operator can see what blocked it.
func NewBasic(store Store, catalog Catalog, req Request, keepConflicts bool) *Basic {
	return &Basic{
		base:          newBase("basic", store, catalog, req),
		keepConflicts: keepConflicts,
	}
}

// Allocate implements Scheduler
func (s *Basic) Allocate(ctx context.Context) Result {
	return s.run(ctx, s.keepConflicts, func(u *unit) Result {
		start, end := u.task.StartTime, u.task.EndTime
		claims, conflicts, err := s.try(ctx, u, start, end)
		if err != nil {
			return failed(err)
		}
		if len(conflicts) > 0 {
			return conflicted(start, end, claims)
		}
		return Result{Success: true, Start: start, End: end, Claims: claims}
	})
}
