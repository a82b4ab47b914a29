package scheduler

import (
	"context"

	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
)

// unit is one scheduling attempt. Opening it snapshots the task and removes
// the task's previous claims; releasing a failed attempt deletes the claims
// it inserted unless conflicts are kept for diagnosis.
type unit struct {
	store         Store
	req           Request
	task          *types.Task
	inserted      []int
	keepConflicts bool
}

func openUnit(ctx context.Context, store Store, req Request, keepConflicts bool) (*unit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	task, err := store.GetTask(req.TaskID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load task")
	}
	if err := types.ValidateInterval(task.StartTime, task.EndTime); err != nil {
		return nil, err
	}
	if _, err := store.DeleteClaims(types.ClaimFilter{TaskIDs: []int{task.ID}}); err != nil {
		return nil, errors.Wrap(err, "failed to remove previous claims")
	}
	return &unit{store: store, req: req, task: task, keepConflicts: keepConflicts}, nil
}

func (u *unit) insert(requests []*types.ClaimRequest) ([]*types.ResourceClaim, error) {
	claims, err := u.store.InsertClaims(u.task.ID, requests, u.req.Owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert claims")
	}
	for _, c := range claims {
		u.inserted = append(u.inserted, c.ID)
	}
	return claims, nil
}

// discard deletes every claim inserted so far
func (u *unit) discard() error {
	if len(u.inserted) == 0 {
		return nil
	}
	_, err := u.store.DeleteClaims(types.ClaimFilter{IDs: u.inserted})
	u.inserted = nil
	return err
}

func (u *unit) release(success bool) error {
	if success || u.keepConflicts {
		return nil
	}
	return u.discard()
}
