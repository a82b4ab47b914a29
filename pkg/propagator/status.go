package propagator

import (
	"context"
	"time"

	"github.com/cuemby/claimd/pkg/events"
	"github.com/cuemby/claimd/pkg/external"
	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/cuemby/claimd/pkg/shift"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// minRunTime is the shortest window a finished task keeps
const minRunTime = time.Minute

// TaskEvent is a status change reported by the task control system
type TaskEvent struct {
	Kind   types.TaskStatus `json:"state"`
	OTDBID int              `json:"tree_id"`
	Time   time.Time        `json:"time_of_change"`
}

// Store is the RADB surface the propagators work against, implemented by
// *manager.Manager
type Store interface {
	shift.Store
	GetTask(id int) (*types.Task, error)
	GetTaskByOTDBID(otdbID int) (*types.Task, error)
	SetTaskStatus(taskID int, status types.TaskStatus) (*types.Task, error)
	GetClaims(filter types.ClaimFilter) ([]*types.ResourceClaim, error)
	GetResource(id int) (*types.Resource, error)
	Publish(event *events.Event)
}

type statusHandler func(ctx context.Context, task *types.Task, ev TaskEvent) error

// StatusPropagator applies task control status changes to the task store.
// The status is always stored; a handler per kind then adjusts the task's
// window and claims.
type StatusPropagator struct {
	store    Store
	shifter  *shift.Shifter
	control  external.TaskControl
	now      func() time.Time
	handlers map[types.TaskStatus]statusHandler
	logger   zerolog.Logger
}

// NewStatusPropagator creates a status propagator
func NewStatusPropagator(store Store, shifter *shift.Shifter, control external.TaskControl) *StatusPropagator {
	if control == nil {
		control = external.NopTaskControl{}
	}
	p := &StatusPropagator{
		store:   store,
		shifter: shifter,
		control: control,
		now:     time.Now,
		logger:  log.WithComponent("propagator").With().Str("direction", "inbound").Logger(),
	}
	p.handlers = map[types.TaskStatus]statusHandler{
		types.TaskStatusQueued:     p.started,
		types.TaskStatusActive:     p.started,
		types.TaskStatusCompleting: p.ended,
		types.TaskStatusFinished:   p.ended,
		types.TaskStatusAborted:    p.ended,
		types.TaskStatusApproved:   p.released,
		types.TaskStatusOnHold:     p.released,
		types.TaskStatusPrepared:   p.released,
		types.TaskStatusObsolete:   p.released,
		types.TaskStatusError:      p.released,
	}
	return p
}

// Handle applies one event. Events for unknown trees return ErrNotFound.
func (p *StatusPropagator) Handle(ctx context.Context, ev TaskEvent) error {
	if !ev.Kind.IsValid() {
		return types.NewValidationError("unknown task status %q", ev.Kind)
	}
	if ev.Time.IsZero() {
		ev.Time = p.now()
	}
	logger := p.logger.With().Int("otdb_id", ev.OTDBID).Str("status", string(ev.Kind)).Logger()

	task, err := p.store.GetTaskByOTDBID(ev.OTDBID)
	if err != nil {
		logger.Debug().Err(err).Msg("Ignoring status event")
		return err
	}

	id := task.ID
	logger = logger.With().Int("task_id", id).Logger()
	if task.Status != ev.Kind && !types.CanTransition(task.Status, ev.Kind) {
		// task control is the record of truth for execution; apply anyway
		logger.Warn().Str("from", string(task.Status)).Msg("Unexpected status transition")
	}
	task, err = p.store.SetTaskStatus(id, ev.Kind)
	if err != nil {
		metrics.PropagationsTotal.WithLabelValues("inbound", "error").Inc()
		return errors.Wrapf(err, "failed to set status of task %d", id)
	}

	if handler, ok := p.handlers[ev.Kind]; ok {
		if err := handler(ctx, task, ev); err != nil {
			logger.Error().Err(err).Msg("Failed to apply status change")
			metrics.PropagationsTotal.WithLabelValues("inbound", "error").Inc()
			return err
		}
	}

	if current, err := p.store.GetTask(id); err == nil {
		p.store.Publish(events.TaskEvent(events.EventTaskStatusChanged, current, ""))
	}
	logger.Info().Msg("Task status propagated")
	metrics.PropagationsTotal.WithLabelValues("inbound", "success").Inc()
	return nil
}

// started moves a pipeline that starts running to begin after its
// predecessors and no earlier than the reported time, then pushes its
// successors back if they now start too early
func (p *StatusPropagator) started(ctx context.Context, task *types.Task, ev TaskEvent) error {
	if !task.IsPipeline() {
		return nil
	}
	start := ev.Time
	for _, id := range task.PredecessorIDs {
		pred, err := p.store.GetTask(id)
		if err != nil {
			return errors.Wrapf(err, "failed to load predecessor %d", id)
		}
		if pred.EndTime.After(start) {
			start = pred.EndTime
		}
	}

	moved, err := p.shifter.Move(task, start)
	if err != nil {
		return err
	}
	return p.cascade(moved)
}

// cascade shifts every successor that starts before its predecessor ends,
// breadth first, visiting each task once
func (p *StatusPropagator) cascade(root *types.Task) error {
	visited := map[int]bool{root.ID: true}
	queue := []*types.Task{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, id := range cur.SuccessorIDs {
			if visited[id] {
				continue
			}
			visited[id] = true
			succ, err := p.store.GetTask(id)
			if err != nil {
				return errors.Wrapf(err, "failed to load successor %d", id)
			}
			if succ.Status.IsRunning() || succ.Status.IsFinal() || !succ.StartTime.Before(cur.EndTime) {
				continue
			}
			moved, err := p.shifter.Move(succ, cur.EndTime)
			if err != nil {
				return errors.Wrapf(err, "failed to shift successor %d", id)
			}
			queue = append(queue, moved)
		}
	}
	return nil
}

// ended clamps the end of a finished task to the earlier of now and the
// reported stop time, never at or before its start
func (p *StatusPropagator) ended(ctx context.Context, task *types.Task, ev TaskEvent) error {
	end := p.now()
	info, err := p.control.GetTreeInfo(ctx, task.OTDBID)
	switch {
	case err != nil:
		p.logger.Warn().Err(err).Int("otdb_id", task.OTDBID).Msg("No stop time from task control, using now")
	case !info.StopTime.IsZero() && info.StopTime.Before(end):
		end = info.StopTime
	}
	if !end.After(task.StartTime) {
		end = task.StartTime.Add(minRunTime)
	}
	_, err = p.shifter.Extend(task, end)
	return err
}

// released makes the claims of a task that no longer runs tentative
func (p *StatusPropagator) released(ctx context.Context, task *types.Task, ev TaskEvent) error {
	tentative := types.ClaimStatusTentative
	_, err := p.store.UpdateClaims(types.ClaimFilter{TaskIDs: []int{task.ID}}, types.ClaimUpdate{Status: &tentative})
	if err != nil {
		return errors.Wrapf(err, "failed to release claims of task %d", task.ID)
	}
	return nil
}
