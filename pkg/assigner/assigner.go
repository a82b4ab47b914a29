package assigner

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/claimd/pkg/estimator"
	"github.com/cuemby/claimd/pkg/events"
	"github.com/cuemby/claimd/pkg/external"
	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/cuemby/claimd/pkg/scheduler"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Store is the RADB surface the assigner needs, implemented by
// *manager.Manager
type Store interface {
	scheduler.Store
	UpsertTask(spec *types.Specification, task *types.Task) (*types.Task, error)
	SetTaskStatus(taskID int, status types.TaskStatus) (*types.Task, error)
	SetPredecessors(taskID int, predecessorIDs []int) error
	GetTaskByOTDBID(otdbID int) (*types.Task, error)
	Publish(event *events.Event)
}

// Propagator pushes the allocation of a task to the task control system.
// A failed push leaves the task in error.
type Propagator interface {
	Propagate(ctx context.Context, taskID int, status types.TaskStatus) error
}

// Config tunes scheduler selection
type Config struct {
	Priority scheduler.PriorityConfig
	Owner    types.Owner
}

// Outcome reports what one assignment did. Status is the task's final
// status: scheduled, conflict or error after a scheduling attempt, or the
// unscheduled input status when no attempt was made.
type Outcome struct {
	RequestID    string
	Task         *types.Task
	Status       types.TaskStatus
	Scheduler    string
	Failure      scheduler.FailureKind
	Reason       string
	ChangedTasks []*types.Task
}

// Assigner turns a specification tree into a scheduled, conflicting or
// failed task
type Assigner struct {
	store     Store
	catalog   scheduler.Catalog
	estimator estimator.Estimator
	control   external.TaskControl
	projects  external.ProjectMetadata
	cleanup   external.Cleanup
	outbound  Propagator
	cfg       Config
	logger    zerolog.Logger
}

// Option sets a collaborator of the assigner
type Option func(*Assigner)

// WithTaskControl pushes bumped task statuses to control
func WithTaskControl(control external.TaskControl) Option {
	return func(a *Assigner) { a.control = control }
}

// WithProjectMetadata enriches notifications with project names
func WithProjectMetadata(projects external.ProjectMetadata) Option {
	return func(a *Assigner) { a.projects = projects }
}

// WithCleanup removes data of previous runs before a task is scheduled
func WithCleanup(cleanup external.Cleanup) Option {
	return func(a *Assigner) { a.cleanup = cleanup }
}

// WithPropagator pushes the specification of every scheduled or
// conflicting task before the assignment returns
func WithPropagator(p Propagator) Option {
	return func(a *Assigner) { a.outbound = p }
}

// New creates an assigner. Collaborators that are not given default to
// the Nop implementations.
func New(store Store, catalog scheduler.Catalog, est estimator.Estimator, cfg Config, opts ...Option) *Assigner {
	if cfg.Priority.TypeRank == nil {
		cfg.Priority = scheduler.DefaultPriorityConfig()
	}
	a := &Assigner{
		store:     store,
		catalog:   catalog,
		estimator: est,
		control:   external.NopTaskControl{},
		projects:  external.NopProjectMetadata{},
		cleanup:   external.NopCleanup{},
		cfg:       cfg,
		logger:    log.WithComponent("assigner"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// DoAssignment runs one assignment. An error is returned only when the
// tree could not be stored; every attempt past that point ends in an
// Outcome.
func (a *Assigner) DoAssignment(ctx context.Context, tree *types.SpecificationTree) (*Outcome, error) {
	return a.assign(ctx, uuid.New().String(), tree)
}

func (a *Assigner) assign(ctx context.Context, requestID string, tree *types.SpecificationTree) (*Outcome, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.AssignmentDuration)

	if err := validateTree(tree); err != nil {
		metrics.AssignmentsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	logger := a.logger.With().Str("request_id", requestID).Logger()

	task, err := a.upsert(tree)
	if err != nil {
		metrics.AssignmentsTotal.WithLabelValues("rejected").Inc()
		logger.Error().Err(err).Int("otdb_id", tree.OTDBID).Int("mom_id", tree.MomID).Msg("Failed to store task")
		return nil, err
	}
	logger = log.WithTask(logger, task.ID, task.OTDBID, task.MomID)
	outcome := &Outcome{RequestID: requestID, Task: task, Status: task.Status}

	switch task.Status {
	case types.TaskStatusApproved, types.TaskStatusOnHold, types.TaskStatusPrepared:
		logger.Info().Str("status", string(task.Status)).Msg("Task stored without scheduling")
		a.notify(ctx, events.EventTaskApproved, task, "")
		metrics.AssignmentsTotal.WithLabelValues(string(task.Status)).Inc()
		return outcome, nil
	}

	estimates, err := a.estimate(ctx, tree)
	if err != nil {
		logger.Warn().Err(err).Msg("Estimation failed")
		return a.fail(ctx, outcome, scheduler.Classify(err), err), nil
	}

	req := scheduler.Request{TaskID: task.ID, Estimates: estimates, Owner: a.cfg.Owner}
	primary := a.selectScheduler(tree, task, req)
	outcome.Scheduler = primary.Name()
	result := primary.Allocate(ctx)
	outcome.ChangedTasks = result.ChangedTasks

	if !result.Success && result.Failure == scheduler.FailureCapacityConflict {
		logger.Info().Str("scheduler", primary.Name()).Msg("Falling back to basic scheduler to record conflicts")
		fallback := scheduler.NewBasic(a.store, a.catalog, req, true)
		outcome.Scheduler = fallback.Name()
		result = fallback.Allocate(ctx)
	}

	a.propagateChanged(ctx, logger, outcome.ChangedTasks)

	if result.Success {
		outcome = a.succeed(ctx, logger, outcome)
	} else {
		outcome = a.fail(ctx, outcome, result.Failure, result.Err)
	}
	return a.propagate(ctx, logger, outcome), nil
}

func validateTree(tree *types.SpecificationTree) error {
	if tree == nil {
		return types.NewValidationError("missing specification tree")
	}
	if tree.OTDBID <= 0 {
		return types.NewValidationError("otdb id %d must be positive", tree.OTDBID)
	}
	if !tree.TaskType.IsValid() {
		return types.NewValidationError("unknown task type %q", tree.TaskType)
	}
	if !tree.Status.IsValid() {
		return types.NewValidationError("unknown task status %q", tree.Status)
	}
	return types.ValidateInterval(tree.StartTime, tree.EndTime)
}

// upsert stores the specification and task and links the predecessors
// that are already known
func (a *Assigner) upsert(tree *types.SpecificationTree) (*types.Task, error) {
	spec := &types.Specification{
		StartTime: tree.StartTime,
		EndTime:   tree.EndTime,
		Content:   tree.Specification,
		Cluster:   tree.Cluster,
	}
	task, err := a.store.UpsertTask(spec, &types.Task{
		MomID:     tree.MomID,
		OTDBID:    tree.OTDBID,
		Type:      tree.TaskType,
		SubType:   tree.TaskSubType,
		Status:    tree.Status,
		StartTime: tree.StartTime,
		EndTime:   tree.EndTime,
		Cluster:   tree.Cluster,
		Project:   tree.Project,
		Priority:  tree.Priority,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert task")
	}

	var predecessors []int
	for _, p := range tree.Predecessors {
		pred, err := a.store.GetTaskByOTDBID(p.OTDBID)
		if errors.Is(err, types.ErrNotFound) {
			a.logger.Debug().Int("otdb_id", tree.OTDBID).Int("predecessor_otdb_id", p.OTDBID).Msg("Predecessor not known yet")
			continue
		}
		if err != nil {
			return nil, errors.Wrapf(err, "failed to look up predecessor %d", p.OTDBID)
		}
		predecessors = append(predecessors, pred.ID)
	}
	if len(predecessors) > 0 {
		if err := a.store.SetPredecessors(task.ID, predecessors); err != nil {
			return nil, errors.Wrap(err, "failed to link predecessors")
		}
		if task, err = a.store.GetTask(task.ID); err != nil {
			return nil, err
		}
	}
	return task, nil
}

func (a *Assigner) estimate(ctx context.Context, tree *types.SpecificationTree) ([]estimator.Estimate, error) {
	result, err := a.estimator.Estimate(ctx, tree)
	if err != nil {
		var estimation *types.EstimationError
		if errors.As(err, &estimation) || types.IsTransient(err) {
			return nil, err
		}
		return nil, &types.EstimationError{Reasons: []string{err.Error()}}
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return result.Estimates, nil
}

// selectScheduler picks Dwell for triggers with a dwell window and
// Priority otherwise
func (a *Assigner) selectScheduler(tree *types.SpecificationTree, task *types.Task, req scheduler.Request) scheduler.Scheduler {
	if tree.Trigger && tree.Dwell != nil {
		return scheduler.NewDwell(a.store, a.catalog, req, tree.Dwell.MinStartTime, tree.Dwell.MaxStartTime, task.Duration())
	}
	return scheduler.NewPriority(a.store, a.catalog, req, a.cfg.Priority)
}

func (a *Assigner) succeed(ctx context.Context, logger zerolog.Logger, outcome *Outcome) *Outcome {
	a.removePreviousData(ctx, logger, outcome.Task)

	task, err := a.store.SetTaskStatus(outcome.Task.ID, types.TaskStatusScheduled)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to set task scheduled")
		return a.fail(ctx, outcome, scheduler.Classify(err), err)
	}
	outcome.Task = task
	outcome.Status = task.Status
	outcome.Failure = scheduler.FailureNone

	logger.Info().Str("scheduler", outcome.Scheduler).Time("start", task.StartTime).Time("end", task.EndTime).Msg("Task scheduled")
	a.notify(ctx, events.EventTaskScheduled, task, "")
	metrics.AssignmentsTotal.WithLabelValues(string(task.Status)).Inc()
	return outcome
}

// fail leaves the task in conflict when capacity ran out and forces error
// for every other failure
func (a *Assigner) fail(ctx context.Context, outcome *Outcome, kind scheduler.FailureKind, cause error) *Outcome {
	logger := a.logger.With().Str("request_id", outcome.RequestID).Int("task_id", outcome.Task.ID).Logger()
	outcome.Failure = kind
	if cause != nil {
		outcome.Reason = cause.Error()
	}

	status := types.TaskStatusError
	event := events.EventTaskError
	if kind == scheduler.FailureCapacityConflict {
		status = types.TaskStatusConflict
		event = events.EventTaskConflict
	}

	task, err := a.store.SetTaskStatus(outcome.Task.ID, status)
	if err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("Failed to set task status after failed assignment")
	} else {
		outcome.Task = task
	}
	outcome.Status = status

	logger.Warn().Str("status", string(status)).Str("failure", string(kind)).Err(cause).Msg("Assignment failed")
	a.notify(ctx, event, outcome.Task, outcome.Reason)
	metrics.AssignmentsTotal.WithLabelValues(string(status)).Inc()
	return outcome
}

// propagate pushes a scheduled or conflicting task to task control. The
// propagator puts the task in error when the push fails, and the outcome
// reports that.
func (a *Assigner) propagate(ctx context.Context, logger zerolog.Logger, outcome *Outcome) *Outcome {
	if a.outbound == nil {
		return outcome
	}
	if outcome.Status != types.TaskStatusScheduled && outcome.Status != types.TaskStatusConflict {
		return outcome
	}
	err := a.outbound.Propagate(ctx, outcome.Task.ID, outcome.Status)
	if err == nil {
		return outcome
	}
	logger.Warn().Err(err).Str("status", string(outcome.Status)).Msg("Task control rejected allocation")
	outcome.Status = types.TaskStatusError
	outcome.Failure = scheduler.FailurePropagation
	outcome.Reason = err.Error()
	if task, getErr := a.store.GetTask(outcome.Task.ID); getErr == nil {
		outcome.Task = task
	} else {
		outcome.Task.Status = types.TaskStatusError
	}
	return outcome
}

// removePreviousData clears disk data left by an earlier run. Failures are
// logged and never fail the assignment.
func (a *Assigner) removePreviousData(ctx context.Context, logger zerolog.Logger, task *types.Task) {
	usage, err := a.cleanup.GetDiskUsage(ctx, task.OTDBID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to get disk usage of previous run")
		return
	}
	if !usage.Found || usage.DiskUsage <= 0 {
		return
	}
	result, err := a.cleanup.RemoveTaskData(ctx, task.OTDBID)
	if err != nil {
		logger.Warn().Err(err).Int64("disk_usage", usage.DiskUsage).Msg("Failed to remove data of previous run")
		return
	}
	logger.Info().Bool("deleted", result.Deleted).Str("message", result.Message).Int64("disk_usage", usage.DiskUsage).Msg("Removed data of previous run")
}

// propagateChanged announces and pushes the status of tasks bumped by the
// priority scheduler
func (a *Assigner) propagateChanged(ctx context.Context, logger zerolog.Logger, changed []*types.Task) {
	for _, t := range changed {
		a.notify(ctx, events.EventTaskStatusChanged, t, fmt.Sprintf("bumped to %s", t.Status))
		if err := a.control.SetStatus(ctx, t.OTDBID, t.Status); err != nil {
			logger.Error().Err(err).Int("bumped_task_id", t.ID).Int("bumped_otdb_id", t.OTDBID).Msg("Failed to push status of bumped task")
			metrics.PropagationsTotal.WithLabelValues("outbound", "error").Inc()
			continue
		}
		metrics.PropagationsTotal.WithLabelValues("outbound", "success").Inc()
	}
}

// notify publishes a task notification, adding the project name when the
// project metadata system knows it. Publishing never blocks.
func (a *Assigner) notify(ctx context.Context, typ events.EventType, task *types.Task, message string) {
	event := events.TaskEvent(typ, task, message)
	if task.Project != "" {
		event.Metadata[events.KeyProject] = task.Project
	}
	lookupCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if details, err := a.projects.GetObjectDetails(lookupCtx, task.MomID); err == nil && details.ProjectName != "" {
		event.Metadata[events.KeyProject] = details.ProjectName
	} else if err != nil {
		a.logger.Debug().Err(err).Int("mom_id", task.MomID).Msg("No project details for notification")
	}
	a.store.Publish(event)
}
