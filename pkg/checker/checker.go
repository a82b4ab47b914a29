package checker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/claimd/pkg/events"
	"github.com/cuemby/claimd/pkg/external"
	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/cuemby/claimd/pkg/shift"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Store is the RADB surface the checker works against, implemented by
// *manager.Manager
type Store interface {
	shift.Store
	GetTask(id int) (*types.Task, error)
	ListTasks(filter types.TaskFilter) ([]*types.Task, error)
	DeleteSpecification(specID int) error
	Publish(event *events.Event)
}

// Config tunes the checker
type Config struct {
	// Interval between cycles
	Interval time.Duration
	// LookAhead is how far past now an overrunning pipeline is extended
	LookAhead time.Duration
	// MinStartOffset is the earliest a waiting pipeline may start, from now
	MinStartOffset time.Duration
}

// DefaultConfig returns the default checker configuration
func DefaultConfig() Config {
	return Config{
		Interval:       30 * time.Second,
		LookAhead:      5 * time.Minute,
		MinStartOffset: time.Minute,
	}
}

type pass struct {
	name string
	run  func(ctx context.Context, now time.Time) error
}

// Checker periodically re-validates the live schedule
type Checker struct {
	store    Store
	shifter  *shift.Shifter
	projects external.ProjectMetadata
	control  external.TaskControl
	cfg      Config
	now      func() time.Time
	isLeader func() bool
	passes   []pass
	logger   zerolog.Logger

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a checker. Nil collaborators default to the Nop ones, which
// never report a task as gone.
func New(store Store, shifter *shift.Shifter, projects external.ProjectMetadata, control external.TaskControl, cfg Config) *Checker {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.LookAhead <= 0 {
		cfg.LookAhead = defaults.LookAhead
	}
	if cfg.MinStartOffset < 0 {
		cfg.MinStartOffset = 0
	}
	if projects == nil {
		projects = external.NopProjectMetadata{}
	}
	if control == nil {
		control = external.NopTaskControl{}
	}
	c := &Checker{
		store:    store,
		shifter:  shifter,
		projects: projects,
		control:  control,
		cfg:      cfg,
		now:      time.Now,
		logger:   log.WithComponent("checker"),
		stopCh:   make(chan struct{}),
	}
	c.passes = []pass{
		{"extend_active", c.extendActivePipelines},
		{"forward_fit", c.forwardFitPipelines},
		{"withdrawn_tasks", c.deleteWithdrawnTasks},
		{"missing_reservations", c.deleteMissingReservations},
	}
	return c
}

// SetLeaderCheck makes cycles run only while isLeader reports true. Only
// the raft leader may apply the checker's changes.
func (c *Checker) SetLeaderCheck(isLeader func() bool) {
	c.isLeader = isLeader
}

// Start begins the check loop
func (c *Checker) Start() {
	go c.run()
}

// Stop stops the check loop
func (c *Checker) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *Checker) run() {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-c.stopCh
		cancel()
	}()

	c.logger.Info().Dur("interval", c.cfg.Interval).Msg("Schedule checker started")
	for {
		select {
		case <-ticker.C:
			if c.isLeader != nil && !c.isLeader() {
				c.logger.Debug().Msg("Not the leader, skipping schedule check")
				continue
			}
			if err := c.RunOnce(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("Schedule check finished with errors")
			}
		case <-c.stopCh:
			c.logger.Info().Msg("Schedule checker stopped")
			return
		}
	}
}

// RunOnce performs one cycle. Every pass runs even when an earlier one
// failed; the errors of all passes are returned together.
func (c *Checker) RunOnce(ctx context.Context) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.CheckerDuration)
		metrics.CheckerCyclesTotal.Inc()
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var result *multierror.Error
	for _, p := range c.passes {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
		if err := c.runPass(ctx, p, now); err != nil {
			c.logger.Error().Err(err).Str("pass", p.name).Msg("Schedule check pass failed")
			metrics.CheckerPassErrors.WithLabelValues(p.name).Inc()
			result = multierror.Append(result, errors.Wrap(err, p.name))
		}
	}
	return result.ErrorOrNil()
}

func (c *Checker) runPass(ctx context.Context, p pass, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return p.run(ctx, now)
}

// extendActivePipelines pushes the end of running pipelines that have
// overrun their window to LookAhead past now
func (c *Checker) extendActivePipelines(ctx context.Context, now time.Time) error {
	tasks, err := c.store.ListTasks(types.TaskFilter{
		Types:    []types.TaskType{types.TaskTypePipeline},
		Statuses: []types.TaskStatus{types.TaskStatusActive},
	})
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, t := range tasks {
		if t.EndTime.After(now) {
			continue
		}
		end := now.Add(c.cfg.LookAhead)
		if _, err := c.shifter.Extend(t, end); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "task %d", t.ID))
			continue
		}
		c.logger.Info().Int("task_id", t.ID).Int("otdb_id", t.OTDBID).Time("end", end).Msg("Extended overrunning pipeline")
	}
	return result.ErrorOrNil()
}

// forwardFitPipelines moves waiting pipelines that would start before
// their predecessors end, or before now plus MinStartOffset, and keeps
// moving each past the end of any other pipeline of its cluster it then
// overlaps
func (c *Checker) forwardFitPipelines(ctx context.Context, now time.Time) error {
	tasks, err := c.store.ListTasks(types.TaskFilter{
		Types:    []types.TaskType{types.TaskTypePipeline},
		Statuses: []types.TaskStatus{types.TaskStatusScheduled, types.TaskStatusQueued, types.TaskStatusActive},
	})
	if err != nil {
		return err
	}

	clusters := make(map[string][]*types.Task)
	for _, t := range tasks {
		clusters[t.Cluster] = append(clusters[t.Cluster], t)
	}

	earliest := now.Add(c.cfg.MinStartOffset)
	var result *multierror.Error
	for cluster, pipelines := range clusters {
		sort.Slice(pipelines, func(i, j int) bool {
			if !pipelines[i].StartTime.Equal(pipelines[j].StartTime) {
				return pipelines[i].StartTime.Before(pipelines[j].StartTime)
			}
			return pipelines[i].ID < pipelines[j].ID
		})

		for i, t := range pipelines {
			if t.Status == types.TaskStatusActive {
				continue
			}
			start, err := c.minStart(t, earliest)
			if err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "task %d", t.ID))
				continue
			}
			if !t.StartTime.Before(start) {
				continue
			}
			start = fit(pipelines, t, start)

			moved, err := c.shifter.Move(t, start)
			if err != nil {
				result = multierror.Append(result, errors.Wrapf(err, "task %d", t.ID))
				continue
			}
			pipelines[i] = moved
			c.logger.Info().
				Str("cluster", cluster).
				Int("task_id", t.ID).
				Int("otdb_id", t.OTDBID).
				Time("start", moved.StartTime).
				Msg("Moved waiting pipeline forward")
		}
	}
	return result.ErrorOrNil()
}

// minStart is the later of earliest and the end of t's predecessors
func (c *Checker) minStart(t *types.Task, earliest time.Time) (time.Time, error) {
	start := earliest
	for _, id := range t.PredecessorIDs {
		pred, err := c.store.GetTask(id)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "failed to load predecessor %d", id)
		}
		if pred.EndTime.After(start) {
			start = pred.EndTime
		}
	}
	return start, nil
}

// fit advances start past every other pipeline that t, moved to start,
// would overlap. Each step ends after a blocker's end, so no blocker is
// met twice.
func fit(pipelines []*types.Task, t *types.Task, start time.Time) time.Time {
	duration := t.Duration()
	for {
		end := start.Add(duration)
		moved := false
		for _, o := range pipelines {
			if o.ID == t.ID {
				continue
			}
			if o.StartTime.Before(end) && start.Before(o.EndTime) {
				start = o.EndTime
				end = start.Add(duration)
				moved = true
			}
		}
		if !moved {
			return start
		}
	}
}

// deleteWithdrawnTasks deletes tasks whose project metadata object no
// longer exists
func (c *Checker) deleteWithdrawnTasks(ctx context.Context, now time.Time) error {
	tasks, err := c.store.ListTasks(types.TaskFilter{Statuses: waitingStatuses()})
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, t := range tasks {
		if t.MomID <= 0 {
			continue
		}
		_, err := c.projects.GetObjectDetails(ctx, t.MomID)
		if err == nil {
			continue
		}
		if !errors.Is(err, types.ErrNotFound) {
			result = multierror.Append(result, errors.Wrapf(err, "task %d", t.ID))
			continue
		}
		if err := c.delete(t, "object withdrawn from project"); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// deleteMissingReservations deletes reservations whose task control tree
// no longer exists
func (c *Checker) deleteMissingReservations(ctx context.Context, now time.Time) error {
	tasks, err := c.store.ListTasks(types.TaskFilter{Types: []types.TaskType{types.TaskTypeReservation}})
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, t := range tasks {
		if t.Status == types.TaskStatusObsolete {
			continue
		}
		_, err := c.control.GetTreeInfo(ctx, t.OTDBID)
		if err == nil {
			continue
		}
		if !errors.Is(err, types.ErrNotFound) {
			result = multierror.Append(result, errors.Wrapf(err, "task %d", t.ID))
			continue
		}
		if err := c.delete(t, "reservation tree no longer exists"); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (c *Checker) delete(t *types.Task, reason string) error {
	if err := c.store.DeleteSpecification(t.SpecificationID); err != nil {
		return errors.Wrapf(err, "failed to delete task %d", t.ID)
	}
	c.logger.Info().Int("task_id", t.ID).Int("otdb_id", t.OTDBID).Int("mom_id", t.MomID).Str("reason", reason).Msg("Deleted task")
	c.store.Publish(events.TaskEvent(events.EventTaskDeleted, t, reason))
	return nil
}

// waitingStatuses are the statuses of tasks that have not started running
func waitingStatuses() []types.TaskStatus {
	var result []types.TaskStatus
	for _, s := range types.AllTaskStatuses {
		if !s.IsRunning() && !s.IsFinal() {
			result = append(result, s)
		}
	}
	return result
}
