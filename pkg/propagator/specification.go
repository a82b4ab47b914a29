package propagator

import (
	"context"
	"fmt"
	"strconv"

	"github.com/cuemby/claimd/pkg/events"
	"github.com/cuemby/claimd/pkg/external"
	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
)

// Specification keys describing the task window
const (
	KeyStartTime = "task.starttime"
	KeyEndTime   = "task.endtime"
	KeyCluster   = "task.cluster"

	timeLayout = "2006-01-02 15:04:05"
)

// SpecificationPropagator pushes the allocation of scheduled and
// conflicting tasks to the task control system. A failed push puts the
// task in error.
type SpecificationPropagator struct {
	store   Store
	control external.TaskControl
	logger  zerolog.Logger
}

// NewSpecificationPropagator creates a specification propagator
func NewSpecificationPropagator(store Store, control external.TaskControl) *SpecificationPropagator {
	if control == nil {
		control = external.NopTaskControl{}
	}
	return &SpecificationPropagator{
		store:   store,
		control: control,
		logger:  log.WithComponent("propagator").With().Str("direction", "outbound").Logger(),
	}
}

// Propagate pushes the specification of task id, then status. On failure
// the task is forced to error and every error met is returned.
func (p *SpecificationPropagator) Propagate(ctx context.Context, id int, status types.TaskStatus) error {
	logger := p.logger.With().Int("task_id", id).Str("status", string(status)).Logger()

	task, err := p.store.GetTask(id)
	if err != nil {
		logger.Warn().Err(err).Msg("Task to propagate not found")
		return err
	}
	logger = logger.With().Int("otdb_id", task.OTDBID).Logger()

	spec, err := p.Specification(task)
	if err == nil {
		if err = p.control.SetSpecification(ctx, task.OTDBID, spec); err == nil {
			err = p.control.SetStatus(ctx, task.OTDBID, status)
		}
	}
	if err == nil {
		logger.Info().Int("keys", len(spec)).Msg("Specification propagated")
		metrics.PropagationsTotal.WithLabelValues("outbound", "success").Inc()
		return nil
	}

	var result *multierror.Error
	result = multierror.Append(result, &types.PropagationError{Target: "task control", Err: err})
	metrics.PropagationsTotal.WithLabelValues("outbound", "error").Inc()

	failed, setErr := p.store.SetTaskStatus(task.ID, types.TaskStatusError)
	if setErr != nil {
		result = multierror.Append(result, setErr)
	} else {
		p.store.Publish(events.TaskEvent(events.EventTaskError, failed, err.Error()))
	}
	logger.Error().Err(result).Msg("Specification propagation failed, task set to error")
	return result.ErrorOrNil()
}

// Specification renders the claim properties of task as flat keys
// claims.<resource>.<io>.<property>, summed over the task's claims on the
// same resource. Properties of a subarray pointer are keyed
// sap<N>.<property>.
func (p *SpecificationPropagator) Specification(task *types.Task) (map[string]string, error) {
	claims, err := p.store.GetClaims(types.ClaimFilter{TaskIDs: []int{task.ID}})
	if err != nil {
		return nil, err
	}

	spec := map[string]string{
		KeyStartTime: task.StartTime.UTC().Format(timeLayout),
		KeyEndTime:   task.EndTime.UTC().Format(timeLayout),
		KeyCluster:   task.Cluster,
	}

	var errs *multierror.Error
	names := make(map[int]string)
	totals := make(map[string]int64)
	for _, c := range claims {
		name, ok := names[c.ResourceID]
		if !ok {
			res, err := p.store.GetResource(c.ResourceID)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			name = res.Name
			names[c.ResourceID] = name
		}
		for _, prop := range c.Properties {
			property := prop.Name
			if prop.SAP > 0 {
				property = fmt.Sprintf("sap%d.%s", prop.SAP, prop.Name)
			}
			totals[fmt.Sprintf("claims.%s.%s.%s", name, prop.IO, property)] += prop.Value
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	for k, v := range totals {
		spec[k] = strconv.FormatInt(v, 10)
	}
	return spec, nil
}
