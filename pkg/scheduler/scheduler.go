package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/cuemby/claimd/pkg/estimator"
	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/metrics"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// FailureKind classifies why an allocation failed
type FailureKind string

const (
	FailureNone             FailureKind = ""
	FailureValidation       FailureKind = "validation"
	FailureCapacityConflict FailureKind = "capacity_conflict"
	FailureEstimation       FailureKind = "estimation"
	FailurePropagation      FailureKind = "propagation"
	FailureTransientRPC     FailureKind = "transient_rpc"
)

// Result is the outcome of one allocation attempt. ChangedTasks holds tasks
// other than the scheduled one whose status the attempt changed.
type Result struct {
	Success      bool
	ChangedTasks []*types.Task
	Failure      FailureKind
	Err          error
	Start        time.Time
	End          time.Time
	Claims       []*types.ResourceClaim
}

// Scheduler allocates resources for exactly one task
type Scheduler interface {
	Name() string
	Allocate(ctx context.Context) Result
}

// Store is the claim and task store the schedulers work against,
// implemented by *manager.Manager
type Store interface {
	GetTask(id int) (*types.Task, error)
	UpdateTask(update types.TaskUpdate) (*types.Task, error)
	GetClaims(filter types.ClaimFilter) ([]*types.ResourceClaim, error)
	InsertClaims(taskID int, requests []*types.ClaimRequest, owner types.Owner) ([]*types.ResourceClaim, error)
	UpdateClaims(filter types.ClaimFilter, update types.ClaimUpdate) ([]*types.ResourceClaim, error)
	DeleteClaims(filter types.ClaimFilter) (int, error)
	ClaimableCapacity(resourceID int, lower, upper time.Time) (int64, error)
	GetOverlappingClaims(claimID int) ([]*types.ResourceClaim, error)
}

// Catalog selects candidate resources, implemented by *catalog.Catalog
type Catalog interface {
	CandidatesFor(ctx context.Context, cluster string, typ types.ResourceType) ([]*types.Resource, error)
}

// Request names the task to schedule and its validated estimates
type Request struct {
	TaskID    int
	Estimates []estimator.Estimate
	Owner     types.Owner
}

// Classify maps an error onto a FailureKind
func Classify(err error) FailureKind {
	var estimation *types.EstimationError
	var propagation *types.PropagationError
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrNotFound):
		return FailureValidation
	case errors.As(err, &estimation):
		return FailureEstimation
	case errors.As(err, &propagation):
		return FailurePropagation
	default:
		return FailureTransientRPC
	}
}

func failed(err error) Result {
	return Result{Failure: Classify(err), Err: err}
}

func conflicted(start, end time.Time, claims []*types.ResourceClaim) Result {
	return Result{
		Failure: FailureCapacityConflict,
		Err:     errors.New("one or more claims are in conflict"),
		Start:   start,
		End:     end,
		Claims:  claims,
	}
}

// base holds what every scheduler shares: the stores, the request and the
// bookkeeping around one attempt
type base struct {
	name    string
	store   Store
	catalog Catalog
	req     Request
	logger  zerolog.Logger
}

func newBase(name string, store Store, catalog Catalog, req Request) base {
	return base{
		name:    name,
		store:   store,
		catalog: catalog,
		req:     req,
		logger:  log.WithComponent("scheduler").With().Str("scheduler", name).Int("task_id", req.TaskID).Logger(),
	}
}

func (b *base) Name() string {
	return b.name
}

// run opens the unit of work, runs fn and releases the unit whatever the
// outcome
func (b *base) run(ctx context.Context, keepConflicts bool, fn func(u *unit) Result) Result {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.SchedulingLatency, b.name)

	u, err := openUnit(ctx, b.store, b.req, keepConflicts)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to open unit of work")
		metrics.ScheduleAttempts.WithLabelValues(b.name, string(Classify(err))).Inc()
		return failed(err)
	}

	result := fn(u)
	if releaseErr := u.release(result.Success); releaseErr != nil {
		b.logger.Warn().Err(releaseErr).Msg("Failed to release claims of failed attempt")
	}

	outcome := "success"
	if !result.Success {
		outcome = string(result.Failure)
		b.logger.Info().Str("failure", outcome).Err(result.Err).Msg("Allocation failed")
	} else {
		b.logger.Info().Time("start", result.Start).Time("end", result.End).Msg("Allocation succeeded")
	}
	metrics.ScheduleAttempts.WithLabelValues(b.name, outcome).Inc()
	return result
}

// try plans and inserts all claims for [start, end). conflicts lists the
// inserted claims that landed in conflict.
func (b *base) try(ctx context.Context, u *unit, start, end time.Time) (claims, conflicts []*types.ResourceClaim, err error) {
	requests, err := b.plan(ctx, u.task, start, end)
	if err != nil {
		return nil, nil, err
	}
	claims, err = u.insert(requests)
	if err != nil {
		return nil, nil, err
	}
	for _, c := range claims {
		if c.Status != types.ClaimStatusClaimed {
			conflicts = append(conflicts, c)
		}
	}
	return claims, conflicts, nil
}

// plan maps every estimate copy and resource type onto a candidate
// resource. Each need goes to the candidate with the greatest claimable
// capacity left after the needs already planned in this batch; when nothing
// fits the best candidate is still chosen so the conflict is recorded.
func (b *base) plan(ctx context.Context, task *types.Task, start, end time.Time) ([]*types.ClaimRequest, error) {
	if err := types.ValidateInterval(start, end); err != nil {
		return nil, err
	}

	candidates := make(map[types.ResourceType][]*types.Resource)
	claimable := make(map[int]int64)
	for _, e := range b.req.Estimates {
		for _, typ := range e.Types() {
			if _, ok := candidates[typ]; ok {
				continue
			}
			resources, err := b.catalog.CandidatesFor(ctx, task.Cluster, typ)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to find %s resources", typ)
			}
			if len(resources) == 0 {
				return nil, types.NewValidationError("no active %s resource in cluster %q", typ, task.Cluster)
			}
			for _, r := range resources {
				capacity, err := b.store.ClaimableCapacity(r.ID, start, end)
				if err != nil {
					return nil, errors.Wrapf(err, "failed to get claimable capacity of resource %d", r.ID)
				}
				claimable[r.ID] = capacity
			}
			candidates[typ] = resources
		}
	}

	var requests []*types.ClaimRequest
	for _, e := range b.req.Estimates {
		for n := 0; n < e.Count(); n++ {
			for _, typ := range e.Types() {
				size := e.ResourceTypes[typ]
				res := pick(candidates[typ], claimable)
				claimable[res.ID] -= size
				req := &types.ClaimRequest{
					ResourceID: res.ID,
					StartTime:  start,
					EndTime:    end,
					ClaimSize:  size,
				}
				if typ == types.ResourceTypeStorage {
					req.Properties = e.Properties()
				}
				requests = append(requests, req)
			}
		}
	}
	return requests, nil
}

// pick returns the candidate with the most claimable capacity; ties go to
// the lowest id
func pick(resources []*types.Resource, claimable map[int]int64) *types.Resource {
	sorted := append([]*types.Resource(nil), resources...)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := claimable[sorted[i].ID], claimable[sorted[j].ID]
		if ci != cj {
			return ci > cj
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0]
}
