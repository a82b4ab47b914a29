package types

import (
	"time"
)

// ResourceType classifies a resource by the kind of capacity it offers
type ResourceType string

const (
	ResourceTypeStorage   ResourceType = "storage"
	ResourceTypeBandwidth ResourceType = "bandwidth"
	ResourceTypeCompute   ResourceType = "compute"
	ResourceTypeRCU       ResourceType = "rcu"
)

// Resource is a typed, capacity-limited unit of the shared pool
type Resource struct {
	ID                int          `json:"id"`
	Name              string       `json:"name"`
	Type              ResourceType `json:"type"`
	Unit              string       `json:"unit"`
	TotalCapacity     int64        `json:"total_capacity"`
	AvailableCapacity int64        `json:"available_capacity"` // total minus permanently reserved
	Active            bool         `json:"active"`
	GroupIDs          []int        `json:"group_ids,omitempty"`
}

// ResourceGroup organizes resources into a tree (per node, per cluster, ...)
type ResourceGroup struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	ParentIDs   []int  `json:"parent_ids,omitempty"`
	ChildIDs    []int  `json:"child_ids,omitempty"`
	ResourceIDs []int  `json:"resource_ids,omitempty"`
}

// ClaimStatus is the allocation state of a single claim
type ClaimStatus string

const (
	ClaimStatusTentative ClaimStatus = "tentative"
	ClaimStatusClaimed   ClaimStatus = "claimed"
	ClaimStatusConflict  ClaimStatus = "conflict"
)

// PropertyIO tells whether a claim property describes consumed or produced data
type PropertyIO string

const (
	PropertyInput  PropertyIO = "input"
	PropertyOutput PropertyIO = "output"
)

// ClaimProperty is a typed annotation on a claim (file counts, sizes, ...)
type ClaimProperty struct {
	Name  string     `json:"name"`
	Value int64      `json:"value"`
	IO    PropertyIO `json:"io"`
	SAP   int        `json:"sap,omitempty"`
}

// ResourceClaim reserves ClaimSize units of a resource for [StartTime, EndTime)
type ResourceClaim struct {
	ID         int             `json:"id"`
	ResourceID int             `json:"resource_id"`
	TaskID     int             `json:"task_id"`
	StartTime  time.Time       `json:"starttime"`
	EndTime    time.Time       `json:"endtime"`
	ClaimSize  int64           `json:"claim_size"`
	Status     ClaimStatus     `json:"status"`
	Username   string          `json:"username,omitempty"`
	UserID     int             `json:"user_id,omitempty"`
	Properties []ClaimProperty `json:"properties,omitempty"`
}

// Owner identifies who inserted a batch of claims
type Owner struct {
	Username string `json:"username"`
	UserID   int    `json:"user_id"`
}

// ClaimRequest asks for a new claim; the claim store decides its status
type ClaimRequest struct {
	ResourceID int             `json:"resource_id"`
	StartTime  time.Time       `json:"starttime"`
	EndTime    time.Time       `json:"endtime"`
	ClaimSize  int64           `json:"claim_size"`
	Properties []ClaimProperty `json:"properties,omitempty"`
}

// TaskType is the kind of schedulable unit
type TaskType string

const (
	TaskTypeObservation TaskType = "observation"
	TaskTypePipeline    TaskType = "pipeline"
	TaskTypeReservation TaskType = "reservation"
	TaskTypeMaintenance TaskType = "maintenance"
)

// Task is the schedulable unit
type Task struct {
	ID              int        `json:"id"`
	MomID           int        `json:"mom_id"`
	OTDBID          int        `json:"otdb_id"`
	Type            TaskType   `json:"type"`
	SubType         string     `json:"subtype,omitempty"`
	Status          TaskStatus `json:"status"`
	StartTime       time.Time  `json:"starttime"`
	EndTime         time.Time  `json:"endtime"`
	Cluster         string     `json:"cluster"`
	Project         string     `json:"project,omitempty"`
	Priority        int        `json:"priority,omitempty"`
	PredecessorIDs  []int      `json:"predecessor_ids,omitempty"`
	SuccessorIDs    []int      `json:"successor_ids,omitempty"`
	SpecificationID int        `json:"specification_id"`
}

// Duration of the task's current time window
func (t *Task) Duration() time.Duration {
	return t.EndTime.Sub(t.StartTime)
}

// IsPipeline reports whether the task is a pipeline
func (t *Task) IsPipeline() bool {
	return t.Type == TaskTypePipeline
}

// Specification is the opaque input description of a task
type Specification struct {
	ID        int               `json:"id"`
	StartTime time.Time         `json:"starttime"`
	EndTime   time.Time         `json:"endtime"`
	Content   map[string]string `json:"content,omitempty"`
	Cluster   string            `json:"cluster"`
}

// SpecificationTree is the assignment input: one task's specification plus
// the trees of its predecessors
type SpecificationTree struct {
	OTDBID        int                  `json:"otdb_id"`
	MomID         int                  `json:"mom_id"`
	TaskType      TaskType             `json:"task_type"`
	TaskSubType   string               `json:"task_subtype,omitempty"`
	Status        TaskStatus           `json:"state"`
	Cluster       string               `json:"cluster"`
	Project       string               `json:"project,omitempty"`
	Priority      int                  `json:"priority,omitempty"`
	StartTime     time.Time            `json:"starttime"`
	EndTime       time.Time            `json:"endtime"`
	Specification map[string]string    `json:"specification,omitempty"`
	Trigger       bool                 `json:"trigger,omitempty"`
	Dwell         *DwellWindow         `json:"dwell,omitempty"`
	Predecessors  []*SpecificationTree `json:"predecessors,omitempty"`
}

// DwellWindow bounds the start time of a triggered task that may float
type DwellWindow struct {
	MinStartTime time.Time `json:"min_starttime"`
	MaxStartTime time.Time `json:"max_starttime"`
}

// Filters

// ResourceFilter selects resources; empty fields match everything
type ResourceFilter struct {
	IDs       []int          `json:"ids,omitempty"`
	Types     []ResourceType `json:"types,omitempty"`
	GroupRoot string         `json:"group_root,omitempty"` // group name; subtree members only
}

// ClaimFilter selects claims; Lower/Upper form an inclusive time window
type ClaimFilter struct {
	IDs           []int          `json:"ids,omitempty"`
	ResourceIDs   []int          `json:"resource_ids,omitempty"`
	TaskIDs       []int          `json:"task_ids,omitempty"`
	Statuses      []ClaimStatus  `json:"statuses,omitempty"`
	ResourceTypes []ResourceType `json:"resource_types,omitempty"`
	ExcludeTypes  []ResourceType `json:"exclude_types,omitempty"`
	Lower         *time.Time     `json:"lower,omitempty"`
	Upper         *time.Time     `json:"upper,omitempty"`
}

// ClaimUpdate is a bulk claim mutation; nil fields are left unchanged
type ClaimUpdate struct {
	StartTime *time.Time   `json:"starttime,omitempty"`
	EndTime   *time.Time   `json:"endtime,omitempty"`
	ClaimSize *int64       `json:"claim_size,omitempty"`
	Status    *ClaimStatus `json:"status,omitempty"`
	// Validate re-checks capacity; claims that no longer fit become conflict
	Validate bool `json:"validate,omitempty"`
}

// TaskFilter selects tasks
type TaskFilter struct {
	IDs      []int        `json:"ids,omitempty"`
	OTDBIDs  []int        `json:"otdb_ids,omitempty"`
	Types    []TaskType   `json:"types,omitempty"`
	Statuses []TaskStatus `json:"statuses,omitempty"`
	Cluster  string       `json:"cluster,omitempty"`
	Lower    *time.Time   `json:"lower,omitempty"`
	Upper    *time.Time   `json:"upper,omitempty"`
}

// TaskUpdate changes a task's status and/or window
type TaskUpdate struct {
	TaskID    int         `json:"task_id"`
	Status    *TaskStatus `json:"status,omitempty"`
	StartTime *time.Time  `json:"starttime,omitempty"`
	EndTime   *time.Time  `json:"endtime,omitempty"`
}

// ResourceUpdate changes a resource's availability; nil fields are left unchanged
type ResourceUpdate struct {
	Active            *bool  `json:"active,omitempty"`
	AvailableCapacity *int64 `json:"available_capacity,omitempty"`
	TotalCapacity     *int64 `json:"total_capacity,omitempty"`
}

// TimePtr returns a pointer to t
func TimePtr(t time.Time) *time.Time {
	return &t
}

// ValidateInterval enforces end > start
func ValidateInterval(start, end time.Time) error {
	if !end.After(start) {
		return NewValidationError("endtime %s must be after starttime %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return nil
}
