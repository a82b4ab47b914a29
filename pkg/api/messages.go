package api

import (
	"time"

	"github.com/cuemby/claimd/pkg/assigner"
	"github.com/cuemby/claimd/pkg/scheduler"
	"github.com/cuemby/claimd/pkg/types"
)

// ServiceName is the gRPC service name of the RADB API
const ServiceName = "claimd.RADB"

// Method returns the full gRPC method name of an RADB method
func Method(name string) string {
	return "/" + ServiceName + "/" + name
}

type GetResourcesRequest struct {
	Filter types.ResourceFilter `json:"filter"`
}

type ResourcesResponse struct {
	Resources []*types.Resource `json:"resources"`
}

type UpdateResourceAvailabilityRequest struct {
	ResourceID int                  `json:"resource_id"`
	Update     types.ResourceUpdate `json:"update"`
}

type ResourceGroupsResponse struct {
	Groups []*types.ResourceGroup `json:"groups"`
}

type GetClaimsRequest struct {
	Filter types.ClaimFilter `json:"filter"`
}

type ClaimsResponse struct {
	Claims []*types.ResourceClaim `json:"claims"`
}

type ClaimableCapacityRequest struct {
	ResourceID int       `json:"resource_id"`
	Lower      time.Time `json:"lower"`
	Upper      time.Time `json:"upper"`
}

type ClaimableCapacityResponse struct {
	ResourceID int   `json:"resource_id"`
	Claimable  int64 `json:"claimable"`
}

type GetTasksRequest struct {
	Filter types.TaskFilter `json:"filter"`
}

type TasksResponse struct {
	Tasks []*types.Task `json:"tasks"`
}

// GetTaskRequest looks a task up by exactly one of its ids
type GetTaskRequest struct {
	ID     int `json:"id,omitempty"`
	OTDBID int `json:"otdb_id,omitempty"`
	MomID  int `json:"mom_id,omitempty"`
}

// DoAssignmentRequest submits a specification tree. Without Wait the call
// returns once the request is queued.
type DoAssignmentRequest struct {
	Tree *types.SpecificationTree `json:"tree"`
	Wait bool                     `json:"wait,omitempty"`
}

type AssignmentResponse struct {
	RequestID      string                `json:"request_id"`
	TaskID         int                   `json:"task_id,omitempty"`
	Status         types.TaskStatus      `json:"status,omitempty"`
	Scheduler      string                `json:"scheduler,omitempty"`
	Failure        scheduler.FailureKind `json:"failure,omitempty"`
	Reason         string                `json:"reason,omitempty"`
	ChangedTaskIDs []int                 `json:"changed_task_ids,omitempty"`
}

func assignmentResponse(o *assigner.Outcome) *AssignmentResponse {
	resp := &AssignmentResponse{
		RequestID: o.RequestID,
		Status:    o.Status,
		Scheduler: o.Scheduler,
		Failure:   o.Failure,
		Reason:    o.Reason,
	}
	if o.Task != nil {
		resp.TaskID = o.Task.ID
	}
	for _, t := range o.ChangedTasks {
		resp.ChangedTaskIDs = append(resp.ChangedTaskIDs, t.ID)
	}
	return resp
}

type DeleteSpecificationRequest struct {
	SpecificationID int `json:"specification_id"`
}

type JoinClusterRequest struct {
	NodeID  string `json:"node_id"`
	Address string `json:"address"`
	Token   string `json:"token"`
}

type JoinTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ClusterInfoResponse struct {
	NodeID     string                 `json:"node_id"`
	Leader     bool                   `json:"leader"`
	LeaderAddr string                 `json:"leader_addr,omitempty"`
	Raft       map[string]interface{} `json:"raft,omitempty"`
}
