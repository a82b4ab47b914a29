package storage

import (
	"time"

	"github.com/cuemby/claimd/pkg/types"
)

// Store defines the interface for resource assignment state storage.
// This is implemented by BoltDB-backed storage; every method is one
// transaction.
type Store interface {
	// Resources
	CreateResource(res *types.Resource) error
	GetResource(id int) (*types.Resource, error)
	ListResources() ([]*types.Resource, error)
	UpdateResource(id int, update types.ResourceUpdate) (*types.Resource, error)

	// Resource groups
	CreateResourceGroup(group *types.ResourceGroup) error
	GetResourceGroup(id int) (*types.ResourceGroup, error)
	ListResourceGroups() ([]*types.ResourceGroup, error)
	AddChildGroup(parentID, childID int) error
	AddResourceToGroup(groupID, resourceID int) error

	// Specifications and tasks
	UpsertTask(spec *types.Specification, task *types.Task) (*types.Task, error)
	GetTask(id int) (*types.Task, error)
	GetTaskByOTDBID(otdbID int) (*types.Task, error)
	GetTaskByMoMID(momID int) (*types.Task, error)
	ListTasks(filter types.TaskFilter) ([]*types.Task, error)
	UpdateTask(update types.TaskUpdate) (*types.Task, error)
	SetPredecessors(taskID int, predecessorIDs []int) error
	GetSpecification(id int) (*types.Specification, error)
	DeleteSpecification(id int) error

	// Claims
	GetClaim(id int) (*types.ResourceClaim, error)
	ListClaims(filter types.ClaimFilter) ([]*types.ResourceClaim, error)
	InsertClaims(taskID int, requests []*types.ClaimRequest, owner types.Owner) ([]*types.ResourceClaim, error)
	UpdateClaims(filter types.ClaimFilter, update types.ClaimUpdate) ([]*types.ResourceClaim, error)
	DeleteClaims(filter types.ClaimFilter) (int, error)
	ClaimableCapacity(resourceID int, lower, upper time.Time) (int64, error)
	OverlappingClaims(claimID int) ([]*types.ResourceClaim, error)

	// Snapshots
	Dump() (*Snapshot, error)
	Restore(snapshot *Snapshot) error

	// Utility
	Close() error
}

// Snapshot is a full copy of the store's state
type Snapshot struct {
	Resources      []*types.Resource      `json:"resources"`
	ResourceGroups []*types.ResourceGroup `json:"resource_groups"`
	Specifications []*types.Specification `json:"specifications"`
	Tasks          []*types.Task          `json:"tasks"`
	Claims         []*types.ResourceClaim `json:"claims"`
}
