package external

import (
	"context"
	"time"

	"github.com/cuemby/claimd/pkg/types"
)

// TreeInfo is what the task control system knows about a task's run.
// Zero times are unknown.
type TreeInfo struct {
	OTDBID    int              `json:"otdb_id"`
	Status    types.TaskStatus `json:"status,omitempty"`
	StartTime time.Time        `json:"starttime"`
	StopTime  time.Time        `json:"stoptime"`
}

// TaskControl is the task control system (OTDB) that owns task execution.
// GetTreeInfo returns ErrNotFound for trees that no longer exist.
type TaskControl interface {
	SetSpecification(ctx context.Context, otdbID int, spec map[string]string) error
	SetStatus(ctx context.Context, otdbID int, status types.TaskStatus) error
	GetTreeInfo(ctx context.Context, otdbID int) (*TreeInfo, error)
}

// ObjectDetails describes a MoM object
type ObjectDetails struct {
	MomID       int    `json:"mom_id"`
	ProjectName string `json:"project_name"`
	ObjectName  string `json:"object_name,omitempty"`
}

// DataProduct is one file a task produced
type DataProduct struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// ProjectMetadata is the read-only project metadata system (MoM).
// GetObjectDetails returns ErrNotFound for withdrawn objects.
type ProjectMetadata interface {
	GetObjectDetails(ctx context.Context, momID int) (*ObjectDetails, error)
	GetDataProducts(ctx context.Context, momID int) ([]DataProduct, error)
}

// DiskUsage reports data left on disk by a task
type DiskUsage struct {
	Found     bool  `json:"found"`
	DiskUsage int64 `json:"disk_usage"`
}

// CleanupResult reports a data removal
type CleanupResult struct {
	Deleted bool   `json:"deleted"`
	Message string `json:"message,omitempty"`
}

// Cleanup removes data of previous runs. Calls are best-effort.
type Cleanup interface {
	GetDiskUsage(ctx context.Context, otdbID int) (*DiskUsage, error)
	RemoveTaskData(ctx context.Context, otdbID int) (*CleanupResult, error)
}
