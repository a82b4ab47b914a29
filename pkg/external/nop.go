package external

import (
	"context"

	"github.com/cuemby/claimd/pkg/types"
)

// NopTaskControl accepts every push and knows nothing about runs. Every
// tree exists.
type NopTaskControl struct{}

func (NopTaskControl) SetSpecification(context.Context, int, map[string]string) error { return nil }

func (NopTaskControl) SetStatus(context.Context, int, types.TaskStatus) error { return nil }

func (NopTaskControl) GetTreeInfo(_ context.Context, otdbID int) (*TreeInfo, error) {
	return &TreeInfo{OTDBID: otdbID}, nil
}

// NopProjectMetadata reports every object as existing, without a project
type NopProjectMetadata struct{}

func (NopProjectMetadata) GetObjectDetails(_ context.Context, momID int) (*ObjectDetails, error) {
	return &ObjectDetails{MomID: momID}, nil
}

func (NopProjectMetadata) GetDataProducts(context.Context, int) ([]DataProduct, error) {
	return nil, nil
}

// NopCleanup never finds data
type NopCleanup struct{}

func (NopCleanup) GetDiskUsage(context.Context, int) (*DiskUsage, error) {
	return &DiskUsage{}, nil
}

func (NopCleanup) RemoveTaskData(context.Context, int) (*CleanupResult, error) {
	return &CleanupResult{Message: "cleanup not configured"}, nil
}
