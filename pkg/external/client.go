package external

import (
	"context"
	"time"

	"github.com/cuemby/claimd/pkg/rpc"
	"github.com/cuemby/claimd/pkg/types"
	"google.golang.org/grpc"
)

const (
	taskControlService     = "claimd.TaskControl"
	projectMetadataService = "claimd.ProjectMetadata"
	cleanupService         = "claimd.Cleanup"
)

// SpecificationRequest pushes a specification to the task control system
type SpecificationRequest struct {
	OTDBID        int               `json:"otdb_id"`
	Specification map[string]string `json:"specification"`
}

// StatusRequest pushes a status to the task control system
type StatusRequest struct {
	OTDBID int              `json:"otdb_id"`
	Status types.TaskStatus `json:"status"`
}

// Options tunes a collaborator client
type Options struct {
	Timeout time.Duration
	Retry   rpc.RetryPolicy
}

type caller struct {
	conn grpc.ClientConnInterface
	opts Options
}

func newCaller(conn grpc.ClientConnInterface, opts Options) caller {
	if opts.Retry == nil {
		opts.Retry = rpc.NewRetryPolicy(3, 200*time.Millisecond, 2*time.Second)
	}
	return caller{conn: conn, opts: opts}
}

// once makes a single attempt
func (c caller) once(ctx context.Context, service, method string, req, resp interface{}) error {
	return rpc.Invoke(ctx, c.conn, "/"+service+"/"+method, req, resp, c.opts.Timeout)
}

// idempotent retries transient failures
func (c caller) idempotent(ctx context.Context, service, method string, req, resp interface{}) error {
	return rpc.Retry(ctx, c.opts.Retry, func(ctx context.Context) error {
		return c.once(ctx, service, method, req, resp)
	})
}

// TaskControlClient calls a remote task control service. Every call is
// idempotent and retried.
type TaskControlClient struct {
	caller
}

// NewTaskControlClient creates a client over conn
func NewTaskControlClient(conn grpc.ClientConnInterface, opts Options) *TaskControlClient {
	return &TaskControlClient{caller: newCaller(conn, opts)}
}

func (c *TaskControlClient) SetSpecification(ctx context.Context, otdbID int, spec map[string]string) error {
	return c.idempotent(ctx, taskControlService, "SetSpecification", &SpecificationRequest{OTDBID: otdbID, Specification: spec}, &rpc.Empty{})
}

func (c *TaskControlClient) SetStatus(ctx context.Context, otdbID int, status types.TaskStatus) error {
	return c.idempotent(ctx, taskControlService, "SetStatus", &StatusRequest{OTDBID: otdbID, Status: status}, &rpc.Empty{})
}

func (c *TaskControlClient) GetTreeInfo(ctx context.Context, otdbID int) (*TreeInfo, error) {
	var info TreeInfo
	if err := c.idempotent(ctx, taskControlService, "GetTreeInfo", &rpc.IDRequest{ID: otdbID}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ProjectMetadataClient calls a remote project metadata service
type ProjectMetadataClient struct {
	caller
}

// NewProjectMetadataClient creates a client over conn
func NewProjectMetadataClient(conn grpc.ClientConnInterface, opts Options) *ProjectMetadataClient {
	return &ProjectMetadataClient{caller: newCaller(conn, opts)}
}

func (c *ProjectMetadataClient) GetObjectDetails(ctx context.Context, momID int) (*ObjectDetails, error) {
	var details ObjectDetails
	if err := c.idempotent(ctx, projectMetadataService, "GetObjectDetails", &rpc.IDRequest{ID: momID}, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

func (c *ProjectMetadataClient) GetDataProducts(ctx context.Context, momID int) ([]DataProduct, error) {
	var products []DataProduct
	if err := c.idempotent(ctx, projectMetadataService, "GetDataProducts", &rpc.IDRequest{ID: momID}, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// CleanupClient calls a remote cleanup service. RemoveTaskData deletes
// data and is never retried.
type CleanupClient struct {
	caller
}

// NewCleanupClient creates a client over conn
func NewCleanupClient(conn grpc.ClientConnInterface, opts Options) *CleanupClient {
	return &CleanupClient{caller: newCaller(conn, opts)}
}

func (c *CleanupClient) GetDiskUsage(ctx context.Context, otdbID int) (*DiskUsage, error) {
	var usage DiskUsage
	if err := c.idempotent(ctx, cleanupService, "GetDiskUsage", &rpc.IDRequest{ID: otdbID}, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

func (c *CleanupClient) RemoveTaskData(ctx context.Context, otdbID int) (*CleanupResult, error) {
	var result CleanupResult
	if err := c.once(ctx, cleanupService, "RemoveTaskData", &rpc.IDRequest{ID: otdbID}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
