package client

import (
	"context"
	"time"

	"github.com/cuemby/claimd/pkg/api"
	"github.com/cuemby/claimd/pkg/propagator"
	"github.com/cuemby/claimd/pkg/rpc"
	"github.com/cuemby/claimd/pkg/types"
	"google.golang.org/grpc"
)

// Client wraps the claimd RADB API for the CLI and for joining managers
type Client struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	timeout time.Duration
	retry   rpc.RetryPolicy
}

// Option configures a Client
type Option func(*Client)

// WithTimeout bounds each call; rpc.DefaultTimeout applies otherwise
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetry sets the policy used for reads
func WithRetry(p rpc.RetryPolicy) Option {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient connects to the API server at addr
func NewClient(addr string, opts ...Option) (*Client, error) {
	conn, err := rpc.Dial(addr)
	if err != nil {
		return nil, err
	}
	c := New(conn, opts...)
	c.closer = conn.Close
	return c, nil
}

// New creates a client over an existing connection. Close does not close
// conn.
func New(conn grpc.ClientConnInterface, opts ...Option) *Client {
	c := &Client{
		conn:  conn,
		retry: rpc.NewRetryPolicy(3, 200*time.Millisecond, 2*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close closes the connection opened by NewClient
func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer()
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, req, resp interface{}) error {
	return rpc.Invoke(ctx, c.conn, api.Method(method), req, resp, c.timeout)
}

// read retries transient failures
func (c *Client) read(ctx context.Context, method string, req, resp interface{}) error {
	return rpc.Retry(ctx, c.retry, func(ctx context.Context) error {
		return c.call(ctx, method, req, resp)
	})
}

// GetResources lists resources matching filter
func (c *Client) GetResources(ctx context.Context, filter types.ResourceFilter) ([]*types.Resource, error) {
	var resp api.ResourcesResponse
	if err := c.read(ctx, "GetResources", &api.GetResourcesRequest{Filter: filter}, &resp); err != nil {
		return nil, err
	}
	return resp.Resources, nil
}

// UpdateResourceAvailability changes active/available/total of a resource
func (c *Client) UpdateResourceAvailability(ctx context.Context, id int, update types.ResourceUpdate) (*types.Resource, error) {
	var res types.Resource
	req := &api.UpdateResourceAvailabilityRequest{ResourceID: id, Update: update}
	if err := c.call(ctx, "UpdateResourceAvailability", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) GetResourceGroups(ctx context.Context) ([]*types.ResourceGroup, error) {
	var resp api.ResourceGroupsResponse
	if err := c.read(ctx, "GetResourceGroups", &rpc.Empty{}, &resp); err != nil {
		return nil, err
	}
	return resp.Groups, nil
}

func (c *Client) GetClaims(ctx context.Context, filter types.ClaimFilter) ([]*types.ResourceClaim, error) {
	var resp api.ClaimsResponse
	if err := c.read(ctx, "GetClaims", &api.GetClaimsRequest{Filter: filter}, &resp); err != nil {
		return nil, err
	}
	return resp.Claims, nil
}

// GetClaimableCapacity returns what is still claimable on a resource over
// [lower, upper]
func (c *Client) GetClaimableCapacity(ctx context.Context, resourceID int, lower, upper time.Time) (int64, error) {
	var resp api.ClaimableCapacityResponse
	req := &api.ClaimableCapacityRequest{ResourceID: resourceID, Lower: lower, Upper: upper}
	if err := c.read(ctx, "GetClaimableCapacity", req, &resp); err != nil {
		return 0, err
	}
	return resp.Claimable, nil
}

func (c *Client) GetOverlappingClaims(ctx context.Context, claimID int) ([]*types.ResourceClaim, error) {
	var resp api.ClaimsResponse
	if err := c.read(ctx, "GetOverlappingClaims", &rpc.IDRequest{ID: claimID}, &resp); err != nil {
		return nil, err
	}
	return resp.Claims, nil
}

func (c *Client) GetOverlappingTasks(ctx context.Context, claimID int) ([]*types.Task, error) {
	var resp api.TasksResponse
	if err := c.read(ctx, "GetOverlappingTasks", &rpc.IDRequest{ID: claimID}, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

func (c *Client) GetTasks(ctx context.Context, filter types.TaskFilter) ([]*types.Task, error) {
	var resp api.TasksResponse
	if err := c.read(ctx, "GetTasks", &api.GetTasksRequest{Filter: filter}, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// GetTask looks a task up by exactly one of the ids set in req
func (c *Client) GetTask(ctx context.Context, req api.GetTaskRequest) (*types.Task, error) {
	var task types.Task
	if err := c.read(ctx, "GetTask", &req, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// DoAssignment submits tree. With wait the call returns the finished
// outcome, otherwise only the request id is set.
func (c *Client) DoAssignment(ctx context.Context, tree *types.SpecificationTree, wait bool) (*api.AssignmentResponse, error) {
	var resp api.AssignmentResponse
	if err := c.call(ctx, "DoAssignment", &api.DoAssignmentRequest{Tree: tree, Wait: wait}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DeleteSpecification(ctx context.Context, specificationID int) error {
	return c.call(ctx, "DeleteSpecification", &api.DeleteSpecificationRequest{SpecificationID: specificationID}, &rpc.Empty{})
}

// HandleStatusEvent forwards a task control status change
func (c *Client) HandleStatusEvent(ctx context.Context, ev propagator.TaskEvent) error {
	return c.call(ctx, "HandleStatusEvent", &ev, &rpc.Empty{})
}

// JoinCluster asks the leader to add nodeID at addr as a voter
func (c *Client) JoinCluster(ctx context.Context, nodeID, addr, token string) error {
	return c.call(ctx, "JoinCluster", &api.JoinClusterRequest{NodeID: nodeID, Address: addr, Token: token}, &rpc.Empty{})
}

func (c *Client) GenerateJoinToken(ctx context.Context) (*api.JoinTokenResponse, error) {
	var resp api.JoinTokenResponse
	if err := c.call(ctx, "GenerateJoinToken", &rpc.Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) GetClusterInfo(ctx context.Context) (*api.ClusterInfoResponse, error) {
	var resp api.ClusterInfoResponse
	if err := c.read(ctx, "GetClusterInfo", &rpc.Empty{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
