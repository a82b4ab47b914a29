package estimator

import (
	"context"
	"time"

	"github.com/cuemby/claimd/pkg/rpc"
	"github.com/cuemby/claimd/pkg/types"
	"google.golang.org/grpc"
)

// EstimateMethod is the full gRPC method name of the estimator service
const EstimateMethod = "/claimd.Estimator/Estimate"

// Client calls a remote estimator service. Estimation is a pure function of
// the tree, so transient failures are retried.
type Client struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
	retry   rpc.RetryPolicy
}

// NewClient creates an estimator client over conn
func NewClient(conn grpc.ClientConnInterface, timeout time.Duration, retry rpc.RetryPolicy) *Client {
	if retry == nil {
		retry = rpc.NewRetryPolicy(3, 200*time.Millisecond, 2*time.Second)
	}
	return &Client{conn: conn, timeout: timeout, retry: retry}
}

// Estimate implements Estimator
func (c *Client) Estimate(ctx context.Context, tree *types.SpecificationTree) (*Result, error) {
	var result Result
	err := rpc.Retry(ctx, c.retry, func(ctx context.Context) error {
		result = Result{}
		return rpc.Invoke(ctx, c.conn, EstimateMethod, tree, &result, c.timeout)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}
