package estimator

import (
	"context"

	"github.com/cuemby/claimd/pkg/rpc"
	"github.com/cuemby/claimd/pkg/types"
	"google.golang.org/grpc"
)

// RegisterServer serves impl as claimd.Estimator
func RegisterServer(s grpc.ServiceRegistrar, impl Estimator) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "claimd.Estimator",
		HandlerType: (*Estimator)(nil),
		Methods: []grpc.MethodDesc{
			rpc.Unary("claimd.Estimator", "Estimate", func(ctx context.Context, srv interface{}, tree *types.SpecificationTree) (interface{}, error) {
				return srv.(Estimator).Estimate(ctx, tree)
			}),
		},
	}, impl)
}
