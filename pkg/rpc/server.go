package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// Handler serves one unary method for the registered service implementation
type Handler[Req any] func(ctx context.Context, srv interface{}, req *Req) (interface{}, error)

// Unary builds the method descriptor of a JSON unary method. Errors
// returned by fn are mapped with ToStatus.
func Unary[Req any](service, method string, fn Handler[Req]) grpc.MethodDesc {
	fullMethod := "/" + service + "/" + method
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, r interface{}) (interface{}, error) {
				resp, err := fn(ctx, srv, r.(*Req))
				if err != nil {
					return nil, ToStatus(err)
				}
				return resp, nil
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, req, info, handler)
		},
	}
}

// Empty is the request or response of methods that carry nothing
type Empty struct{}

// IDRequest addresses one object by id
type IDRequest struct {
	ID int `json:"id"`
}
