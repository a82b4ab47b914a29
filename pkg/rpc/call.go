package rpc

import (
	"context"
	"time"

	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// DefaultTimeout bounds every RPC that does not set its own deadline
const DefaultTimeout = 5 * time.Second

// Dial opens a client connection that speaks the JSON codec
func Dial(addr string, opts ...grpc.DialOption) (*grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", addr)
	}
	return conn, nil
}

// Invoke calls method with the given timeout (DefaultTimeout when zero) and
// translates the gRPC status into claimd's error taxonomy
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, method string, req, resp interface{}, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(CodecName))
	return FromStatus(method, err)
}

// FromStatus maps a gRPC error to NotFound, ValidationError or
// TransientRPCError. Other errors are returned wrapped with the method.
func FromStatus(method string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &types.TransientRPCError{Method: method, Err: err}
	}
	st, ok := status.FromError(err)
	if !ok {
		return errors.Wrap(err, method)
	}
	switch st.Code() {
	case codes.NotFound:
		return errors.Wrap(types.ErrNotFound, st.Message())
	case codes.InvalidArgument:
		return &types.ValidationError{Reason: st.Message()}
	case codes.FailedPrecondition:
		return errors.Wrap(types.ErrNotLeader, st.Message())
	case codes.DeadlineExceeded, codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return &types.TransientRPCError{Method: method, Err: err}
	default:
		return errors.Wrap(err, method)
	}
}

// ToStatus maps claimd errors onto gRPC status codes for servers
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok && status.Code(err) != codes.Unknown {
		return err
	}
	var estimation *types.EstimationError
	switch {
	case errors.Is(err, types.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, types.ErrValidation), errors.As(err, &estimation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, types.ErrNotLeader):
		return status.Error(codes.FailedPrecondition, err.Error())
	case types.IsTransient(err):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
