package api

import (
	"context"
	"net"

	"github.com/cuemby/claimd/pkg/assigner"
	"github.com/cuemby/claimd/pkg/catalog"
	"github.com/cuemby/claimd/pkg/log"
	"github.com/cuemby/claimd/pkg/manager"
	"github.com/cuemby/claimd/pkg/propagator"
	"github.com/cuemby/claimd/pkg/rpc"
	"github.com/cuemby/claimd/pkg/types"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Assigner queues assignment requests, implemented by *assigner.Pool
type Assigner interface {
	Assign(ctx context.Context, tree *types.SpecificationTree) (*assigner.Outcome, error)
	Submit(ctx context.Context, tree *types.SpecificationTree) (string, error)
}

// StatusHandler applies task control status events, implemented by
// *propagator.StatusPropagator
type StatusHandler interface {
	Handle(ctx context.Context, ev propagator.TaskEvent) error
}

// Server implements the claimd.RADB gRPC service
type Server struct {
	manager  *manager.Manager
	catalog  *catalog.Catalog
	assigner Assigner
	status   StatusHandler
	grpc     *grpc.Server
	logger   zerolog.Logger
}

// Options tunes the API server
type Options struct {
	// ReadOnly rejects every method that changes state
	ReadOnly bool
}

// NewServer creates a new API server
func NewServer(mgr *manager.Manager, cat *catalog.Catalog, a Assigner, sh StatusHandler, opts Options) *Server {
	interceptors := []grpc.UnaryServerInterceptor{MetricsInterceptor()}
	if opts.ReadOnly {
		interceptors = append(interceptors, ReadOnlyInterceptor())
	}
	s := &Server{
		manager:  mgr,
		catalog:  cat,
		assigner: a,
		status:   sh,
		grpc:     grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...)),
		logger:   log.WithComponent("api"),
	}
	s.Register(s.grpc)
	return s
}

// Start serves the API on addr until Stop is called
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(lis)
}

// Serve serves the API on lis
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC API listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

// Register installs the RADB service on r
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			rpc.Unary(ServiceName, "GetResources", s.getResources),
			rpc.Unary(ServiceName, "UpdateResourceAvailability", s.updateResourceAvailability),
			rpc.Unary(ServiceName, "GetResourceGroups", s.getResourceGroups),
			rpc.Unary(ServiceName, "GetClaims", s.getClaims),
			rpc.Unary(ServiceName, "GetClaimableCapacity", s.getClaimableCapacity),
			rpc.Unary(ServiceName, "GetOverlappingClaims", s.getOverlappingClaims),
			rpc.Unary(ServiceName, "GetOverlappingTasks", s.getOverlappingTasks),
			rpc.Unary(ServiceName, "GetTasks", s.getTasks),
			rpc.Unary(ServiceName, "GetTask", s.getTask),
			rpc.Unary(ServiceName, "DoAssignment", s.doAssignment),
			rpc.Unary(ServiceName, "DeleteSpecification", s.deleteSpecification),
			rpc.Unary(ServiceName, "HandleStatusEvent", s.handleStatusEvent),
			rpc.Unary(ServiceName, "JoinCluster", s.joinCluster),
			rpc.Unary(ServiceName, "GenerateJoinToken", s.generateJoinToken),
			rpc.Unary(ServiceName, "GetClusterInfo", s.getClusterInfo),
		},
	}, s)
}

func (s *Server) getResources(ctx context.Context, _ interface{}, req *GetResourcesRequest) (interface{}, error) {
	resources, err := s.catalog.ListResources(ctx, req.Filter)
	if err != nil {
		return nil, err
	}
	return &ResourcesResponse{Resources: resources}, nil
}

func (s *Server) updateResourceAvailability(ctx context.Context, _ interface{}, req *UpdateResourceAvailabilityRequest) (interface{}, error) {
	return s.catalog.UpdateResourceAvailability(ctx, req.ResourceID, req.Update)
}

func (s *Server) getResourceGroups(ctx context.Context, _ interface{}, _ *rpc.Empty) (interface{}, error) {
	groups, err := s.manager.ListResourceGroups()
	if err != nil {
		return nil, err
	}
	return &ResourceGroupsResponse{Groups: groups}, nil
}

func (s *Server) getClaims(ctx context.Context, _ interface{}, req *GetClaimsRequest) (interface{}, error) {
	claims, err := s.manager.GetClaims(req.Filter)
	if err != nil {
		return nil, err
	}
	return &ClaimsResponse{Claims: claims}, nil
}

func (s *Server) getClaimableCapacity(ctx context.Context, _ interface{}, req *ClaimableCapacityRequest) (interface{}, error) {
	claimable, err := s.manager.ClaimableCapacity(req.ResourceID, req.Lower, req.Upper)
	if err != nil {
		return nil, err
	}
	return &ClaimableCapacityResponse{ResourceID: req.ResourceID, Claimable: claimable}, nil
}

func (s *Server) getOverlappingClaims(ctx context.Context, _ interface{}, req *rpc.IDRequest) (interface{}, error) {
	claims, err := s.manager.GetOverlappingClaims(req.ID)
	if err != nil {
		return nil, err
	}
	return &ClaimsResponse{Claims: claims}, nil
}

func (s *Server) getOverlappingTasks(ctx context.Context, _ interface{}, req *rpc.IDRequest) (interface{}, error) {
	tasks, err := s.manager.GetOverlappingTasks(req.ID)
	if err != nil {
		return nil, err
	}
	return &TasksResponse{Tasks: tasks}, nil
}

func (s *Server) getTasks(ctx context.Context, _ interface{}, req *GetTasksRequest) (interface{}, error) {
	tasks, err := s.manager.ListTasks(req.Filter)
	if err != nil {
		return nil, err
	}
	return &TasksResponse{Tasks: tasks}, nil
}

func (s *Server) getTask(ctx context.Context, _ interface{}, req *GetTaskRequest) (interface{}, error) {
	switch {
	case req.ID > 0:
		return s.manager.GetTask(req.ID)
	case req.OTDBID > 0:
		return s.manager.GetTaskByOTDBID(req.OTDBID)
	case req.MomID > 0:
		return s.manager.GetTaskByMoMID(req.MomID)
	}
	return nil, types.NewValidationError("one of id, otdb_id or mom_id is required")
}

func (s *Server) doAssignment(ctx context.Context, _ interface{}, req *DoAssignmentRequest) (interface{}, error) {
	if s.assigner == nil {
		return nil, status.Error(codes.Unimplemented, "assignment is not enabled on this node")
	}
	if !req.Wait {
		id, err := s.assigner.Submit(ctx, req.Tree)
		if err != nil {
			return nil, err
		}
		return &AssignmentResponse{RequestID: id}, nil
	}
	outcome, err := s.assigner.Assign(ctx, req.Tree)
	if err != nil {
		return nil, err
	}
	return assignmentResponse(outcome), nil
}

func (s *Server) deleteSpecification(ctx context.Context, _ interface{}, req *DeleteSpecificationRequest) (interface{}, error) {
	if err := s.manager.DeleteSpecification(req.SpecificationID); err != nil {
		return nil, err
	}
	s.logger.Info().Int("specification_id", req.SpecificationID).Msg("Specification deleted")
	return &rpc.Empty{}, nil
}

func (s *Server) handleStatusEvent(ctx context.Context, _ interface{}, req *propagator.TaskEvent) (interface{}, error) {
	if s.status == nil {
		return nil, status.Error(codes.Unimplemented, "status propagation is not enabled on this node")
	}
	if err := s.status.Handle(ctx, *req); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

func (s *Server) joinCluster(ctx context.Context, _ interface{}, req *JoinClusterRequest) (interface{}, error) {
	if err := s.manager.ValidateJoinToken(req.Token); err != nil {
		return nil, status.Error(codes.PermissionDenied, err.Error())
	}
	if err := s.manager.AddVoter(req.NodeID, req.Address); err != nil {
		return nil, err
	}
	return &rpc.Empty{}, nil
}

func (s *Server) generateJoinToken(ctx context.Context, _ interface{}, _ *rpc.Empty) (interface{}, error) {
	token, err := s.manager.GenerateJoinToken()
	if err != nil {
		return nil, err
	}
	return &JoinTokenResponse{Token: token.Token, ExpiresAt: token.ExpiresAt}, nil
}

func (s *Server) getClusterInfo(ctx context.Context, _ interface{}, _ *rpc.Empty) (interface{}, error) {
	return &ClusterInfoResponse{
		NodeID:     s.manager.NodeID(),
		Leader:     s.manager.IsLeader(),
		LeaderAddr: s.manager.LeaderAddr(),
		Raft:       s.manager.GetRaftStats(),
	}, nil
}
