package external

import (
	"context"

	"github.com/cuemby/claimd/pkg/rpc"
	"google.golang.org/grpc"
)

// RegisterTaskControlServer serves impl as claimd.TaskControl
func RegisterTaskControlServer(s grpc.ServiceRegistrar, impl TaskControl) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: taskControlService,
		HandlerType: (*TaskControl)(nil),
		Methods: []grpc.MethodDesc{
			rpc.Unary(taskControlService, "SetSpecification", func(ctx context.Context, srv interface{}, req *SpecificationRequest) (interface{}, error) {
				return &rpc.Empty{}, srv.(TaskControl).SetSpecification(ctx, req.OTDBID, req.Specification)
			}),
			rpc.Unary(taskControlService, "SetStatus", func(ctx context.Context, srv interface{}, req *StatusRequest) (interface{}, error) {
				return &rpc.Empty{}, srv.(TaskControl).SetStatus(ctx, req.OTDBID, req.Status)
			}),
			rpc.Unary(taskControlService, "GetTreeInfo", func(ctx context.Context, srv interface{}, req *rpc.IDRequest) (interface{}, error) {
				return srv.(TaskControl).GetTreeInfo(ctx, req.ID)
			}),
		},
	}, impl)
}

// RegisterProjectMetadataServer serves impl as claimd.ProjectMetadata
func RegisterProjectMetadataServer(s grpc.ServiceRegistrar, impl ProjectMetadata) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: projectMetadataService,
		HandlerType: (*ProjectMetadata)(nil),
		Methods: []grpc.MethodDesc{
			rpc.Unary(projectMetadataService, "GetObjectDetails", func(ctx context.Context, srv interface{}, req *rpc.IDRequest) (interface{}, error) {
				return srv.(ProjectMetadata).GetObjectDetails(ctx, req.ID)
			}),
			rpc.Unary(projectMetadataService, "GetDataProducts", func(ctx context.Context, srv interface{}, req *rpc.IDRequest) (interface{}, error) {
				return srv.(ProjectMetadata).GetDataProducts(ctx, req.ID)
			}),
		},
	}, impl)
}

// RegisterCleanupServer serves impl as claimd.Cleanup
func RegisterCleanupServer(s grpc.ServiceRegistrar, impl Cleanup) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: cleanupService,
		HandlerType: (*Cleanup)(nil),
		Methods: []grpc.MethodDesc{
			rpc.Unary(cleanupService, "GetDiskUsage", func(ctx context.Context, srv interface{}, req *rpc.IDRequest) (interface{}, error) {
				return srv.(Cleanup).GetDiskUsage(ctx, req.ID)
			}),
			rpc.Unary(cleanupService, "RemoveTaskData", func(ctx context.Context, srv interface{}, req *rpc.IDRequest) (interface{}, error) {
				return srv.(Cleanup).RemoveTaskData(ctx, req.ID)
			}),
		},
	}, impl)
}
