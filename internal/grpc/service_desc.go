package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = protoPackage + "." + protoService

// EvaluationServiceServer is the server API. Every message is a
// google.protobuf.Struct carrying the JSON shape of the request or response.
type EvaluationServiceServer interface {
	CreateEvaluation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReEvaluate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SoftDelete(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordProgress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEvaluation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListEvaluations(context.Context, *structpb.Struct) (*structpb.Struct, error)
	LatestEvaluation(context.Context, *structpb.Struct) (*structpb.Struct, error)
	History(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListProgress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompareEvaluations(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(EvaluationServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodHandler(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
			}
			server, ok := srv.(EvaluationServiceServer)
			if !ok {
				return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", name)
			}
			if interceptor == nil {
				return call(server, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var methods = []struct {
	name string
	call unaryMethod
}{
	{"CreateEvaluation", EvaluationServiceServer.CreateEvaluation},
	{"ReEvaluate", EvaluationServiceServer.ReEvaluate},
	{"SoftDelete", EvaluationServiceServer.SoftDelete},
	{"RecordProgress", EvaluationServiceServer.RecordProgress},
	{"GetEvaluation", EvaluationServiceServer.GetEvaluation},
	{"ListEvaluations", EvaluationServiceServer.ListEvaluations},
	{"LatestEvaluation", EvaluationServiceServer.LatestEvaluation},
	{"History", EvaluationServiceServer.History},
	{"ListProgress", EvaluationServiceServer.ListProgress},
	{"CompareEvaluations", EvaluationServiceServer.CompareEvaluations},
}

func serviceDesc() grpc.ServiceDesc {
	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*EvaluationServiceServer)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    protoFile,
	}
	for _, m := range methods {
		desc.Methods = append(desc.Methods, methodHandler(m.name, m.call))
	}
	return desc
}

// EvaluationServiceDesc describes the service for grpc.Server registration.
var EvaluationServiceDesc = serviceDesc()

// RegisterEvaluationServiceServer registers srv on s.
func RegisterEvaluationServiceServer(s grpc.ServiceRegistrar, srv EvaluationServiceServer) {
	s.RegisterService(&EvaluationServiceDesc, srv)
}

// Invoke calls a unary method on a client connection.
func Invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
