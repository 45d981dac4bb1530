package grpc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	protoFile    = "valuation/v1/evaluation.proto"
	protoPackage = "valuation.v1"
	protoService = "EvaluationService"
)

// fileDescriptor describes the service as a proto3 file so that server
// reflection can resolve it. Every method takes and returns a Struct.
func fileDescriptor() (protoreflect.FileDescriptor, error) {
	structType := "." + string((&structpb.Struct{}).ProtoReflect().Descriptor().FullName())

	svc := &descriptorpb.ServiceDescriptorProto{Name: proto.String(protoService)}
	for _, m := range methods {
		svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}

	return protodesc.NewFile(&descriptorpb.FileDescriptorProto{
		Name:       proto.String(protoFile),
		Package:    proto.String(protoPackage),
		Dependency: []string{structpb.File_google_protobuf_struct_proto.Path()},
		Service:    []*descriptorpb.ServiceDescriptorProto{svc},
		Syntax:     proto.String("proto3"),
	}, protoregistry.GlobalFiles)
}

func init() {
	fd, err := fileDescriptor()
	if err != nil {
		panic(fmt.Sprintf("build %s: %v", protoFile, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("register %s: %v", protoFile, err))
	}
}
