package models

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// InferenceServiceName is the fully qualified gRPC service name of the
// model backend. It is also the name reported to the health service.
const InferenceServiceName = "faceinference.FaceInference"

const (
	methodDetectFaces      = "/" + InferenceServiceName + "/DetectFaces"
	methodExtractEmbedding = "/" + InferenceServiceName + "/ExtractEmbedding"
)

// InferenceServer is implemented by model backends. Messages are generic
// protobuf structs:
//
//	DetectFaces      {image, width, height, format} -> {faces: [{x, y, width, height, confidence, landmarks: [{x, y, type}]}]}
//	ExtractEmbedding {image, width, height, format} -> {embedding: [float...]}  (empty when no face)
type InferenceServer interface {
	DetectFaces(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExtractEmbedding(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterInferenceServer registers a backend implementation on a gRPC server
func RegisterInferenceServer(s grpc.ServiceRegistrar, srv InferenceServer) {
	s.RegisterService(&inferenceServiceDesc, srv)
}

var inferenceServiceDesc = grpc.ServiceDesc{
	ServiceName: InferenceServiceName,
	HandlerType: (*InferenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "DetectFaces", Handler: detectFacesHandler},
		{MethodName: "ExtractEmbedding", Handler: extractEmbeddingHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "faceinference.proto",
}

func detectFacesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InferenceServer).DetectFaces(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodDetectFaces}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InferenceServer).DetectFaces(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func extractEmbeddingHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InferenceServer).ExtractEmbedding(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodExtractEmbedding}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(InferenceServer).ExtractEmbedding(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
