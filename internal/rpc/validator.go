// Package rpc defines the pipeflow.v1.ValidatorService gRPC contract.
// Messages are google.protobuf.Struct values whose fields follow the JSON
// wire contract, so the service needs no generated code.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alfredjeanlab/pipeflow/internal/model"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName    = "pipeflow.v1.ValidatorService"
	ValidateMethod = "/" + ServiceName + "/Validate"
	HealthMethod   = "/" + ServiceName + "/Health"
)

// ValidatorServer is the server API for ValidatorService.
type ValidatorServer interface {
	// Validate takes a pipeline request struct and returns a verdict struct.
	Validate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Health(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// RegisterValidatorServer registers srv on s.
func RegisterValidatorServer(s grpc.ServiceRegistrar, srv ValidatorServer) {
	s.RegisterService(&ValidatorServiceDesc, srv)
}

// ValidatorServiceDesc is the grpc.ServiceDesc for ValidatorService.
var ValidatorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ValidatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Validate", Handler: validateHandler},
		{MethodName: "Health", Handler: healthHandler},
	},
	// No Metadata: the service is described here rather than generated
	// from a .proto file, so there is no file descriptor to point at.
	Streams: []grpc.StreamDesc{},
}

func validateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ValidatorServer).Validate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ValidateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ValidatorServer).Validate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func healthHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ValidatorServer).Health(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HealthMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ValidatorServer).Health(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ValidatorClient is the client API for ValidatorService.
type ValidatorClient struct {
	cc grpc.ClientConnInterface
}

// NewValidatorClient wraps a connection.
func NewValidatorClient(cc grpc.ClientConnInterface) *ValidatorClient {
	return &ValidatorClient{cc: cc}
}

func (c *ValidatorClient) Validate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, ValidateMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ValidatorClient) Health(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, HealthMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RequestToStruct converts a pipeline request into its Struct message.
func RequestToStruct(req *model.PipelineRequest) (*structpb.Struct, error) {
	m, err := toMap(req)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// StructToRequest converts a Struct message back into a pipeline request.
func StructToRequest(s *structpb.Struct) (*model.PipelineRequest, error) {
	raw, err := s.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding struct: %w", err)
	}
	var req model.PipelineRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decoding pipeline: %w", err)
	}
	return &req, nil
}

// VerdictToStruct converts a verdict into its Struct message.
func VerdictToStruct(v model.Verdict) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"num_nodes": structpb.NewNumberValue(float64(v.NumNodes)),
		"num_edges": structpb.NewNumberValue(float64(v.NumEdges)),
		"is_dag":    structpb.NewBoolValue(v.IsDAG),
	}}
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}
	return m, nil
}
