package engine

import (
	"context"

	"github.com/xela07ax/honeyagent/internal/agent"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Контракт сервиса описан вручную: вход и выход — google.protobuf.Struct,
// поэтому сгенерированный код не нужен.
const handleMethod = "/honeyagent.v1.Gateway/Handle"

// GatewayServer gRPC-поверхность над Core.
type GatewayServer interface {
	Handle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var gatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: "honeyagent.v1.Gateway",
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Handle", Handler: handleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "honeyagent/v1/gateway.proto",
}

func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&gatewayServiceDesc, srv)
}

func handleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(GatewayServer).Handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: handleMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(GatewayServer).Handle(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Handle вызывает клиентскую сторону: {message, session_id, context} -> {status, response}.
func Handle(ctx context.Context, cc grpc.ClientConnInterface, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, handleMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type GRPCGatewayServer struct {
	core *Core
}

func NewGRPCGatewayServer(core *Core) *GRPCGatewayServer {
	return &GRPCGatewayServer{core: core}
}

func (s *GRPCGatewayServer) Handle(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	// 1. Разбираем Struct (отсутствующие поля — пустые строки)
	fields := in.GetFields()
	req := agent.Request{
		Message:   fields["message"].GetStringValue(),
		SessionID: fields["session_id"].GetStringValue(),
		Context:   fields["context"].GetStringValue(),
	}

	// 2. Тот же конвейер, что и для HTTP. Токен положил интерцептор
	reply := s.core.HandleRequest(ctx, credentialFromContext(ctx), req)

	// 3. Собираем ответ обратно в Protobuf
	return structpb.NewStruct(map[string]any{
		"status":   reply.Status,
		"response": reply.Response,
	})
}
