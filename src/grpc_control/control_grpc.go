package grpc_control

import (
	"context"
	"time"

	"trading-hub/src/logger"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "tradinghub.control.v1.ControlService"

// ControlServer is the server API for the control service.
type ControlServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListConnections(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	PublishAlert(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PublishDecision(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Disconnect(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

// NewServer builds a gRPC server with request logging.
func NewServer(log *logger.Logger) *grpc.Server {
	return grpc.NewServer(grpc.UnaryInterceptor(loggingInterceptor(log)))
}

func loggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if err != nil {
			log.Warning("gRPC %s failed after %v: %v", info.FullMethod, time.Since(start), err)
		} else {
			log.Debug("gRPC %s took %v", info.FullMethod, time.Since(start))
		}
		return resp, err
	}
}

// -----------------------------------------------------------------------------
// Service descriptor
// -----------------------------------------------------------------------------

var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: emptyHandler("GetStatus", ControlServer.GetStatus)},
		{MethodName: "ListConnections", Handler: emptyHandler("ListConnections", ControlServer.ListConnections)},
		{MethodName: "PublishAlert", Handler: structHandler("PublishAlert", ControlServer.PublishAlert)},
		{MethodName: "PublishDecision", Handler: structHandler("PublishDecision", ControlServer.PublishDecision)},
		{MethodName: "Disconnect", Handler: structHandler("Disconnect", ControlServer.Disconnect)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tradinghub/control/v1/control.proto",
}

func emptyHandler(method string, call func(ControlServer, context.Context, *emptypb.Empty) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(emptypb.Empty)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*emptypb.Empty))
		})
	}
}

func structHandler(method string, call func(ControlServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*structpb.Struct))
		})
	}
}

func fullMethod(method string) string {
	return "/" + serviceName + "/" + method
}

// -----------------------------------------------------------------------------
// Client
// -----------------------------------------------------------------------------

// ControlClient calls the control service.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) GetStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetStatus", &emptypb.Empty{}, opts)
}

func (c *ControlClient) ListConnections(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ListConnections", &emptypb.Empty{}, opts)
}

func (c *ControlClient) PublishAlert(ctx context.Context, alert *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "PublishAlert", alert, opts)
}

func (c *ControlClient) PublishDecision(ctx context.Context, decision *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "PublishDecision", decision, opts)
}

func (c *ControlClient) Disconnect(ctx context.Context, connID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"connection_id": connID})
	if err != nil {
		return nil, err
	}
	return c.invoke(ctx, "Disconnect", req, opts)
}

func (c *ControlClient) invoke(ctx context.Context, method string, in any, opts []grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
