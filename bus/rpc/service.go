// Package rpc carries wire frames over a unary gRPC method. The payloads are opaque wire
// messages wrapped in BytesValue, so no generated stubs are needed.
package rpc

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"hwreg/ral"
	"hwreg/wire"
)

const (
	ServiceName    = "hwreg.Bus"
	transferMethod = "/" + ServiceName + "/Transfer"
)

// BusServer is the server API of the hwreg.Bus service.
type BusServer interface {
	Transfer(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

func transferHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BusServer).Transfer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: transferMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BusServer).Transfer(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var busServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BusServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Transfer",
			Handler:    transferHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hwreg/bus.proto",
}

type busServer struct {
	cb     ral.CallbackSet
	logger *zap.Logger
}

func (s *busServer) Transfer(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	s.logger.Debug("transfer", zap.Int("bytes", len(in.GetValue())))
	return wrapperspb.Bytes(wire.Handle(ctx, s.cb, in.GetValue())), nil
}

// Register adds the hwreg.Bus service answering with cb to s.
func Register(s grpc.ServiceRegistrar, cb ral.CallbackSet, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.RegisterService(&busServiceDesc, &busServer{cb: cb, logger: logger})
}

// LoggingInterceptor logs every call at Debug with its duration and error.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		rsp, err := handler(ctx, req)
		logger.Debug("rpc", zap.String("method", info.FullMethod), zap.Error(err))
		return rsp, err
	}
}
