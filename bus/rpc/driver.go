package rpc

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"hwreg/bus"
	"hwreg/ral"
	"hwreg/util"
	"hwreg/util/env"
	"hwreg/wire"
)

const driverName = "grpc"

type Driver struct {
	// DialOptions are added after the insecure transport credentials.
	DialOptions []grpc.DialOption
}

func (d *Driver) Description() string {
	return "gRPC bridge; target is host:port of a hwreg.Bus service"
}

func (d *Driver) Open(ctx context.Context, target string, logger *zap.Logger) (bus.Conn, error) {
	opts := append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, d.DialOptions...)
	cc, err := grpc.DialContext(ctx, target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc: [%s] dial: %w", target, err)
	}
	logger.Debug("dialed", zap.String("target", target))
	return &Conn{target: target, cc: cc}, nil
}

type Conn struct {
	target string
	cc     *grpc.ClientConn
}

func (c *Conn) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, transferMethod, wrapperspb.Bytes(payload), out); err != nil {
		return nil, fmt.Errorf("grpc: [%s] transfer: %w", c.target, err)
	}
	return out.GetValue(), nil
}

func (c *Conn) Callbacks() ral.CallbackSet { return wire.Callbacks(c) }

func (c *Conn) Close() error { return c.cc.Close() }

func init() {
	if util.IsTruthy(env.GetOrDefault("HWREG_GRPC_DISABLE", "0")) {
		return
	}
	bus.Register(driverName, &Driver{})
}
