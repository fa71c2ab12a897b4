package rpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"hwreg/ral"
	"hwreg/ral/sim"
	"hwreg/wire"
)

func newTestConn(t *testing.T, cb ral.CallbackSet) *Conn {
	t.Helper()
	logger := zaptest.NewLogger(t)

	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor(logger)))
	Register(s, cb, logger)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	d := &Driver{DialOptions: []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	}}
	c, err := d.Open(context.Background(), "bufnet", logger)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c.(*Conn)
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	s := sim.New(logger)
	r, err := sim.NewRegister(sim.RegisterDefinition{Name: "wide", Width: 128, Readable: true, Writable: true})
	if err != nil {
		t.Fatal(err)
	}
	if err = s.AddRegister(0x80, r); err != nil {
		t.Fatal(err)
	}

	c := newTestConn(t, s.Callbacks())
	top, err := ral.NewAddressMap(c.Callbacks(), "top", 0, logger)
	if err != nil {
		t.Fatal(err)
	}
	wide, err := ral.NewRegReadWrite(top, ral.RegisterSpec{
		Name:    "wide",
		Address: 0x80,
		Width:   128,
		Fields: []ral.FieldSpec{
			{Name: "hi", Low: 64, High: 127, MSB: 127, LSB: 64},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	hi, _ := wide.Field("hi")
	if err = hi.WriteUint64(ctx, 0xDEAD_BEEF); err != nil {
		t.Fatal(err)
	}
	v, err := wide.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if actual, expected := v.Text(16), "deadbeef0000000000000000"; actual != expected {
		t.Errorf("value mismatch, actual = %s, expected = %s", actual, expected)
	}
	if actual, expected := r.Value().Text(16), "deadbeef0000000000000000"; actual != expected {
		t.Errorf("sim value mismatch, actual = %s, expected = %s", actual, expected)
	}
}

func TestTransfer_RemoteError(t *testing.T) {
	c := newTestConn(t, ral.CallbackSet{})
	_, err := c.Callbacks().Read(context.Background(), 0, 32, 32)
	if !errors.Is(err, ral.ErrUnconfigured) {
		t.Errorf("expected ErrUnconfigured, got %v", err)
	}
	var rerr *wire.RemoteError
	if !errors.As(err, &rerr) {
		t.Errorf("expected a RemoteError, got %T", err)
	}
}
