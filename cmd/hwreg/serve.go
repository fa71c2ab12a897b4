package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"hwreg/bus/rpc"
	"hwreg/bus/websocket"
	"hwreg/desc"
	"hwreg/ral"
	"hwreg/util/env"
)

var (
	serveDesc     string
	serveHost     string
	serveWSPort   int
	serveGRPCPort int

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve a simulated device over websocket and gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := desc.Load(serveDesc)
			if err != nil {
				return err
			}
			s, err := desc.BuildSimulator(root, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return serve(ctx, s.Callbacks(),
				net.JoinHostPort(serveHost, strconv.Itoa(serveWSPort)),
				net.JoinHostPort(serveHost, strconv.Itoa(serveGRPCPort)),
			)
		},
	}
)

func init() {
	serveCmd.Flags().StringVar(&serveDesc, "desc", env.GetOrDefault("HWREG_DESC", ""), "register map description (YAML or JSON)")
	serveCmd.Flags().StringVar(&serveHost, "host", env.GetOrDefault("HWREG_LISTEN_HOST", "0.0.0.0"), "address to listen on")
	serveCmd.Flags().IntVar(&serveWSPort, "ws-port", env.IntOrDefault("HWREG_WS_PORT", 27637), "websocket port")
	serveCmd.Flags().IntVar(&serveGRPCPort, "grpc-port", env.IntOrDefault("HWREG_GRPC_PORT", 27638), "gRPC port")
	_ = serveCmd.MarkFlagRequired("desc")
}

// serve answers websocket requests on /ws/ at wsAddr and hwreg.Bus calls at grpcAddr until ctx
// is done or either listener fails.
func serve(ctx context.Context, cb ral.CallbackSet, wsAddr, grpcAddr string) error {
	wsLis, err := net.Listen("tcp", wsAddr)
	if err != nil {
		return err
	}
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		wsLis.Close()
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/", websocket.NewHandler(cb, logger.Named("ws")))
	httpServer := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(rpc.LoggingInterceptor(logger.Named("grpc"))))
	rpc.Register(grpcServer, cb, logger.Named("grpc"))

	errs := make(chan error, 2)
	go func() {
		logger.Info("websocket listening", zap.Stringer("addr", wsLis.Addr()))
		errs <- httpServer.Serve(wsLis)
	}()
	go func() {
		logger.Info("grpc listening", zap.Stringer("addr", grpcLis.Addr()))
		errs <- grpcServer.Serve(grpcLis)
	}()

	select {
	case <-ctx.Done():
		err = nil
	case err = <-errs:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	grpcServer.Stop()

	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}
