package main

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/md-rashed-zaman/shopbook/libs/config"
	"github.com/md-rashed-zaman/shopbook/libs/db"
	"github.com/md-rashed-zaman/shopbook/libs/grpcx"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const grpcServiceName = "shopbook.booking.v1"

// startGrpcServer exposes the standard gRPC health service. Serving status follows the database ping.
func startGrpcServer(ctx context.Context, logger *slog.Logger, port string, pool *db.Pool) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerRequestIDInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go watchHealth(ctx, hs, db.ReadyCheck(pool), logger)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		srv.GracefulStop()
	}()
	return nil
}

func watchHealth(ctx context.Context, hs *health.Server, check func(context.Context) error, logger *slog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		status := healthpb.HealthCheckResponse_SERVING
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := check(checkCtx); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			logger.Warn("health check failed", "err", err)
		}
		cancel()
		hs.SetServingStatus("", status)
		hs.SetServingStatus(grpcServiceName, status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// healthcheck is the container probe: `booking-service healthcheck` exits 0 when the local gRPC
// health service reports SERVING.
func healthcheck() int {
	port := config.String("GRPC_PORT", "9093")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	conn, err := grpcx.Dial("127.0.0.1:"+port, grpcx.DialOptions{})
	if err != nil {
		return 1
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: grpcServiceName})
	if err != nil || resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}
