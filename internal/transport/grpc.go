package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the service name reported alongside the overall status.
const HealthService = "escrowfund.v1.Escrow"

// GRPCHealth serves the standard gRPC health protocol, reporting NOT_SERVING
// while any check fails.
type GRPCHealth struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	checks     map[string]HealthChecker
	interval   time.Duration
	logger     *slog.Logger
}

// NewGRPCHealth listens on addr. Checks run every interval once Serve starts.
func NewGRPCHealth(addr string, checks map[string]HealthChecker, interval time.Duration, logger *slog.Logger) (*GRPCHealth, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	g := &GRPCHealth{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		checks:     checks,
		interval:   interval,
		logger:     logger,
	}
	g.refresh(context.Background())
	return g, nil
}

// Addr returns the listen address.
func (g *GRPCHealth) Addr() string {
	return g.listener.Addr().String()
}

// Serve blocks until ctx is cancelled or the server fails.
func (g *GRPCHealth) Serve(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- g.grpcServer.Serve(g.listener)
	}()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.refresh(ctx)
		case <-ctx.Done():
			g.health.Shutdown()
			g.grpcServer.GracefulStop()
			err := <-serveErr
			if err == nil || errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return fmt.Errorf("serve gRPC health: %w", err)
		case err := <-serveErr:
			if err == nil || errors.Is(err, grpc.ErrServerStopped) {
				return nil
			}
			return fmt.Errorf("serve gRPC health: %w", err)
		}
	}
}

func (g *GRPCHealth) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := grpc_health_v1.HealthCheckResponse_SERVING
	for name, check := range g.checks {
		if err := check.PingContext(ctx); err != nil {
			g.logger.Warn("health check failed", "check", name, "error", err)
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		}
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(HealthService, status)
}
