package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/escrowfund/internal/config"
	"github.com/rpggio/escrowfund/internal/domain/project"
	"github.com/rpggio/escrowfund/internal/transport"
	"golang.org/x/sync/errgroup"
)

type sweeper interface {
	SweepDeadlines(ctx context.Context) (*project.SweepReport, error)
}

type httpDeps struct {
	mcp      *sdkmcp.Server
	auth     transport.OperatorResolver
	checks   map[string]transport.HealthChecker
	sweeper  sweeper
	interval time.Duration
}

func runHTTP(ctx context.Context, cfg config.Config, logger *slog.Logger, deps httpDeps) error {
	mcpHandler := sdkmcp.NewStreamableHTTPHandler(
		func(*http.Request) *sdkmcp.Server { return deps.mcp },
		&sdkmcp.StreamableHTTPOptions{SessionTimeout: 30 * time.Minute},
	)
	var authMiddleware func(http.Handler) http.Handler
	if deps.auth != nil {
		authMiddleware = transport.AuthMiddleware(deps.auth)
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           transport.NewServer(mcpHandler, authMiddleware, deps.checks),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var health *transport.GRPCHealth
	if cfg.Server.GRPCPort > 0 {
		var err error
		grpcAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort))
		health, err = transport.NewGRPCHealth(grpcAddr, deps.checks, 0, logger)
		if err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	if health != nil {
		g.Go(func() error {
			logger.Info("grpc health listening", "addr", health.Addr())
			return health.Serve(ctx)
		})
	}

	if deps.interval > 0 {
		g.Go(func() error {
			sweepLoop(ctx, deps.sweeper, deps.interval, logger)
			return nil
		})
	}

	return g.Wait()
}

// sweepLoop runs deadline sweeps until ctx is cancelled. Failures are logged
// and retried on the next tick.
func sweepLoop(ctx context.Context, s sweeper, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		report, err := s.SweepDeadlines(ctx)
		if err != nil {
			logger.Warn("deadline sweep incomplete", "error", err)
		}
		if report != nil && (len(report.FailedProjects) > 0 || len(report.CancelledEscrows) > 0) {
			logger.Info("deadline sweep",
				"failed_projects", len(report.FailedProjects),
				"cancelled_escrows", len(report.CancelledEscrows),
				"refunded_investments", len(report.RefundedInvestments))
		}
	}
}
