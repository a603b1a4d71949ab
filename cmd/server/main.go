package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/escrowfund/internal/config"
	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/batch"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/domain/project"
	"github.com/rpggio/escrowfund/internal/domain/wallet"
	"github.com/rpggio/escrowfund/internal/events"
	"github.com/rpggio/escrowfund/internal/gateway"
	"github.com/rpggio/escrowfund/internal/lock"
	"github.com/rpggio/escrowfund/internal/mcp"
	"github.com/rpggio/escrowfund/internal/memledger"
	"github.com/rpggio/escrowfund/internal/platform/otel"
	"github.com/rpggio/escrowfund/internal/sqlite"
	"github.com/rpggio/escrowfund/internal/transport"
	"github.com/shopspring/decimal"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	// Use stderr for logs in stdio mode to keep stdout clean for JSON-RPC.
	logWriter := io.Writer(os.Stdout)
	if cfg.Server.Transport == config.TransportStdio {
		logWriter = os.Stderr
	}
	if cfg.Log.Path != "" {
		fileWriter, err := newLogFileWriter(cfg.Log.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer fileWriter.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracing, err := otel.Setup(ctx, "escrowfund", otel.Config{
		Enabled:  cfg.OTel.Endpoint != "",
		Endpoint: cfg.OTel.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		return fmt.Errorf("prepare database path: %w", err)
	}
	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.RunMigrations(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	ledgerGateway := gateway.New(
		memledger.New(memledger.WithFaucet(decimal.NewFromFloat(cfg.Ledger.FaucetAmount))),
		cfg.GatewaySettings(),
		logger,
	)
	if err := ledgerGateway.Connect(ctx); err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}

	wallets := wallet.NewRegistry(sqlite.NewWalletRepository(db), ledgerGateway, cfg.WalletSettings(), logger)
	seed, err := secretOrEphemeral(cfg.MasterSeed, wallet.MinSeedSize, "wallet.master_seed", logger)
	if err != nil {
		return err
	}
	platform, err := wallets.InitializePlatformWallet(ctx, seed)
	if err != nil {
		return fmt.Errorf("initialize platform wallet: %w", err)
	}
	logger.Info("platform wallet ready", "address", platform.Address)

	secrets, err := openSecretStore(ctx, db, cfg.SealKey, logger)
	if err != nil {
		return err
	}
	escrows := escrow.NewService(sqlite.NewEscrowRepository(db), secrets, ledgerGateway, wallets, cfg.EscrowSettings(), logger)

	attestors, err := cfg.TrustedAttestors()
	if err != nil {
		return err
	}
	projectRepo := sqlite.NewProjectRepository(db)
	approvals := evidence.NewManualApproval(sqlite.NewApprovalRepository(db), projectRepo, cfg.Evidence.ApprovalsRequired)
	verifier := evidence.NewRegistry()
	verifier.Register(evidence.KindRepositoryLink, evidence.NewRepositoryLink(cfg.Evidence.RepositoryHosts))
	verifier.Register(evidence.KindExternalAttestation, evidence.NewAttestation(attestors))
	verifier.Register(evidence.KindManualApproval, approvals)

	checks := map[string]transport.HealthChecker{"db": db}
	locker, lockHealth, closeLocker, err := newLocker(ctx, cfg.Lock, logger)
	if err != nil {
		return err
	}
	defer closeLocker()
	if lockHealth != nil {
		checks["redis"] = lockHealth
	}

	publisher, closePublisher, err := newPublisher(cfg.Events, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	activities := activity.NewService(sqlite.NewActivityRepository(db), logger)
	projects := project.NewService(project.Dependencies{
		Repo:       projectRepo,
		Gateway:    ledgerGateway,
		Wallets:    wallets,
		Escrows:    escrows,
		Settlement: batch.NewOrchestrator(ledgerGateway, cfg.Batch.MaxOperations, logger),
		Verifier:   verifier,
		Locker:     locker,
		Activities: activities,
		Events:     publisher,
	}, cfg.ProjectSettings(), logger)

	apiKeys := sqlite.NewAPIKeyRepository(db)
	mcpServer := mcp.NewServer(mcp.Config{
		Services: mcp.Services{
			Projects:  projects,
			Escrows:   escrows,
			Wallets:   wallets,
			Approvals: approvals,
			Activity:  activities,
		},
		Resolver:      apiKeys,
		AuthEnabled:   cfg.Auth.Enabled,
		TransportMode: cfg.Server.Transport,
		Version:       version,
		Logger:        logger,
	})

	if cfg.Server.Transport == config.TransportStdio {
		return runStdio(ctx, logger, mcpServer)
	}
	var auth transport.OperatorResolver
	if cfg.Auth.Enabled {
		auth = apiKeys
	}
	return runHTTP(ctx, cfg, logger, httpDeps{
		mcp:      mcpServer,
		auth:     auth,
		checks:   checks,
		sweeper:  projects,
		interval: cfg.Server.SweepInterval,
	})
}

// openSecretStore opens the fulfillment store. Without a configured seal key
// it only starts when no sealed fulfillment exists, since a fresh key cannot
// open them.
func openSecretStore(ctx context.Context, db *sqlite.DB, load func() ([]byte, error), logger *slog.Logger) (*sqlite.SecretStore, error) {
	key, err := load()
	if err != nil {
		return nil, err
	}
	if key == nil {
		n, err := sqlite.CountSecrets(ctx, db)
		if err != nil {
			return nil, fmt.Errorf("check sealed secrets: %w", err)
		}
		if n > 0 {
			logger.Error("sealed escrow secrets exist but no seal key is configured", "setting", "escrow.seal_key", "secrets", n)
			return nil, fmt.Errorf("escrow.seal_key is required to open %d sealed escrow secrets", n)
		}
		if key, err = secretOrEphemeral(load, sqlite.SealKeySize, "escrow.seal_key", logger); err != nil {
			return nil, err
		}
	}
	secrets, err := sqlite.NewSecretStore(db, key)
	if err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}
	return secrets, nil
}

// secretOrEphemeral returns the configured secret or, when unset, a random one
// that does not survive a restart.
func secretOrEphemeral(load func() ([]byte, error), size int, name string, logger *slog.Logger) ([]byte, error) {
	secret, err := load()
	if err != nil {
		return nil, err
	}
	if secret != nil {
		return secret, nil
	}
	logger.Warn("no secret configured, generating an ephemeral one", "setting", name)
	secret = make([]byte, size)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate %s: %w", name, err)
	}
	return secret, nil
}

func newLocker(ctx context.Context, cfg config.LockConfig, logger *slog.Logger) (lock.Locker, transport.HealthChecker, func(), error) {
	if cfg.Backend != config.LockRedis {
		return lock.NewLocal(), nil, func() {}, nil
	}
	client, err := lock.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect lock backend: %w", err)
	}
	logger.Info("using redis project locks")
	health := transport.HealthFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
	return lock.NewRedis(client, cfg.TTL, cfg.Retry, logger), health, func() { _ = client.Close() }, nil
}

func newPublisher(cfg config.EventsConfig, logger *slog.Logger) (events.Publisher, func(), error) {
	logPublisher := events.NewLogPublisher(logger)
	if len(cfg.KafkaBrokers) == 0 {
		return logPublisher, func() {}, nil
	}
	kafka, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.Topic)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka publisher: %w", err)
	}
	logger.Info("publishing events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.Topic)
	return events.Multi{logPublisher, kafka}, func() { _ = kafka.Close() }, nil
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func runStdio(ctx context.Context, logger *slog.Logger, mcpServer *sdkmcp.Server) error {
	logger.Info("starting stdio transport", "auth", "disabled")
	// Run blocks until stdin closes or the context is cancelled.
	return mcpServer.Run(ctx, &sdkmcp.StdioTransport{})
}
