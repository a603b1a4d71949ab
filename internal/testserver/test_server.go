// Package testserver runs the full escrowfund stack over an in-memory ledger
// and database for end-to-end tests.
package testserver

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rpggio/escrowfund/internal/config"
	"github.com/rpggio/escrowfund/internal/domain/activity"
	"github.com/rpggio/escrowfund/internal/domain/batch"
	"github.com/rpggio/escrowfund/internal/domain/escrow"
	"github.com/rpggio/escrowfund/internal/domain/evidence"
	"github.com/rpggio/escrowfund/internal/domain/project"
	"github.com/rpggio/escrowfund/internal/domain/wallet"
	"github.com/rpggio/escrowfund/internal/lock"
	"github.com/rpggio/escrowfund/internal/mcp"
	"github.com/rpggio/escrowfund/internal/memledger"
	"github.com/rpggio/escrowfund/internal/sqlite"
	"github.com/rpggio/escrowfund/internal/transport"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// AttestorName is the trusted attestor whose key is TestServer.Attestor.
const AttestorName = "auditor"

// Clock is a settable time source shared by every service.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type TestServer struct {
	Server    *httptest.Server
	DB        *sqlite.DB
	Ledger    *memledger.Ledger
	Wallets   *wallet.Registry
	Projects  *project.Service
	Escrows   *escrow.Service
	Approvals *evidence.ManualApproval
	Activity  *activity.Service
	MCP       *sdkmcp.Server
	Clock     *Clock
	Attestor  ed25519.PrivateKey
	Token     string
	Operator  string
}

// New starts the stack with auth enabled and token registered for operator.
func New(t *testing.T, token, operator string) *TestServer {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()

	clk := &Clock{now: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	mem := memledger.New(memledger.WithClock(clk.Now), memledger.WithFaucet(decimal.NewFromInt(100000)))
	db := sqlite.NewTestDB(t)

	wallets := wallet.NewRegistry(sqlite.NewWalletRepository(db), mem, cfg.WalletSettings(), nil)
	_, err := wallets.InitializePlatformWallet(ctx, bytes.Repeat([]byte{7}, wallet.MinSeedSize))
	require.NoError(t, err)

	key, err := sqlite.NewSealKey()
	require.NoError(t, err)
	secrets, err := sqlite.NewSecretStore(db, key)
	require.NoError(t, err)
	escrows := escrow.NewService(sqlite.NewEscrowRepository(db), secrets, mem, wallets, cfg.EscrowSettings(), nil, escrow.WithClock(clk.Now))

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	projectRepo := sqlite.NewProjectRepository(db)
	approvals := evidence.NewManualApproval(sqlite.NewApprovalRepository(db), projectRepo, cfg.Evidence.ApprovalsRequired)
	verifier := evidence.NewRegistry()
	verifier.Register(evidence.KindRepositoryLink, evidence.NewRepositoryLink(cfg.Evidence.RepositoryHosts))
	verifier.Register(evidence.KindExternalAttestation, evidence.NewAttestation(map[string]ed25519.PublicKey{AttestorName: pub}))
	verifier.Register(evidence.KindManualApproval, approvals)

	activities := activity.NewService(sqlite.NewActivityRepository(db), nil)
	projects := project.NewService(project.Dependencies{
		Repo:       projectRepo,
		Gateway:    mem,
		Wallets:    wallets,
		Escrows:    escrows,
		Settlement: batch.NewOrchestrator(mem, cfg.Batch.MaxOperations, nil),
		Verifier:   verifier,
		Locker:     lock.NewLocal(),
		Activities: activities,
	}, cfg.ProjectSettings(), nil, project.WithClock(clk.Now))

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
		AuthEnabled:   true,
		TransportMode: config.TransportHTTP,
		Version:       "test",
	})
	handler := sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server { return mcpServer }, nil)
	server := httptest.NewServer(transport.NewServer(handler, transport.AuthMiddleware(apiKeys), map[string]transport.HealthChecker{"db": db}))
	t.Cleanup(server.Close)

	ts := &TestServer{
		Server:    server,
		DB:        db,
		Ledger:    mem,
		Wallets:   wallets,
		Projects:  projects,
		Escrows:   escrows,
		Approvals: approvals,
		Activity:  activities,
		MCP:       mcpServer,
		Clock:     clk,
		Attestor:  priv,
		Token:     token,
		Operator:  operator,
	}
	require.NoError(t, ts.AddAPIKey(token, operator))
	return ts
}

func (ts *TestServer) AddAPIKey(token, operator string) error {
	return sqlite.NewAPIKeyRepository(ts.DB).Add(context.Background(), token, operator, "test key")
}

// Connect opens an MCP client session over HTTP authenticated with token.
func (ts *TestServer) Connect(t *testing.T, token string) *sdkmcp.ClientSession {
	t.Helper()
	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), &sdkmcp.StreamableClientTransport{
		Endpoint:   ts.Server.URL + "/mcp",
		HTTPClient: &http.Client{Transport: bearer{token: token, next: http.DefaultTransport}},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

// Sign signs statement with the attestor key.
func (ts *TestServer) Sign(statement string) []byte {
	return ed25519.Sign(ts.Attestor, []byte(statement))
}

type bearer struct {
	token string
	next  http.RoundTripper
}

func (b bearer) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+b.token)
	return b.next.RoundTrip(req)
}
