package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rpggio/escrowfund/internal/domain/condition"
	"github.com/rpggio/escrowfund/internal/domain/project"
	"github.com/rpggio/escrowfund/internal/sqlite"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	require.Equal(t, slog.LevelError, parseLogLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}

func TestLogFileWriter_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "server.log")
	w, err := newLogFileWriter(path)
	require.NoError(t, err)
	w.maxSize, w.keep = 64, 16
	t.Cleanup(func() { _ = w.Close() })

	_, err = w.Write(bytes.Repeat([]byte("a"), 60))
	require.NoError(t, err)
	_, err = w.Write([]byte("0123456789abcdef"))
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "0123456789abcdef", string(got))
}

func TestSecretOrEphemeral(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	configured := []byte("configured")
	got, err := secretOrEphemeral(func() ([]byte, error) { return configured, nil }, 32, "x", logger)
	require.NoError(t, err)
	require.Equal(t, configured, got)

	got, err = secretOrEphemeral(func() ([]byte, error) { return nil, nil }, 32, "x", logger)
	require.NoError(t, err)
	require.Len(t, got, 32)

	_, err = secretOrEphemeral(func() ([]byte, error) { return nil, errors.New("bad hex") }, 32, "x", logger)
	require.Error(t, err)
}

func TestOpenSecretStore_RefusesEphemeralKeyOverSealedSecrets(t *testing.T) {
	ctx := context.Background()
	db := sqlite.NewTestDB(t)
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	unset := func() ([]byte, error) { return nil, nil }

	// An empty store starts with a fresh key.
	store, err := openSecretStore(ctx, db, unset, logger)
	require.NoError(t, err)
	_, ful, err := condition.Generate()
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "e1", ful))

	_, err = openSecretStore(ctx, db, unset, logger)
	require.ErrorContains(t, err, "escrow.seal_key")
	require.Contains(t, logs.String(), "level=ERROR")

	key, err := sqlite.NewSealKey()
	require.NoError(t, err)
	_, err = openSecretStore(ctx, db, func() ([]byte, error) { return key, nil }, logger)
	require.NoError(t, err)
}

type countingSweeper struct{ calls atomic.Int32 }

func (s *countingSweeper) SweepDeadlines(context.Context) (*project.SweepReport, error) {
	s.calls.Add(1)
	return &project.SweepReport{FailedProjects: []string{"p1"}}, nil
}

func TestSweepLoop(t *testing.T) {
	s := &countingSweeper{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweepLoop(ctx, s, 5*time.Millisecond, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
		close(done)
	}()

	require.Eventually(t, func() bool { return s.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestEnsureDBDir(t *testing.T) {
	require.NoError(t, ensureDBDir(":memory:"))
	dir := filepath.Join(t.TempDir(), "nested", rand.Text())
	require.NoError(t, ensureDBDir(filepath.Join(dir, "escrowfund.db")))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
