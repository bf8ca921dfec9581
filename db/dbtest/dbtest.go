// Package dbtest provides test helpers backed by an in-memory sqlite store.
package dbtest

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"sms-server-go/db"
	"sms-server-go/logger"
)

// NewStore opens a migrated in-memory store that is closed when the test ends.
func NewStore(t testing.TB) *db.Store {
	t.Helper()
	UseTestLogger(t)

	ctx := context.Background()
	store, err := db.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(ctx))
	return store
}

// NewSession returns a Session on a fresh store. The store has a single
// connection, so the test must not acquire a second Session.
func NewSession(t testing.TB) *db.Session {
	t.Helper()
	store := NewStore(t)
	sess, err := store.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Release() })
	return sess
}

// UseTestLogger sends package logs to t.Log for the duration of the test.
// Logs only appear on test failure or when running with -v.
func UseTestLogger(t testing.TB) {
	t.Helper()
	prev := logger.Logger
	logger.Logger = slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	t.Cleanup(func() { logger.Logger = prev })
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}
