package testutil

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/specialistvlad/mgmtcore/internal/ctxlog"
)

// Context returns a context carrying a debug logger. Log output is discarded
// unless MGMTCORE_TEST_LOGS=true, in which case it goes to the test log.
func Context(t testing.TB) context.Context {
	t.Helper()
	ctx, _ := ContextWithBuffer(t)
	return ctx
}

// ContextWithBuffer returns a context whose logger writes into the returned
// buffer, so tests can assert on log output.
func ContextWithBuffer(t testing.TB) (context.Context, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if os.Getenv("MGMTCORE_TEST_LOGS") == "true" {
		t.Cleanup(func() {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), buf.String())
		})
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctxlog.WithLogger(ctx, logger), buf
}
