package session_test

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/coreerr"
	"github.com/dbfront/dbfront/internal/session"
)

func TestRegistryListEmptyInitially(t *testing.T) {
	t.Parallel()

	r := session.NewRegistry(nil)
	require.Empty(t, r.List())
}

func TestRegistryRegisterListGetShutdown(t *testing.T) {
	t.Parallel()

	r := session.NewRegistry(nil)
	ctx := session.NewContext(111, "L", "app", "user", session.ConnectionStream, "127.0.0.1:1")
	require.True(t, r.Register(ctx))

	entries := r.List()
	require.Len(t, entries, 1)
	require.Equal(t, uint64(111), entries[0].NumericID)
	require.Equal(t, "L", entries[0].Label)

	byID, err := r.Get(":111")
	require.NoError(t, err)
	require.Same(t, ctx, byID)

	byLabel, err := r.Get("L")
	require.NoError(t, err)
	require.Same(t, ctx, byLabel)

	require.NoError(t, r.Shutdown(":111", session.ShutdownGraceful))
	require.Equal(t, session.ShutdownGraceful, ctx.ShutdownRequested())

	_, err = r.Get(":222")
	require.ErrorIs(t, err, coreerr.ErrSessionNotFound)
}

func TestRegistryDuplicateNumericIDRejected(t *testing.T) {
	t.Parallel()

	r := session.NewRegistry(nil)
	ctx1 := session.NewContext(5, "a", "", "", session.ConnectionLoopback, "")
	ctx2 := session.NewContext(5, "b", "", "", session.ConnectionLoopback, "")
	require.True(t, r.Register(ctx1))
	require.False(t, r.Register(ctx2), "numeric id must be assigned at most once")
}

func TestRegistryAmbiguousLabel(t *testing.T) {
	t.Parallel()

	r := session.NewRegistry(nil)
	require.True(t, r.Register(session.NewContext(1, "dup", "", "", session.ConnectionLoopback, "")))
	require.True(t, r.Register(session.NewContext(2, "dup", "", "", session.ConnectionLoopback, "")))

	_, err := r.Get("dup")
	require.Error(t, err)
}

func TestRegistryDropsUnreachableSession(t *testing.T) {
	t.Parallel()

	r := session.NewRegistry(nil)
	register := func() {
		ctx := session.NewContext(9, "gone", "", "", session.ConnectionLoopback, "")
		require.True(t, r.Register(ctx))
	}
	register()

	require.Eventually(t, func() bool {
		runtime.GC()
		return len(r.List()) == 0
	}, time.Second, 10*time.Millisecond, "session must be unreachable once the worker's strong reference is gone")
}
