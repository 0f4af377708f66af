package dbfront

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SQL.ThreadPoolSize = 2
	cfg.IPCEndpoint.Threads = 2
	cfg.IPCEndpoint.AdminSessions = 1
	cfg.StreamEndpoint.Port = 0
	cfg.StreamEndpoint.Threads = 4
	return cfg
}

func TestNewServerWiresEverySubsystem(t *testing.T) {
	srv, err := NewServer(testConfig())
	require.NoError(t, err)
	require.NotNil(t, srv.Scheduler())
	require.NotNil(t, srv.Sessions())
	require.NotNil(t, srv.Router())
}

func TestServerStartAndShutdown(t *testing.T) {
	srv, err := NewServer(testConfig())
	require.NoError(t, err)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.WaitUntilReady(ctx))

	require.NoError(t, srv.Shutdown(context.Background()))

	select {
	case err := <-serveErrCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}

func TestServerDoubleShutdownIsNoop(t *testing.T) {
	srv, err := NewServer(testConfig())
	require.NoError(t, err)

	go srv.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.WaitUntilReady(ctx))

	require.NoError(t, srv.Shutdown(context.Background()))
	require.NoError(t, srv.Shutdown(context.Background()))
}
