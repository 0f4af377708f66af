package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dbfront/dbfront/internal/coreerr"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadAppliesKeysAndDefaultsMissingSections(t *testing.T) {
	path := writeINI(t, `
[sql]
thread_pool_size = 16
lazy_worker = true

[ipc_endpoint]
database_name = mydb
threads = 200
admin_sessions = 2
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 16, cfg.SQL.ThreadPoolSize)
	require.True(t, cfg.SQL.LazyWorker)
	require.Equal(t, "mydb", cfg.IPCEndpoint.DatabaseName)
	require.Equal(t, 200, cfg.IPCEndpoint.Threads)
	require.Equal(t, 2, cfg.IPCEndpoint.AdminSessions)
	require.Equal(t, DefaultStreamPort, cfg.StreamEndpoint.Port)
	require.Equal(t, DefaultFDWName, cfg.FDW.Name)
}

func TestLoadOrphanSectionIsFatal(t *testing.T) {
	path := writeINI(t, `
[sql]
thread_pool_size = 4

[unknown_section]
foo = bar
`)
	_, err := Load(path)
	require.ErrorIs(t, err, coreerr.ErrConfigOrphan)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeINI(t, "[data_store]\nlog_location = /tmp/a\n")

	changes := make(chan ReloadableFields, 4)
	w, err := NewWatcher(path, func(f ReloadableFields) { changes <- f }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	require.NoError(t, os.WriteFile(path, []byte("[data_store]\nlog_location = /tmp/b\n"), 0o644))

	select {
	case f := <-changes:
		require.Equal(t, "/tmp/b", f.LogLocation)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not observe the write")
	}
}

func writeINI(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbfront.ini")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
