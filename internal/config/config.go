// Package config loads the INI configuration file described in the
// execution core's external interface table: sql, ipc_endpoint,
// stream_endpoint, fdw, and data_store sections. A missing file or a
// missing section falls back to defaults; an unrecognized top-level
// section is a fatal orphan-entry error.
package config

import (
	"fmt"
	"os"

	"github.com/go-ini/ini"

	"github.com/dbfront/dbfront/internal/coreerr"
)

const (
	// DefaultThreadPoolSize is sql.thread_pool_size when unset.
	DefaultThreadPoolSize = 8
	// DefaultLazyWorker is sql.lazy_worker when unset.
	DefaultLazyWorker = false
	// DefaultDatabaseName is ipc_endpoint.database_name when unset.
	DefaultDatabaseName = "dbfront"
	// DefaultIPCThreads is ipc_endpoint.threads when unset.
	DefaultIPCThreads = 104
	// DefaultAdminSessions is ipc_endpoint.admin_sessions when unset.
	DefaultAdminSessions = 1
	// DefaultStreamPort is stream_endpoint.port when unset.
	DefaultStreamPort = 12345
	// DefaultStreamThreads is stream_endpoint.threads when unset.
	DefaultStreamThreads = 104
	// DefaultFDWName is fdw.name when unset.
	DefaultFDWName = "dbfront_fdw"
	// DefaultFDWThreads is fdw.threads when unset.
	DefaultFDWThreads = 8
	// DefaultLogLocation is data_store.log_location when unset (empty disables it).
	DefaultLogLocation = ""
)

// orphanSections are the only top-level sections this module recognizes,
// plus ini's own implicit DEFAULT section.
var orphanSections = map[string]bool{
	ini.DefaultSection: true,
	"sql":             true,
	"ipc_endpoint":    true,
	"stream_endpoint": true,
	"fdw":             true,
	"data_store":      true,
}

// SQL holds the sql section's keys.
type SQL struct {
	ThreadPoolSize int
	LazyWorker     bool
}

// IPCEndpoint holds the ipc_endpoint section's keys.
type IPCEndpoint struct {
	DatabaseName  string
	Threads       int
	AdminSessions int
}

// StreamEndpoint holds the stream_endpoint section's keys.
type StreamEndpoint struct {
	Port    int
	Threads int
}

// FDW holds the fdw section's keys.
type FDW struct {
	Name    string
	Threads int
}

// DataStore holds the data_store section's keys.
type DataStore struct {
	LogLocation string
}

// Config is the fully defaulted, parsed configuration.
type Config struct {
	SQL            SQL
	IPCEndpoint    IPCEndpoint
	StreamEndpoint StreamEndpoint
	FDW            FDW
	DataStore      DataStore
}

// Default returns a Config with every key at its documented default.
func Default() Config {
	return Config{
		SQL:            SQL{ThreadPoolSize: DefaultThreadPoolSize, LazyWorker: DefaultLazyWorker},
		IPCEndpoint:    IPCEndpoint{DatabaseName: DefaultDatabaseName, Threads: DefaultIPCThreads, AdminSessions: DefaultAdminSessions},
		StreamEndpoint: StreamEndpoint{Port: DefaultStreamPort, Threads: DefaultStreamThreads},
		FDW:            FDW{Name: DefaultFDWName, Threads: DefaultFDWThreads},
		DataStore:      DataStore{LogLocation: DefaultLogLocation},
	}
}

// Load reads path and returns a fully defaulted Config. A missing file
// returns Default() with no error. An unrecognized top-level section
// returns coreerr.ErrConfigOrphan.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	file, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("dbfront: config: %w: %v", coreerr.ErrConfigParse, err)
	}

	for _, section := range file.Sections() {
		if !orphanSections[section.Name()] {
			return Config{}, fmt.Errorf("dbfront: config: %w: unrecognized section %q", coreerr.ErrConfigOrphan, section.Name())
		}
	}

	applySQL(file.Section("sql"), &cfg.SQL)
	applyIPC(file.Section("ipc_endpoint"), &cfg.IPCEndpoint)
	applyStream(file.Section("stream_endpoint"), &cfg.StreamEndpoint)
	applyFDW(file.Section("fdw"), &cfg.FDW)
	applyDataStore(file.Section("data_store"), &cfg.DataStore)

	return cfg, nil
}

func applySQL(sec *ini.Section, s *SQL) {
	if sec == nil {
		return
	}
	if sec.HasKey("thread_pool_size") {
		s.ThreadPoolSize = sec.Key("thread_pool_size").MustInt(s.ThreadPoolSize)
	}
	if sec.HasKey("lazy_worker") {
		s.LazyWorker = sec.Key("lazy_worker").MustBool(s.LazyWorker)
	}
}

func applyIPC(sec *ini.Section, e *IPCEndpoint) {
	if sec == nil {
		return
	}
	if sec.HasKey("database_name") {
		e.DatabaseName = sec.Key("database_name").MustString(e.DatabaseName)
	}
	if sec.HasKey("threads") {
		e.Threads = sec.Key("threads").MustInt(e.Threads)
	}
	if sec.HasKey("admin_sessions") {
		e.AdminSessions = sec.Key("admin_sessions").MustInt(e.AdminSessions)
	}
}

func applyStream(sec *ini.Section, e *StreamEndpoint) {
	if sec == nil {
		return
	}
	if sec.HasKey("port") {
		e.Port = sec.Key("port").MustInt(e.Port)
	}
	if sec.HasKey("threads") {
		e.Threads = sec.Key("threads").MustInt(e.Threads)
	}
}

func applyFDW(sec *ini.Section, f *FDW) {
	if sec == nil {
		return
	}
	if sec.HasKey("name") {
		f.Name = sec.Key("name").MustString(f.Name)
	}
	if sec.HasKey("threads") {
		f.Threads = sec.Key("threads").MustInt(f.Threads)
	}
}

func applyDataStore(sec *ini.Section, d *DataStore) {
	if sec == nil {
		return
	}
	if sec.HasKey("log_location") {
		d.LogLocation = sec.Key("log_location").MustString(d.LogLocation)
	}
}
