package dbfront

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/dbfront/dbfront/internal/config"
)

// Config is the fully parsed, fully defaulted configuration NewServer
// consumes: the sql/ipc_endpoint/stream_endpoint/fdw/data_store sections
// internal/config.Load reads from an INI file, unchanged here since the
// execution core has nothing to add above that schema.
type Config = config.Config

// DefaultConfig returns a Config with every key at its documented default.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads path and returns a fully defaulted Config. A missing
// file returns DefaultConfig() with no error.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// DefaultConfigFileName is the INI file searched for under
// DefaultConfigDir when the CLI's --config flag is omitted.
const DefaultConfigFileName = "dbfront.ini"

// DefaultConfigDir returns the directory the CLI defaults to for its
// config file and runtime state (pid file): $DBFRONT_CONFIG_DIR if
// set, else $HOME/.dbfront.
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("DBFRONT_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		return filepath.Abs(override)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".dbfront"), nil
}

// DefaultPidFilePath returns DefaultConfigDir/dbfrontd.pid.
func DefaultPidFilePath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "dbfrontd.pid"), nil
}
