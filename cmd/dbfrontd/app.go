package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dbfront/dbfront"
	"github.com/dbfront/dbfront/internal/lifecycle"
	"github.com/dbfront/dbfront/internal/svcfields"
	"pkt.systems/pslog"
)

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "dbfrontd",
		Short: "dbfrontd runs the dbfront execution core: scheduler, IPC/Stream endpoints, and session manager",
		Example: `
  # Run in the foreground using ~/.dbfront/dbfront.ini (or built-in defaults)
  dbfrontd serve

  # Run against an explicit config file
  dbfrontd serve --config /etc/dbfront/dbfront.ini

  # Inspect sessions on a running server
  dbfrontd session list --addr localhost:12345
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindViper(cmd)
		},
	}

	persistent := cmd.PersistentFlags()
	persistent.StringVarP(&configPath, "config", "c", "", "path to the INI config file (defaults to $HOME/.dbfront/"+dbfront.DefaultConfigFileName+")")
	persistent.StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	_ = viper.BindPFlag("config", persistent.Lookup("config"))
	_ = viper.BindPFlag("log-level", persistent.Lookup("log-level"))

	cmd.AddCommand(
		newServeCommand(baseLogger, &configPath),
		newStartCommand(baseLogger, &configPath),
		newStopCommand(),
		newStatusCommand(),
		newSessionCommand(),
	)
	return cmd
}

func bindViper(cmd *cobra.Command) error {
	viper.SetEnvPrefix("DBFRONT")
	viper.AutomaticEnv()
	return nil
}

func resolvedLogger(baseLogger pslog.Logger, cmd *cobra.Command) pslog.Logger {
	logLevel := strings.TrimSpace(viper.GetString("log-level"))
	if logLevel == "" {
		logLevel = "info"
	}
	if level, ok := pslog.ParseLevel(logLevel); ok {
		return baseLogger.LogLevel(level)
	}
	return baseLogger
}

func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	dir, err := dbfront.DefaultConfigDir()
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(dir, dbfront.DefaultConfigFileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", nil
}

func newServeCommand(baseLogger pslog.Logger, configPath *string) *cobra.Command {
	var metricsAddr string
	var watchConfig bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, baseLogger, *configPath, metricsAddr, watchConfig)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", "", "Prometheus /metrics listen address (empty disables)")
	cmd.Flags().BoolVar(&watchConfig, "watch-config", false, "re-read data_store.log_location from the config file on every write")
	return cmd
}

func newStartCommand(baseLogger pslog.Logger, configPath *string) *cobra.Command {
	serve := newServeCommand(baseLogger, configPath)
	serve.Use = "start"
	serve.Short = "Alias for serve: runs the server in the foreground until interrupted"
	return serve
}

func runServe(cmd *cobra.Command, baseLogger pslog.Logger, configPathFlag, metricsAddr string, watchConfig bool) error {
	logger := resolvedLogger(baseLogger, cmd)
	cliLogger := svcfields.WithSubsystem(logger, "cli.serve")

	configPath, err := resolveConfigPath(configPathFlag)
	if err != nil {
		return err
	}
	cfg, err := dbfront.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if configPath != "" {
		cliLogger.Info("loaded config file", "path", configPath)
	}

	opts := []dbfront.Option{dbfront.WithLogger(logger)}
	if metricsAddr != "" {
		opts = append(opts, dbfront.WithMetricsAddr(metricsAddr))
	}
	if watchConfig && configPath != "" {
		opts = append(opts, dbfront.WithConfigWatch(configPath))
	}

	srv, err := dbfront.NewServer(cfg, opts...)
	if err != nil {
		return err
	}

	pidPath, pidErr := dbfront.DefaultPidFilePath()
	serveErrCh := make(chan error, 1)

	mgr := lifecycle.New(logger)
	mgr.Register(lifecycle.Component{
		Name: "pidfile",
		Setup: func(context.Context) error {
			if pidErr != nil {
				return nil
			}
			return writePidFile(pidPath, os.Getpid())
		},
		Shutdown: func(context.Context) error {
			if pidErr == nil {
				removePidFile(pidPath)
			}
			return nil
		},
	})
	mgr.Register(lifecycle.Component{
		Name: "server",
		Start: func(context.Context) error {
			go func() { serveErrCh <- srv.Start() }()
			return nil
		},
		Shutdown: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})

	ctx := cmd.Context()
	if err := mgr.Start(ctx); err != nil {
		return err
	}

	cliLogger.Info("dbfrontd starting",
		"pid", os.Getpid(),
		"ipc_threads", cfg.IPCEndpoint.Threads,
		"stream_port", cfg.StreamEndpoint.Port,
		"sql_threads", cfg.SQL.ThreadPoolSize,
	)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErrCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		cliLogger.Error("serve.shutdown_failed", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("dbfrontd: %w", runErr)
	}
	return nil
}
