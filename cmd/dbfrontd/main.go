// Command dbfrontd runs the dbfront execution core: the task scheduler,
// the IPC and Stream endpoint listeners, and the session manager,
// assembled by internal/lifecycle and driven by cobra/viper the way
// cmd/lockd drives the teacher's server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"pkt.systems/pslog"
)

func main() {
	os.Exit(submain(context.Background()))
}

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(
		pslog.WithEnvPrefix("DBFRONT_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "dbfrontd")

	ctx = withSignalCancel(ctx)
	cmd := newRootCommand(baseLogger)
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
		return 1
	}
	return 0
}

func withSignalCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx
}
