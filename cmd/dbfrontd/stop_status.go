package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbfront/dbfront"
)

func newStopCommand() *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Send a termination signal to the dbfrontd process named by the pid file",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, err := dbfront.DefaultPidFilePath()
			if err != nil {
				return err
			}
			pid, err := readPidFile(pidPath)
			if err != nil {
				return fmt.Errorf("dbfrontd: not running (%w)", err)
			}
			if !pidAlive(pid) {
				removePidFile(pidPath)
				return fmt.Errorf("dbfrontd: pid %d from %s is not running", pid, pidPath)
			}
			process, err := os.FindProcess(pid)
			if err != nil {
				return err
			}
			if err := process.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("dbfrontd: signal pid %d: %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent SIGTERM to pid %d\n", pid)

			deadline := time.Now().Add(wait)
			for wait > 0 && time.Now().Before(deadline) {
				if !pidAlive(pid) {
					fmt.Fprintf(cmd.OutOrStdout(), "pid %d exited\n", pid)
					return nil
				}
				time.Sleep(100 * time.Millisecond)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 10*time.Second, "how long to wait for the process to exit (0 to not wait)")
	return cmd
}

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether dbfrontd is running, per its pid file",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, err := dbfront.DefaultPidFilePath()
			if err != nil {
				return err
			}
			pid, err := readPidFile(pidPath)
			if err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), "not running (no pid file)")
				return nil
			}
			if pidAlive(pid) {
				fmt.Fprintf(cmd.OutOrStdout(), "running, pid %d (%s)\n", pid, pidPath)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "not running (stale pid %d in %s)\n", pid, pidPath)
			return nil
		},
	}
	return cmd
}
