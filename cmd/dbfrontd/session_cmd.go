package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbfront/dbfront/internal/endpoint/stream"
	"github.com/dbfront/dbfront/internal/router"
	"github.com/dbfront/dbfront/internal/session"
)

// sessionClientConfig holds the flags shared by every "session" leaf
// subcommand: where to dial and how long to wait.
type sessionClientConfig struct {
	addr    string
	timeout time.Duration
}

func addSessionClientFlags(cmd *cobra.Command) *sessionClientConfig {
	cfg := &sessionClientConfig{}
	cmd.PersistentFlags().StringVar(&cfg.addr, "addr", "localhost:12345", "dbfrontd Stream endpoint address (host:port)")
	cmd.PersistentFlags().DurationVar(&cfg.timeout, "timeout", 5*time.Second, "dial and call timeout")
	return cfg
}

func (c *sessionClientConfig) dial(ctx context.Context) (*stream.AdminConn, error) {
	admin, err := stream.DialAdmin(ctx, c.addr, "dbfrontd-cli", "dbfrontd", "", c.timeout)
	if err != nil {
		return nil, fmt.Errorf("dbfrontd: connecting to %s: %w", c.addr, err)
	}
	return admin, nil
}

func newSessionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect and manage sessions on a running dbfrontd, over its Stream endpoint",
	}
	cfg := addSessionClientFlags(cmd)
	cmd.AddCommand(
		newSessionListCommand(cfg),
		newSessionGetCommand(cfg),
		newSessionShutdownCommand(cfg),
		newSessionSetVariableCommand(cfg),
		newSessionGetVariableCommand(cfg),
	)
	return cmd
}

func newSessionListCommand(cfg *sessionClientConfig) *cobra.Command {
	var outputType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			admin, err := cfg.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer admin.Close()
			body, err := admin.Call(uint16(router.ServiceSessionList), nil)
			if err != nil {
				return err
			}
			entries, err := router.DecodeEntries(body)
			if err != nil {
				return err
			}
			return printEntries(cmd, entries, outputType)
		},
	}
	cmd.Flags().StringVarP(&outputType, "output", "o", "text", "output format (json|text)")
	return cmd
}

func newSessionGetCommand(cfg *sessionClientConfig) *cobra.Command {
	var specifier, outputType string
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Look up one session by numeric id or correlation id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if specifier == "" {
				return fmt.Errorf("dbfrontd: --session is required")
			}
			admin, err := cfg.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer admin.Close()
			body, err := admin.Call(uint16(router.ServiceSessionGet), router.EncodeGetRequest(specifier))
			if err != nil {
				return err
			}
			entries, err := router.DecodeEntries(body)
			if err != nil {
				return err
			}
			return printEntries(cmd, entries, outputType)
		},
	}
	cmd.Flags().StringVarP(&specifier, "session", "s", "", "numeric session id or correlation id")
	cmd.Flags().StringVarP(&outputType, "output", "o", "text", "output format (json|text)")
	return cmd
}

func newSessionShutdownCommand(cfg *sessionClientConfig) *cobra.Command {
	var specifier string
	var forceful bool
	cmd := &cobra.Command{
		Use:   "shutdown",
		Short: "Request a session shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			if specifier == "" {
				return fmt.Errorf("dbfrontd: --session is required")
			}
			kind := session.ShutdownGraceful
			if forceful {
				kind = session.ShutdownForceful
			}
			admin, err := cfg.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer admin.Close()
			if _, err := admin.Call(uint16(router.ServiceSessionShutdown), router.EncodeShutdownRequest(specifier, kind)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "shutdown requested for session %s\n", specifier)
			return nil
		},
	}
	cmd.Flags().StringVarP(&specifier, "session", "s", "", "numeric session id or correlation id")
	cmd.Flags().BoolVar(&forceful, "force", false, "request a forceful shutdown instead of a graceful drain")
	return cmd
}

func newSessionSetVariableCommand(cfg *sessionClientConfig) *cobra.Command {
	var specifier, name, value, varType string
	cmd := &cobra.Command{
		Use:   "set-variable",
		Short: "Set a session variable",
		RunE: func(cmd *cobra.Command, args []string) error {
			if specifier == "" || name == "" {
				return fmt.Errorf("dbfrontd: --session and --name are required")
			}
			kind, encoded, err := encodeVariableValue(varType, value)
			if err != nil {
				return err
			}
			admin, err := cfg.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer admin.Close()
			if _, err := admin.Call(uint16(router.ServiceSessionSetVariable), router.EncodeSetVariableRequest(specifier, name, kind, encoded)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "set %s on session %s\n", name, specifier)
			return nil
		},
	}
	cmd.Flags().StringVarP(&specifier, "session", "s", "", "numeric session id or correlation id")
	cmd.Flags().StringVar(&name, "name", "", "variable name")
	cmd.Flags().StringVar(&value, "value", "", "variable value")
	cmd.Flags().StringVar(&varType, "type", "string", "variable type (string|int64|bool)")
	return cmd
}

func newSessionGetVariableCommand(cfg *sessionClientConfig) *cobra.Command {
	var specifier, name string
	cmd := &cobra.Command{
		Use:   "get-variable",
		Short: "Read a session variable",
		RunE: func(cmd *cobra.Command, args []string) error {
			if specifier == "" || name == "" {
				return fmt.Errorf("dbfrontd: --session and --name are required")
			}
			admin, err := cfg.dial(cmd.Context())
			if err != nil {
				return err
			}
			defer admin.Close()
			body, err := admin.Call(uint16(router.ServiceSessionGetVariable), router.EncodeGetVariableRequest(specifier, name))
			if err != nil {
				return err
			}
			kind, value, err := router.DecodeVariable(body)
			if err != nil {
				return err
			}
			rendered, err := router.DecodeVariableString(kind, value)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return nil
		},
	}
	cmd.Flags().StringVarP(&specifier, "session", "s", "", "numeric session id or correlation id")
	cmd.Flags().StringVar(&name, "name", "", "variable name")
	return cmd
}

func encodeVariableValue(varType, value string) (session.VariableType, []byte, error) {
	switch varType {
	case "string":
		return session.VariableTypeString, []byte(value), nil
	case "int64":
		var n int64
		if _, err := fmt.Sscanf(value, "%d", &n); err != nil {
			return 0, nil, fmt.Errorf("dbfrontd: --value must be an integer for type int64: %w", err)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(n))
		return session.VariableTypeInt64, buf, nil
	case "bool":
		switch value {
		case "true", "1":
			return session.VariableTypeBool, []byte{1}, nil
		case "false", "0", "":
			return session.VariableTypeBool, []byte{0}, nil
		default:
			return 0, nil, fmt.Errorf("dbfrontd: --value must be true/false for type bool")
		}
	default:
		return 0, nil, fmt.Errorf("dbfrontd: unknown --type %q (want string|int64|bool)", varType)
	}
}

func printEntries(cmd *cobra.Command, entries []router.ClientEntry, outputType string) error {
	if outputType == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "no sessions")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%d\tlabel=%s\tapp=%s\tuser=%s\tconn=%s(%s)\tcorrelation=%s\tstart=%s\n",
			e.NumericID, e.Label, e.Application, e.User, e.ConnectionType, e.ConnectionInfo, e.CorrelationID,
			e.StartTime.Format(time.RFC3339))
	}
	return nil
}
