package main

import (
	"errors"
	"fmt"

	"github.com/danmuck/rosclient/internal/appmode"
	"github.com/danmuck/rosclient/internal/logging"
	"github.com/danmuck/rosclient/internal/observability"
	"github.com/spf13/cobra"
)

// codeError carries a process exit code out of a command.
type codeError struct {
	code int
	err  error
}

func (e *codeError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *codeError) Unwrap() error {
	return e.err
}

func withCode(code int, err error) error {
	return &codeError{code: code, err: err}
}

func exitCode(err error) int {
	var ce *codeError
	if errors.As(err, &ce) {
		return ce.code
	}
	if errors.Is(err, appmode.ErrConfiguration) {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rosclient",
		Short:         "Headless robot graph client",
		Long:          `rosclient connects to (or starts) a master registry, resolves the robot namespace and runs the session nodes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			observability.InitLogger("rosclient")
			if level, _ := cmd.Flags().GetString("log-level"); level != "" {
				if !logging.SetLevel(level) {
					return withCode(2, fmt.Errorf("unknown log level %q", level))
				}
			}
			return nil
		},
	}
	root.PersistentFlags().String("config", "", "TOML config file")
	root.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")

	root.AddCommand(newRunCmd(), newProbeCmd(), newSaveMapCmd())
	return root
}

// loadConfig reads --config when given.
func loadConfig(cmd *cobra.Command) (clientConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return defaultClientConfig(), nil
	}
	cfg, err := loadClientConfig(path)
	if err != nil {
		return clientConfig{}, withCode(2, err)
	}
	if !cmd.Flags().Changed("log-level") && cfg.LogLevel != "" {
		logging.SetLevel(cfg.LogLevel)
	}
	return cfg, nil
}
