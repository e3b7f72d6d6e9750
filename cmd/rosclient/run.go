package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/rosclient/internal/appmode"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a client session",
		Long: `Binds the execution service, resolves a master (flag, launcher or interactive prompt),
starts the namespace resolver and then the session nodes. Commands are read from stdin once the
session is ready; type "help" for the list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("manager") {
				opts.Launch.ManagerCommand = cfg.Manager
			}
			if !cmd.Flags().Changed("app-name") {
				opts.Launch.AppName = cfg.AppName
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := newSession(cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			code, err := s.run(ctx)
			if err != nil {
				return withCode(code, err)
			}
			if code != 0 {
				return withCode(code, nil)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Master, "master", "", "existing master URI, e.g. http://192.168.1.5:11311/")
	f.BoolVar(&opts.NewMaster, "new-master", false, "start a local master")
	f.BoolVar(&opts.Private, "private", false, "with --new-master: bind loopback on an ephemeral port")
	f.StringVar(&opts.Host, "host", "", "hostname advertised to the graph")
	f.StringVar(&opts.Launch.ModeTag, "mode", "", "launch mode: standalone, paired or concert")
	f.StringVar(&opts.Launch.AppName, "app-name", "", "application name")
	f.StringVar(&opts.Launch.Parameters, "params", "", "YAML parameter map")
	f.StringVar(&opts.Launch.Remappings, "remaps", "", "YAML name remapping map")
	f.StringVar(&opts.Launch.MasterDescription, "master-description", "", "YAML master description (required in paired and concert modes)")
	f.StringVar(&opts.Launch.ManagerCommand, "manager", "", "command that takes control back on back navigation")
	cmd.MarkFlagsMutuallyExclusive("master", "new-master")
	return cmd
}

type runOptions struct {
	Master    string
	NewMaster bool
	Private   bool
	Host      string
	Launch    appmode.Args
}
