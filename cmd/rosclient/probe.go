package main

import (
	"fmt"

	"github.com/danmuck/rosclient/internal/lifecycle"
	"github.com/danmuck/rosclient/internal/master"
	"github.com/spf13/cobra"
)

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe URI",
		Short: "Validate a master URI and check that the master answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			ep, err := master.ParseEndpoint(args[0])
			if err != nil {
				fmt.Fprintln(out, master.FailureInvalidAddress.Message())
				return withCode(2, err)
			}
			if err := lifecycle.RegistryProbe(cfg.ProbeTimeout)(cmd.Context(), ep); err != nil {
				fmt.Fprintln(out, master.ClassifyConnectError(err).Message())
				return withCode(1, err)
			}
			fmt.Fprintf(out, "master %s is reachable\n", ep)
			return nil
		},
	}
}
