package main

import (
	"errors"
	"fmt"

	"github.com/danmuck/rosclient/internal/appmode"
	"github.com/danmuck/rosclient/internal/boundcall"
	"github.com/danmuck/rosclient/internal/graph"
	"github.com/danmuck/rosclient/internal/mapsave"
	"github.com/danmuck/rosclient/internal/master"
	"github.com/danmuck/rosclient/internal/registry"
	"github.com/spf13/cobra"
)

var errSaveTimedOut = errors.New("map save timed out")

func newSaveMapCmd() *cobra.Command {
	var (
		masterURI string
		namespace string
		remaps    string
	)
	cmd := &cobra.Command{
		Use:   "save-map NAME",
		Short: "Ask the robot to save its current map",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ep, err := master.ParseEndpoint(masterURI)
			if err != nil {
				return withCode(2, fmt.Errorf("%s: %w", master.FailureInvalidAddress.Message(), err))
			}
			rm, err := parseRemaps(remaps)
			if err != nil {
				return err
			}

			saver := mapsave.New(
				mapsave.MasterLocator(registry.NewClient(ep)),
				mapsave.WithTimeout(cfg.SaveTimeout),
				mapsave.WithRemappings(rm),
			)
			saver.SetNameResolver(graph.NewNameResolver(namespace, nil))

			out := cmd.OutOrStdout()
			var result error
			kind := saver.SaveMap(cmd.Context(), args[0], mapsave.Callbacks{
				OnSuccess: func(r mapsave.Response) {
					fmt.Fprintf(out, "map %s saved %s\n", args[0], r.Path)
				},
				OnFailure: func(err error) {
					result = err
				},
				OnTimeout: func() {
					result = errSaveTimedOut
				},
			})
			if kind != boundcall.Success {
				return withCode(1, fmt.Errorf("%s", userMessage(result)))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&masterURI, "master", "", "master URI")
	cmd.Flags().StringVar(&namespace, "namespace", "/", "robot namespace the save service lives under")
	cmd.Flags().StringVar(&remaps, "remaps", "", "YAML name remapping map")
	_ = cmd.MarkFlagRequired("master")
	return cmd
}

func parseRemaps(payload string) (graph.Remappings, error) {
	l, err := appmode.ParseLaunch(appmode.Args{Remappings: payload}, "")
	if err != nil {
		return nil, err
	}
	return l.Remaps, nil
}
