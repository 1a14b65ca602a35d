package main

import (
	"context"
	"fmt"
	"os"

	"github.com/chhz0/baybikes/config"
	"github.com/chhz0/baybikes/core"
	"github.com/chhz0/baybikes/pipelines"
	"github.com/spf13/cobra"
)

func init() {
	launchCmd.Flags().StringP("payload", "p", "", "path to a run config file passed to the host as is")
	rootCmd.AddCommand(launchCmd)
}

var launchCmd = &cobra.Command{
	Use:   "launch pipeline_name",
	Short: "Queue a run request in the configured storage.",
	Long: `Queue a run request in the configured storage.

A running "baybikes serve" sharing the same storage picks the request up
and hands it to its launcher.`,
	Args: cobra.ExactArgs(1),
	ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return pipelineNames(cmd), cobra.ShellCompDirectiveNoFileComp
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, ws, err := bootstrap(cmd)
		if err != nil {
			return err
		}
		if cfg.Storage.Backend == config.BackendMemory {
			return fmt.Errorf("launch needs a persistent storage backend, got %q", cfg.Storage.Backend)
		}

		var payload []byte
		if path, _ := cmd.Flags().GetString("payload"); path != "" {
			payload, err = os.ReadFile(path)
			if err != nil {
				return err
			}
		}

		ctx := context.Background()
		store, err := config.OpenStorage(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer store.Close()

		broker, err := core.NewHybridBroker(store, 1, log)
		if err != nil {
			return err
		}
		defer broker.Close()

		repo, _ := cmd.Flags().GetString("repository")
		d := core.NewDispatcher(broker, ws, nil, 1, log)
		run, err := d.Launch(ctx, repo, args[0], payload)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), run.ID)
		return nil
	},
}

func pipelineNames(cmd *cobra.Command) []string {
	repo, err := pipelines.BayBikesDemo()
	if err != nil {
		return nil
	}
	name, _ := cmd.Flags().GetString("repository")
	if name != "" && name != repo.Name() {
		return nil
	}
	return repo.Names(core.CategoryPipelines)
}
