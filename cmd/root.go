package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/chhz0/baybikes/config"
	"github.com/chhz0/baybikes/core"
	"github.com/chhz0/baybikes/logger"
	"github.com/chhz0/baybikes/pipelines"
	"github.com/spf13/cobra"
)

// Version is set during the build process using -ldflags="-X 'main.Version=...'"
var Version = "development"

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the yaml config file")
	rootCmd.PersistentFlags().StringP("repository", "r", pipelines.RepositoryName, "repository to operate on")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "if set disable all logs")
}

var rootCmd = &cobra.Command{
	Use:           "baybikes",
	Short:         "Expose the bay bikes pipelines to an orchestration host.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// bootstrap 加载配置、logger，并构造唯一的工作区
func bootstrap(cmd *cobra.Command) (*config.Config, *slog.Logger, *core.Workspace, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}

	log := logger.Discard()
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		level, _ := logger.ParseLevel(cfg.LogLevel)
		log = logger.New(os.Stderr, level)
	}
	slog.SetDefault(log)

	ws, err := newWorkspace()
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, ws, nil
}

func newWorkspace() (*core.Workspace, error) {
	repo, err := pipelines.BayBikesDemo()
	if err != nil {
		return nil, fmt.Errorf("loading repository: %w", err)
	}
	return core.NewWorkspace(repo)
}
