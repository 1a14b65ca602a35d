package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chhz0/baybikes/config"
	"github.com/chhz0/baybikes/logger"
	"github.com/chhz0/baybikes/server"
	"github.com/chhz0/baybikes/transport"
	"github.com/chhz0/baybikes/types"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the repositories over HTTP and dispatch run requests.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, ws, err := bootstrap(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := config.OpenStorage(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer store.Close()

		var tr transport.Transport
		if cfg.Cluster {
			r := cfg.Storage.Redis
			tr, err = transport.NewRedisTransport(r.Addr, r.Password, r.DB, log)
			if err != nil {
				return err
			}
		}

		srv, err := server.NewServer(server.Config{
			HTTPAddr:        cfg.HTTPAddr,
			WorkerCount:     cfg.Workers,
			QueueSize:       cfg.QueueSize,
			SyncInterval:    cfg.SyncInterval,
			ShutdownTimeout: cfg.ShutdownTimeout,
			StorageBackend:  store,
			Transport:       tr,
			Workspace:       ws,
			Launcher:        logLauncher,
			Logger:          log,
		})
		if err != nil {
			if tr != nil {
				tr.Close()
			}
			return err
		}
		return srv.Start(ctx)
	},
}

// logLauncher 默认的宿主执行层：只记录交接，真正的执行器由部署方替换。
// 日志带着dispatcher放进ctx的run_id等字段
func logLauncher(ctx context.Context, run *types.RunRequest, p *types.Pipeline) error {
	logger.FromContext(ctx).Info("handing pipeline to executor",
		"steps", len(p.Steps),
		"payload_bytes", len(run.Payload),
	)
	return nil
}
