// server/server.go
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/chhz0/baybikes/core"
	"github.com/chhz0/baybikes/middleware"
	"github.com/chhz0/baybikes/storage"
	"github.com/chhz0/baybikes/transport"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	broker     *core.HybridBroker
	dispatcher *core.Dispatcher
	workspace  *core.Workspace
	counters   *middleware.Counters
	transport  transport.Transport
	httpServer *http.Server
	logger     *slog.Logger

	shutdownTimeout time.Duration
}

type Config struct {
	HTTPAddr        string
	WorkerCount     int
	QueueSize       int
	SyncInterval    time.Duration
	ShutdownTimeout time.Duration
	StorageBackend  storage.Storage
	// Transport 非空时启用集群模式
	Transport transport.Transport
	Workspace *core.Workspace
	Launcher  core.Launcher
	Logger    *slog.Logger
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Workspace == nil {
		return nil, errors.New("workspace cannot be nil")
	}
	if cfg.Launcher == nil {
		return nil, errors.New("launcher cannot be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		broker *core.HybridBroker
		err    error
	)
	if cfg.Transport != nil {
		broker, err = core.NewHybridBrokerWithCluster(cfg.StorageBackend, cfg.Transport, cfg.QueueSize, logger)
	} else {
		broker, err = core.NewHybridBroker(cfg.StorageBackend, cfg.QueueSize, logger)
	}
	if err != nil {
		return nil, err
	}
	if cfg.SyncInterval > 0 {
		broker.SyncInterval = cfg.SyncInterval
	}

	counters := middleware.NewCounters()
	workspace := cfg.Workspace.WithMiddleware(middleware.Chain(
		middleware.Logger(logger),
		middleware.Metrics(counters),
	))

	dispatcher := core.NewDispatcher(broker, workspace, cfg.Launcher, cfg.WorkerCount, logger)

	s := &Server{
		broker:          broker,
		dispatcher:      dispatcher,
		workspace:       workspace,
		counters:        counters,
		transport:       cfg.Transport,
		logger:          logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 30 * time.Second
	}
	s.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.Handler(),
	}
	return s, nil
}

// Handler 暴露路由，测试直接使用
func (s *Server) Handler() http.Handler {
	return newRouter(&routes{
		workspace:  s.workspace,
		dispatcher: s.dispatcher,
		store:      s.broker.Storage(),
		counters:   s.counters,
		transport:  s.transport,
	})
}

// Start 运行HTTP服务和分发器，ctx取消后优雅关闭
func (s *Server) Start(ctx context.Context) error {
	if err := s.broker.Start(ctx); err != nil {
		return err
	}
	s.dispatcher.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		// 优雅关闭
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		err := s.httpServer.Shutdown(shutdownCtx)
		s.dispatcher.Stop()
		if cerr := s.broker.Close(); err == nil {
			err = cerr
		}
		s.logger.Info("server stopped")
		return err
	})

	return g.Wait()
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
