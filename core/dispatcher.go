// core/dispatcher.go
package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chhz0/baybikes/logger"
	"github.com/chhz0/baybikes/types"
	"github.com/google/uuid"
)

// Launcher 宿主的执行层：拿到构造好的流水线后如何真正启动由宿主决定
type Launcher func(ctx context.Context, run *types.RunRequest, pipeline *types.Pipeline) error

// Dispatcher 从Broker取出运行请求，按名字构造流水线后交给Launcher
type Dispatcher struct {
	broker     Broker
	workspace  *Workspace
	launcher   Launcher
	maxWorkers int
	logger     *slog.Logger

	wg      sync.WaitGroup
	cancel  context.CancelFunc
	mu      sync.Mutex
	running bool
}

func NewDispatcher(broker Broker, workspace *Workspace, launcher Launcher, maxWorkers int, logger *slog.Logger) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		broker:     broker,
		workspace:  workspace,
		launcher:   launcher,
		maxWorkers: maxWorkers,
		logger:     logger,
	}
}

// Launch 校验仓库和流水线名字存在后入队。这里不构造流水线
func (d *Dispatcher) Launch(ctx context.Context, repo, pipeline string, payload []byte) (*types.RunRequest, error) {
	r, err := d.workspace.Repository(repo)
	if err != nil {
		return nil, err
	}
	if !r.Has(CategoryPipelines, pipeline) {
		return nil, &NotFoundError{Repository: repo, Category: CategoryPipelines, Name: pipeline}
	}

	run := &types.RunRequest{
		ID:         uuid.New().String(),
		Repository: repo,
		Pipeline:   pipeline,
		Payload:    payload,
		Status:     types.StatusQueued,
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.broker.Enqueue(ctx, run); err != nil {
		return nil, fmt.Errorf("enqueue run for %s/%s: %w", repo, pipeline, err)
	}
	d.logger.Info("run request queued", "run_id", run.ID, "repository", repo, "pipeline", pipeline)
	return run, nil
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	for i := 0; i < d.maxWorkers; i++ {
		d.wg.Add(1)
		go d.runWorker(ctx)
	}
}

// Stop 停止所有worker并等待正在处理的请求结束
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}

	d.cancel()
	d.wg.Wait()
	d.running = false
}

func (d *Dispatcher) runWorker(ctx context.Context) {
	defer d.wg.Done()

	queue := d.broker.Consume(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case run, ok := <-queue:
			if !ok {
				return
			}
			d.dispatch(ctx, run)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, run *types.RunRequest) {
	defer d.broker.Done(run.ID)
	runLog := d.logger.With("run_id", run.ID, "repository", run.Repository, "pipeline", run.Pipeline)

	// syncLoop 和其他节点都可能拿到同一个请求
	claimed, err := d.broker.ClaimRun(ctx, run.ID)
	if err != nil {
		runLog.Warn("claiming run request", "error", err)
		return
	}
	if !claimed {
		return
	}

	// Stop之后仍要写完最终状态，否则请求会卡在dispatching
	statusCtx := context.WithoutCancel(ctx)

	current := *run
	current.Status = types.StatusDispatching
	err = d.resolveAndLaunch(logger.WithLogger(ctx, runLog), &current)
	if err != nil {
		runLog.Error("run dispatch failed", "error", err)
		if uerr := d.broker.UpdateRunStatus(statusCtx, run.ID, types.StatusFailed, err.Error()); uerr != nil {
			runLog.Warn("recording failure", "error", uerr)
		}
		return
	}

	if uerr := d.broker.UpdateRunStatus(statusCtx, run.ID, types.StatusLaunched, ""); uerr != nil {
		runLog.Warn("recording launch", "error", uerr)
	}
	runLog.Info("run launched")
}

// resolveAndLaunch 流水线在这里才被构造，失败不重试
func (d *Dispatcher) resolveAndLaunch(ctx context.Context, run *types.RunRequest) (err error) {
	p, err := d.workspace.Pipeline(run.Repository, run.Pipeline)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("launcher panicked: %v", r)
		}
	}()
	return d.launcher(ctx, run, p)
}
