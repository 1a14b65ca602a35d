// core/broker.go
package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chhz0/baybikes/storage"
	"github.com/chhz0/baybikes/transport"
	"github.com/chhz0/baybikes/types"
)

var ErrBrokerClosed = errors.New("broker closed")

type Broker interface {
	Enqueue(ctx context.Context, run *types.RunRequest) error
	Consume(ctx context.Context) <-chan *types.RunRequest
	// Done 消费方处理完一个请求后调用
	Done(runID string)
	UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error
	// ClaimRun 多个消费方拿到同一个请求时只有一个能抢占成功
	ClaimRun(ctx context.Context, runID string) (bool, error)
	Close() error
	Storage() storage.Storage
}

// HybridBroker 内存队列 + 持久化存储。队列满时请求只留在存储中，由syncLoop补回
type HybridBroker struct {
	memQueue chan *types.RunRequest
	storage  storage.Storage
	memSize  int
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{} // 已进入内存队列但尚未处理完的请求
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	transport   transport.Transport
	clusterMode bool

	SyncInterval time.Duration
}

// NewHybridBroker 构造函数（补充存储参数校验）
func NewHybridBroker(storage storage.Storage, memSize int, logger *slog.Logger) (*HybridBroker, error) {
	if storage == nil {
		return nil, errors.New("storage cannot be nil")
	}
	if memSize <= 0 {
		return nil, errors.New("queue size must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &HybridBroker{
		memQueue:     make(chan *types.RunRequest, memSize),
		storage:      storage,
		memSize:      memSize,
		logger:       logger,
		pending:      make(map[string]struct{}),
		SyncInterval: 3 * time.Second,
	}, nil
}

func NewHybridBrokerWithCluster(storage storage.Storage, transport transport.Transport, memSize int, logger *slog.Logger) (*HybridBroker, error) {
	hb, err := NewHybridBroker(storage, memSize, logger)
	if err != nil {
		return nil, err
	}
	hb.transport = transport
	hb.clusterMode = true
	return hb, nil
}

// Start 启动后台协程：存储同步，集群模式下还有集群消费
func (hb *HybridBroker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	hb.mu.Lock()
	hb.cancel = cancel
	hb.mu.Unlock()

	if hb.clusterMode {
		ch, err := hb.transport.SubscribeRuns(ctx)
		if err != nil {
			cancel()
			return err
		}
		hb.wg.Add(1)
		go hb.consumeClusterRuns(ch)
	}

	hb.wg.Add(1)
	go hb.syncLoop(ctx)
	return nil
}

// 消费其他节点转发来的请求
func (hb *HybridBroker) consumeClusterRuns(ch <-chan *types.RunRequest) {
	defer hb.wg.Done()

	for run := range ch {
		if !hb.offer(run) {
			// 本地队列满时留在存储里，syncLoop会补回
			hb.logger.Debug("local queue full, leaving run in storage", "run_id", run.ID)
		}
	}
}

// Enqueue 先持久化再入队；集群模式下转发给选中的节点
func (hb *HybridBroker) Enqueue(ctx context.Context, run *types.RunRequest) error {
	if run == nil {
		return errors.New("cannot enqueue nil run request")
	}
	if hb.isClosed() {
		return ErrBrokerClosed
	}

	run.Status = types.StatusQueued
	if err := hb.storage.SaveRun(ctx, run); err != nil {
		return err
	}

	if hb.clusterMode {
		node, err := hb.transport.SelectNode()
		if err == nil && node != hb.transport.NodeID() {
			if err := hb.transport.PublishRun(ctx, node, run); err == nil {
				return nil
			}
			hb.logger.Warn("cluster publish failed, dispatching locally", "run_id", run.ID, "node", node)
		}
	}

	if !hb.offer(run) {
		hb.logger.Debug("memory queue full, run persisted", "run_id", run.ID)
	}
	return nil
}

// offer 非阻塞入队，重复的请求直接忽略
func (hb *HybridBroker) offer(run *types.RunRequest) bool {
	hb.mu.Lock()
	defer hb.mu.Unlock()

	if hb.closed {
		return false
	}
	if _, ok := hb.pending[run.ID]; ok {
		return true
	}
	select {
	case hb.memQueue <- run:
		hb.pending[run.ID] = struct{}{}
		return true
	default:
		return false
	}
}

// Consume 返回内存队列，多个消费者共享同一个channel
func (hb *HybridBroker) Consume(ctx context.Context) <-chan *types.RunRequest {
	return hb.memQueue
}

func (hb *HybridBroker) Done(runID string) {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	delete(hb.pending, runID)
}

// syncLoop 定期从存储加载排队中的请求
func (hb *HybridBroker) syncLoop(ctx context.Context) {
	defer hb.wg.Done()

	ticker := time.NewTicker(hb.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hb.syncOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (hb *HybridBroker) syncOnce(ctx context.Context) {
	runs, err := hb.storage.ListRuns(ctx, types.StatusQueued, hb.memSize)
	if err != nil {
		hb.logger.Warn("loading queued runs failed", "error", err)
		return
	}
	for _, run := range runs {
		if !hb.offer(run) {
			return // 内存队列满
		}
	}
}

func (hb *HybridBroker) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error {
	return hb.storage.UpdateRunStatus(ctx, runID, status, errMsg)
}

func (hb *HybridBroker) ClaimRun(ctx context.Context, runID string) (bool, error) {
	return hb.storage.ClaimRun(ctx, runID, types.StatusQueued, types.StatusDispatching)
}

func (hb *HybridBroker) isClosed() bool {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return hb.closed
}

// Close 关闭队列并等待后台协程退出，存储由调用方关闭
func (hb *HybridBroker) Close() error {
	hb.mu.Lock()
	if hb.closed {
		hb.mu.Unlock()
		return nil
	}
	hb.closed = true
	if hb.cancel != nil {
		hb.cancel()
	}
	close(hb.memQueue)
	hb.mu.Unlock()

	var err error
	if hb.transport != nil {
		err = hb.transport.Close()
	}
	hb.wg.Wait()
	return err
}

func (hb *HybridBroker) Storage() storage.Storage {
	return hb.storage
}
