package transport

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/chhz0/baybikes/types"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Transport 在多个宿主节点间转发运行请求
type Transport interface {
	PublishRun(ctx context.Context, nodeID string, run *types.RunRequest) error
	SubscribeRuns(ctx context.Context) (<-chan *types.RunRequest, error)
	NodeID() string
	SelectNode() (string, error)
	DiscoverNodes(ctx context.Context) ([]string, error)
	Close() error
}

var (
	RunChannel        = "run_requests"
	NodeChannel       = "node_heartbeats"
	DiscoveryKey      = "baybikes_nodes"
	HeartbeatInterval = 5 * time.Second
	NodeTimeout       = 15 * time.Second
)

var ErrNoNodes = errors.New("no available nodes")

// RedisPubSub 实现
type RedisPubSub struct {
	client        *redis.Client
	ctx           context.Context
	cancel        context.CancelFunc
	nodeID        string
	nodes         map[string]time.Time // 节点ID:最后心跳时间
	nodesMutex    sync.RWMutex
	channelPrefix string
	logger        *slog.Logger
	next          int
}

func NewRedisTransport(addr, password string, db int, logger *slog.Logger) (*RedisPubSub, error) {
	ctx, cancel := context.WithCancel(context.Background())

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		IdleTimeout:  5 * time.Minute,
	})

	// 验证连接
	if err := client.Ping(ctx).Err(); err != nil {
		cancel()
		client.Close()
		return nil, err
	}

	rs := &RedisPubSub{
		client:        client,
		ctx:           ctx,
		cancel:        cancel,
		nodeID:        uuid.New().String(),
		channelPrefix: "baybikes_",
		nodes:         make(map[string]time.Time),
		logger:        logger,
	}
	rs.nodes[rs.nodeID] = time.Now()

	if err := rs.registerNode(); err != nil {
		rs.Close()
		return nil, err
	}

	go rs.heartbeatLoop()
	go rs.nodeDiscoveryLoop()

	return rs, nil
}

func (rs *RedisPubSub) NodeID() string {
	return rs.nodeID
}

// 每个节点只订阅自己的频道，一个请求只会被一个节点消费
func (rs *RedisPubSub) runChannel(nodeID string) string {
	return rs.channelPrefix + RunChannel + ":" + nodeID
}

// 发布运行请求到指定节点
func (rs *RedisPubSub) PublishRun(ctx context.Context, nodeID string, run *types.RunRequest) error {
	data, err := run.Serialize()
	if err != nil {
		return err
	}
	return rs.client.Publish(ctx, rs.runChannel(nodeID), data).Err()
}

// 订阅发给本节点的运行请求
func (rs *RedisPubSub) SubscribeRuns(ctx context.Context) (<-chan *types.RunRequest, error) {
	pubsub := rs.client.Subscribe(ctx, rs.runChannel(rs.nodeID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	ch := make(chan *types.RunRequest, 100)
	go func() {
		defer close(ch)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				run, err := types.DeserializeRunRequest([]byte(msg.Payload))
				if err != nil {
					rs.logger.Warn("dropping malformed run request", "error", err)
					continue
				}
				select {
				case ch <- run:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}

func (rs *RedisPubSub) registerNode() error {
	// 使用有序集合维护节点列表
	return rs.client.ZAdd(rs.ctx, DiscoveryKey, &redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: rs.nodeID,
	}).Err()
}

// DiscoverNodes 返回最近活跃的节点
func (rs *RedisPubSub) DiscoverNodes(ctx context.Context) ([]string, error) {
	nodes, err := rs.client.ZRangeByScore(ctx, DiscoveryKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(time.Now().Add(-NodeTimeout).Unix(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	// 更新本地节点缓存
	rs.nodesMutex.Lock()
	defer rs.nodesMutex.Unlock()
	for _, node := range nodes {
		if _, exists := rs.nodes[node]; !exists {
			rs.nodes[node] = time.Now()
		}
	}
	return nodes, nil
}

// 关闭连接，同时从节点列表移除自己
func (rs *RedisPubSub) Close() error {
	rs.client.ZRem(context.Background(), DiscoveryKey, rs.nodeID)
	rs.cancel()
	return rs.client.Close()
}

// 心跳循环
func (rs *RedisPubSub) heartbeatLoop() {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := rs.registerNode(); err != nil {
				rs.logger.Warn("heartbeat failed", "node", rs.nodeID, "error", err)
				continue
			}
			rs.client.Publish(rs.ctx, rs.channelPrefix+NodeChannel, rs.nodeID)
			rs.nodesMutex.Lock()
			rs.nodes[rs.nodeID] = time.Now()
			rs.nodesMutex.Unlock()

		case <-rs.ctx.Done():
			return
		}
	}
}

// 节点发现循环
func (rs *RedisPubSub) nodeDiscoveryLoop() {
	pubsub := rs.client.Subscribe(rs.ctx, rs.channelPrefix+NodeChannel)
	defer pubsub.Close()

	msgs := pubsub.Channel()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			rs.nodesMutex.Lock()
			rs.nodes[msg.Payload] = time.Now()
			rs.nodesMutex.Unlock()

		case <-rs.ctx.Done():
			return
		}
	}
}

// SelectNode 在心跳未超时的节点间轮询
func (rs *RedisPubSub) SelectNode() (string, error) {
	rs.nodesMutex.Lock()
	defer rs.nodesMutex.Unlock()

	cutoff := time.Now().Add(-NodeTimeout)
	var alive []string
	for nodeID, seen := range rs.nodes {
		if seen.After(cutoff) {
			alive = append(alive, nodeID)
		}
	}
	if len(alive) == 0 {
		return "", ErrNoNodes
	}
	sort.Strings(alive)
	rs.next = (rs.next + 1) % len(alive)
	return alive[rs.next], nil
}
