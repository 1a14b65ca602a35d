// storage/redis_store.go
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/chhz0/baybikes/types"
	"github.com/go-redis/redis/v8"
)

const DefaultRedisTTL = 7 * 24 * time.Hour

type RedisStorage struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStorage(addr, password string, db int) *RedisStorage {
	return &RedisStorage{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: "baybikes:run:",
		ttl:    DefaultRedisTTL,
	}
}

func (s *RedisStorage) key(id string) string {
	return s.prefix + id
}

// Ping 检查连接是否可用
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) SaveRun(ctx context.Context, run *types.RunRequest) error {
	stamp(run)
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(run.ID), data, s.ttl).Err()
}

func (s *RedisStorage) GetRun(ctx context.Context, runID string) (*types.RunRequest, error) {
	data, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return types.DeserializeRunRequest(data)
}

func (s *RedisStorage) ListRuns(ctx context.Context, status types.RunStatus, limit int) ([]*types.RunRequest, error) {
	var (
		runs   []*types.RunRequest
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		if len(keys) > 0 {
			// 每页一次MGET
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return nil, err
			}
			for _, v := range values {
				data, ok := v.(string)
				if !ok {
					continue // 扫描期间过期
				}
				var run types.RunRequest
				if err := json.Unmarshal([]byte(data), &run); err != nil {
					continue
				}
				if run.Status == status {
					runs = append(runs, &run)
				}
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	sortByCreated(runs)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *RedisStorage) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}

	run.Status = status
	run.Error = errMsg
	run.UpdatedAt = time.Now().UTC()
	newData, err := json.Marshal(run)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, s.key(runID), newData, redis.KeepTTL).Err()
}

// ClaimRun 用WATCH保证并发节点中只有一个能改成功
func (s *RedisStorage) ClaimRun(ctx context.Context, runID string, from, to types.RunStatus) (bool, error) {
	key := s.key(runID)
	claimed := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrRunNotFound
		}
		if err != nil {
			return err
		}

		run, err := types.DeserializeRunRequest(data)
		if err != nil {
			return err
		}
		if run.Status != from {
			return nil
		}

		run.Status = to
		run.UpdatedAt = time.Now().UTC()
		newData, err := json.Marshal(run)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		claimed = true
		return nil
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// 其他节点在WATCH之后改了这个key
		return false, nil
	}
	return claimed, err
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}
