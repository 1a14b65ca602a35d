// storage/boltdb_store.go
package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chhz0/baybikes/types"
	bolt "go.etcd.io/bbolt"
)

var (
	runBucket = []byte("run_requests")
)

type BoltStorage struct {
	db *bolt.DB
}

func NewBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	// 初始化Bucket
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStorage{db: db}, nil
}

func (s *BoltStorage) SaveRun(ctx context.Context, run *types.RunRequest) error {
	stamp(run)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runBucket)
		data, err := json.Marshal(run)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), data)
	})
}

func (s *BoltStorage) GetRun(ctx context.Context, runID string) (*types.RunRequest, error) {
	var run *types.RunRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(runBucket).Get([]byte(runID))
		if data == nil {
			return ErrRunNotFound
		}
		var err error
		run, err = types.DeserializeRunRequest(data)
		return err
	})
	return run, err
}

func (s *BoltStorage) ListRuns(ctx context.Context, status types.RunStatus, limit int) ([]*types.RunRequest, error) {
	var runs []*types.RunRequest
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(runBucket).Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var run types.RunRequest
			if err := json.Unmarshal(v, &run); err != nil {
				continue // 跳过无效数据
			}
			if run.Status == status {
				runs = append(runs, &run)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// key是uuid，需要按创建时间重新排序后再截断
	sortByCreated(runs)
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *BoltStorage) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runBucket)
		data := b.Get([]byte(runID))
		if data == nil {
			return ErrRunNotFound
		}

		var run types.RunRequest
		if err := json.Unmarshal(data, &run); err != nil {
			return err
		}

		run.Status = status
		run.Error = errMsg
		run.UpdatedAt = time.Now().UTC()
		newData, err := json.Marshal(run)
		if err != nil {
			return err
		}

		return b.Put([]byte(runID), newData)
	})
}

func (s *BoltStorage) ClaimRun(ctx context.Context, runID string, from, to types.RunStatus) (bool, error) {
	claimed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runBucket)
		data := b.Get([]byte(runID))
		if data == nil {
			return ErrRunNotFound
		}

		var run types.RunRequest
		if err := json.Unmarshal(data, &run); err != nil {
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
		if err := b.Put([]byte(runID), newData); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

func (s *BoltStorage) Close() error {
	return s.db.Close()
}
