// storage/memory_store.go
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/chhz0/baybikes/types"
)

type MemoryStorage struct {
	runs map[string]*types.RunRequest
	mu   sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		runs: make(map[string]*types.RunRequest),
	}
}

func (s *MemoryStorage) SaveRun(ctx context.Context, run *types.RunRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp(run)
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStorage) GetRun(ctx context.Context, runID string) (*types.RunRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (s *MemoryStorage) ListRuns(ctx context.Context, status types.RunStatus, limit int) ([]*types.RunRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.RunRequest
	for _, r := range s.runs {
		if r.Status == status {
			cp := *r
			result = append(result, &cp)
		}
	}
	sortByCreated(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStorage) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return ErrRunNotFound
	}
	run.Status = status
	run.Error = errMsg
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStorage) ClaimRun(ctx context.Context, runID string, from, to types.RunStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return false, ErrRunNotFound
	}
	if run.Status != from {
		return false, nil
	}
	run.Status = to
	run.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *MemoryStorage) Close() error {
	return nil // 无需关闭操作
}
