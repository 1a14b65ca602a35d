package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/chhz0/baybikes/types"
	"github.com/google/uuid"
)

var (
	ErrRunNotFound = errors.New("run request not found")
)

type Storage interface {
	SaveRun(ctx context.Context, run *types.RunRequest) error
	GetRun(ctx context.Context, runID string) (*types.RunRequest, error)
	// ListRuns 按创建时间升序返回指定状态的请求
	ListRuns(ctx context.Context, status types.RunStatus, limit int) ([]*types.RunRequest, error)
	UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error
	// ClaimRun 原子地把状态从from改成to，状态不是from时返回false
	ClaimRun(ctx context.Context, runID string, from, to types.RunStatus) (bool, error)
	Close() error
}

// stamp 补齐ID和时间戳，各存储实现保存前调用
func stamp(run *types.RunRequest) {
	now := time.Now().UTC()
	if run.ID == "" {
		run.ID = generateID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
}

func generateID() string {
	return uuid.New().String()
}

func sortByCreated(runs []*types.RunRequest) {
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.Before(runs[j].CreatedAt) })
}
