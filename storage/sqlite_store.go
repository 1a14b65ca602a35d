package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/chhz0/baybikes/types"
	_ "modernc.org/sqlite" // 纯Go SQLite驱动
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}

	// 创建表结构
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS run_requests (
			id TEXT PRIMARY KEY,
			repository TEXT NOT NULL,
			pipeline TEXT NOT NULL,
			payload BLOB,
			status INTEGER NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_run_status ON run_requests(status, created_at);
	`)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) SaveRun(ctx context.Context, run *types.RunRequest) error {
	stamp(run)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO run_requests
		(id, repository, pipeline, payload, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Repository, run.Pipeline, run.Payload, run.Status,
		run.Error, run.CreatedAt, run.UpdatedAt,
	)
	return err
}

const selectRun = `SELECT id, repository, pipeline, payload, status, error, created_at, updated_at FROM run_requests`

func (s *SQLiteStorage) GetRun(ctx context.Context, runID string) (*types.RunRequest, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

func (s *SQLiteStorage) ListRuns(ctx context.Context, status types.RunStatus, limit int) ([]*types.RunRequest, error) {
	if limit <= 0 {
		limit = -1 // SQLite: 负数表示不限制
	}
	rows, err := s.db.QueryContext(ctx,
		selectRun+` WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		status, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*types.RunRequest
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (s *SQLiteStorage) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_requests SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

func (s *SQLiteStorage) ClaimRun(ctx context.Context, runID string, from, to types.RunStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_requests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().UTC(), runID, from,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}

	// 区分请求不存在和状态已被改过
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM run_requests WHERE id = ?`, runID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrRunNotFound
	}
	return false, err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*types.RunRequest, error) {
	var r types.RunRequest
	err := sc.Scan(
		&r.ID, &r.Repository, &r.Pipeline, &r.Payload, &r.Status,
		&r.Error, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
