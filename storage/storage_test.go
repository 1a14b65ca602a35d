package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chhz0/baybikes/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Storage {
	t.Helper()
	return map[string]func(t *testing.T) Storage{
		"memory": func(t *testing.T) Storage {
			return NewMemoryStorage()
		},
		"bolt": func(t *testing.T) Storage {
			s, err := NewBoltStorage(filepath.Join(t.TempDir(), "runs.db"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Storage {
			s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "runs.sqlite"))
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) Storage {
			addr := os.Getenv("BAYBIKES_TEST_REDIS")
			if addr == "" {
				t.Skip("BAYBIKES_TEST_REDIS not set")
			}
			s := NewRedisStorage(addr, "", 0)
			s.prefix = "baybikes:test:" + generateID() + ":"
			require.NoError(t, s.Ping(context.Background()))
			return s
		},
	}
}

func TestStorageBackends(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer s.Close()
			ctx := context.Background()

			t.Run("SaveAndGet", func(t *testing.T) {
				run := &types.RunRequest{
					Repository: "bay_bikes_demo",
					Pipeline:   "daily_weather_pipeline",
					Payload:    []byte(`{"date":"2026-10-17"}`),
				}
				require.NoError(t, s.SaveRun(ctx, run))
				require.NotEmpty(t, run.ID)
				assert.False(t, run.CreatedAt.IsZero())

				got, err := s.GetRun(ctx, run.ID)
				require.NoError(t, err)
				assert.Equal(t, run.ID, got.ID)
				assert.Equal(t, "daily_weather_pipeline", got.Pipeline)
				assert.Equal(t, run.Payload, got.Payload)
				assert.Equal(t, types.StatusQueued, got.Status)
			})

			t.Run("NotFound", func(t *testing.T) {
				_, err := s.GetRun(ctx, "missing")
				assert.ErrorIs(t, err, ErrRunNotFound)

				err = s.UpdateRunStatus(ctx, "missing", types.StatusFailed, "x")
				assert.ErrorIs(t, err, ErrRunNotFound)
			})

			t.Run("ClaimRun", func(t *testing.T) {
				run := &types.RunRequest{Repository: "bay_bikes_demo", Pipeline: "daily_weather_pipeline"}
				require.NoError(t, s.SaveRun(ctx, run))

				ok, err := s.ClaimRun(ctx, run.ID, types.StatusQueued, types.StatusLaunched)
				require.NoError(t, err)
				assert.True(t, ok)

				ok, err = s.ClaimRun(ctx, run.ID, types.StatusQueued, types.StatusLaunched)
				require.NoError(t, err)
				assert.False(t, ok, "a run can only be claimed once")

				got, err := s.GetRun(ctx, run.ID)
				require.NoError(t, err)
				assert.Equal(t, types.StatusLaunched, got.Status)

				_, err = s.ClaimRun(ctx, "missing", types.StatusQueued, types.StatusLaunched)
				assert.ErrorIs(t, err, ErrRunNotFound)
			})

			t.Run("ConcurrentClaim", func(t *testing.T) {
				run := &types.RunRequest{Repository: "bay_bikes_demo", Pipeline: "daily_weather_pipeline"}
				require.NoError(t, s.SaveRun(ctx, run))

				var (
					wg   sync.WaitGroup
					wins atomic.Int32
				)
				for i := 0; i < 8; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ok, err := s.ClaimRun(ctx, run.ID, types.StatusQueued, types.StatusLaunched)
						if err == nil && ok {
							wins.Add(1)
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, int32(1), wins.Load())
			})

			t.Run("ListAndUpdate", func(t *testing.T) {
				base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
				var ids []string
				for i := 0; i < 3; i++ {
					run := &types.RunRequest{
						Repository: "ordering",
						Pipeline:   "generate_training_set_and_train_model",
						Status:     types.StatusDispatching,
						CreatedAt:  base.Add(time.Duration(i) * time.Minute),
					}
					require.NoError(t, s.SaveRun(ctx, run))
					ids = append(ids, run.ID)
				}

				runs, err := s.ListRuns(ctx, types.StatusDispatching, 2)
				require.NoError(t, err)
				require.Len(t, runs, 2)
				assert.Equal(t, ids[0], runs[0].ID)
				assert.Equal(t, ids[1], runs[1].ID)

				require.NoError(t, s.UpdateRunStatus(ctx, ids[0], types.StatusFailed, "bad config"))
				got, err := s.GetRun(ctx, ids[0])
				require.NoError(t, err)
				assert.Equal(t, types.StatusFailed, got.Status)
				assert.Equal(t, "bad config", got.Error)

				runs, err = s.ListRuns(ctx, types.StatusDispatching, 0)
				require.NoError(t, err)
				assert.Len(t, runs, 2)
			})
		})
	}
}

func TestMemoryStorageReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()

	run := &types.RunRequest{Pipeline: "p"}
	require.NoError(t, s.SaveRun(ctx, run))
	run.Pipeline = "changed"

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "p", got.Pipeline)
}
