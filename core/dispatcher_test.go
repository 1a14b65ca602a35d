package core

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/chhz0/baybikes/logger"
	"github.com/chhz0/baybikes/storage"
	"github.com/chhz0/baybikes/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type launched struct {
	mu   sync.Mutex
	runs map[string]string // run id -> pipeline name
}

func (l *launched) launcher(ctx context.Context, run *types.RunRequest, p *types.Pipeline) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[run.ID] = p.Name
	return nil
}

func (l *launched) get(id string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	name, ok := l.runs[id]
	return name, ok
}

type fixture struct {
	store      *storage.MemoryStorage
	dispatcher *Dispatcher
	broker     *HybridBroker
	launched   *launched
	weather    *int
	mu         *sync.Mutex
}

func newFixture(t *testing.T, launcher Launcher) *fixture {
	t.Helper()

	var mu sync.Mutex
	weather := 0
	repo := MustRegister("bay_bikes_demo", func() Definitions {
		return Definitions{
			CategoryPipelines: {
				{Name: "daily_weather_pipeline", Accessor: PipelineAccessor(func() (*types.Pipeline, error) {
					mu.Lock()
					weather++
					mu.Unlock()
					return types.NewPipeline("daily_weather_pipeline", "")
				})},
				{Name: "broken", Accessor: PipelineAccessor(func() (*types.Pipeline, error) {
					return nil, errors.New("bad config")
				})},
			},
		}
	})
	ws, err := NewWorkspace(repo)
	require.NoError(t, err)

	store := storage.NewMemoryStorage()
	broker, err := NewHybridBroker(store, 8, nil)
	require.NoError(t, err)

	l := &launched{runs: make(map[string]string)}
	if launcher == nil {
		launcher = l.launcher
	}
	d := NewDispatcher(broker, ws, launcher, 2, nil)

	t.Cleanup(func() {
		d.Stop()
		broker.Close()
	})
	return &fixture{store: store, dispatcher: d, broker: broker, launched: l, weather: &weather, mu: &mu}
}

func (f *fixture) waitStatus(t *testing.T, id string, want types.RunStatus) *types.RunRequest {
	t.Helper()
	var run *types.RunRequest
	require.Eventually(t, func() bool {
		r, err := f.store.GetRun(context.Background(), id)
		if err != nil {
			return false
		}
		run = r
		return r.Status == want
	}, 2*time.Second, 10*time.Millisecond)
	return run
}

func TestLaunchDispatchesPipeline(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	run, err := f.dispatcher.Launch(ctx, "bay_bikes_demo", "daily_weather_pipeline", []byte(`{"date":"2026-10-17"}`))
	require.NoError(t, err)
	assert.Equal(t, types.StatusQueued, run.Status)

	f.mu.Lock()
	assert.Equal(t, 0, *f.weather, "queueing a run must not construct the pipeline")
	f.mu.Unlock()

	f.dispatcher.Start(ctx)
	f.waitStatus(t, run.ID, types.StatusLaunched)

	name, ok := f.launched.get(run.ID)
	require.True(t, ok)
	assert.Equal(t, "daily_weather_pipeline", name)

	f.mu.Lock()
	assert.Equal(t, 1, *f.weather)
	f.mu.Unlock()
}

func TestLaunchUnknownPipeline(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.dispatcher.Launch(context.Background(), "bay_bikes_demo", "nope", nil)
	assert.True(t, IsNotFound(err))

	_, err = f.dispatcher.Launch(context.Background(), "other_repo", "daily_weather_pipeline", nil)
	assert.True(t, IsNotFound(err))

	runs, err := f.store.ListRuns(context.Background(), types.StatusQueued, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestConstructionFailureMarksRunFailed(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.dispatcher.Start(ctx)

	run, err := f.dispatcher.Launch(ctx, "bay_bikes_demo", "broken", nil)
	require.NoError(t, err)

	failed := f.waitStatus(t, run.ID, types.StatusFailed)
	assert.Contains(t, failed.Error, "bad config")
	_, ok := f.launched.get(run.ID)
	assert.False(t, ok)
}

func TestLauncherErrorAndPanic(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	f := newFixture(t, func(ctx context.Context, run *types.RunRequest, p *types.Pipeline) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return errors.New("executor unavailable")
		}
		panic("executor crashed")
	})
	ctx := context.Background()
	f.dispatcher.Start(ctx)

	first, err := f.dispatcher.Launch(ctx, "bay_bikes_demo", "daily_weather_pipeline", nil)
	require.NoError(t, err)
	failed := f.waitStatus(t, first.ID, types.StatusFailed)
	assert.Contains(t, failed.Error, "executor unavailable")

	second, err := f.dispatcher.Launch(ctx, "bay_bikes_demo", "daily_weather_pipeline", nil)
	require.NoError(t, err)
	failed = f.waitStatus(t, second.ID, types.StatusFailed)
	assert.Contains(t, failed.Error, "executor crashed")
}

func TestDispatchSkipsAlreadyHandledRuns(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	run, err := f.dispatcher.Launch(ctx, "bay_bikes_demo", "daily_weather_pipeline", nil)
	require.NoError(t, err)
	require.NoError(t, f.store.UpdateRunStatus(ctx, run.ID, types.StatusLaunched, ""))

	f.dispatcher.dispatch(ctx, run)

	_, ok := f.launched.get(run.ID)
	assert.False(t, ok)
}

func demoWorkspace(t *testing.T) *Workspace {
	t.Helper()
	p, err := types.NewPipeline("daily_weather_pipeline", "")
	require.NoError(t, err)
	ws, err := NewWorkspace(MustRegister("bay_bikes_demo", func() Definitions {
		return Definitions{CategoryPipelines: {{Name: "daily_weather_pipeline", Accessor: Static(p)}}}
	}))
	require.NoError(t, err)
	return ws
}

func pendingCount(hb *HybridBroker) int {
	hb.mu.Lock()
	defer hb.mu.Unlock()
	return len(hb.pending)
}

func TestSharedStorageLaunchesRunOnce(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	ws := demoWorkspace(t)

	var mu sync.Mutex
	launches := make(map[string]int)
	launcher := func(ctx context.Context, run *types.RunRequest, p *types.Pipeline) error {
		mu.Lock()
		launches[run.ID]++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return nil
	}

	brokers := make([]*HybridBroker, 2)
	dispatchers := make([]*Dispatcher, 2)
	for i := range brokers {
		hb, err := NewHybridBroker(store, 8, nil)
		require.NoError(t, err)
		d := NewDispatcher(hb, ws, launcher, 2, nil)
		t.Cleanup(func() {
			d.Stop()
			hb.Close()
		})
		brokers[i], dispatchers[i] = hb, d
	}

	run, err := dispatchers[0].Launch(ctx, "bay_bikes_demo", "daily_weather_pipeline", nil)
	require.NoError(t, err)
	// 第二个节点从共享存储里补回同一个请求
	brokers[1].syncOnce(ctx)
	require.Equal(t, 1, pendingCount(brokers[1]))

	dispatchers[0].Start(ctx)
	dispatchers[1].Start(ctx)

	require.Eventually(t, func() bool {
		return pendingCount(brokers[0]) == 0 && pendingCount(brokers[1]) == 0
	}, 2*time.Second, 10*time.Millisecond)

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusLaunched, got.Status)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, launches[run.ID])
}

// cancelAwareStorage 像SQL/Redis驱动一样拒绝已取消的ctx
type cancelAwareStorage struct {
	*storage.MemoryStorage
}

func (s cancelAwareStorage) UpdateRunStatus(ctx context.Context, runID string, status types.RunStatus, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStorage.UpdateRunStatus(ctx, runID, status, errMsg)
}

func TestStopDuringLaunchRecordsOutcome(t *testing.T) {
	ctx := context.Background()
	store := cancelAwareStorage{storage.NewMemoryStorage()}
	hb, err := NewHybridBroker(store, 8, nil)
	require.NoError(t, err)
	defer hb.Close()

	started := make(chan struct{})
	d := NewDispatcher(hb, demoWorkspace(t), func(ctx context.Context, run *types.RunRequest, p *types.Pipeline) error {
		close(started)
		<-ctx.Done()
		return nil
	}, 1, nil)
	d.Start(ctx)

	run, err := d.Launch(ctx, "bay_bikes_demo", "daily_weather_pipeline", nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("launcher was not called")
	}
	d.Stop()

	got, err := store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusLaunched, got.Status)
}

func TestLauncherReceivesRunLogger(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	hb, err := NewHybridBroker(store, 8, nil)
	require.NoError(t, err)
	defer hb.Close()

	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	d := NewDispatcher(hb, demoWorkspace(t), func(ctx context.Context, run *types.RunRequest, p *types.Pipeline) error {
		logger.FromContext(ctx).Info("executor accepted")
		return nil
	}, 1, log)
	d.Start(ctx)

	run, err := d.Launch(ctx, "bay_bikes_demo", "daily_weather_pipeline", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		r, err := store.GetRun(ctx, run.ID)
		return err == nil && r.Status == types.StatusLaunched
	}, 2*time.Second, 10*time.Millisecond)
	d.Stop()

	out := buf.String()
	assert.Contains(t, out, `"msg":"executor accepted"`)
	assert.Contains(t, out, `"run_id":"`+run.ID+`"`)
}
