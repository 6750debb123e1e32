package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/cognify/pkg/domain"
)

// runStore records run checkpoints in memory.
type runStore struct {
	mu      sync.Mutex
	updates int
	last    domain.PipelineRun
}

func (s *runStore) CreateRun(_ context.Context, run *domain.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = *run
	return nil
}

func (s *runStore) UpdateRun(_ context.Context, run *domain.PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	s.last = *run
	return nil
}

func (s *runStore) snapshot() domain.PipelineRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *runStore) CreateDataset(context.Context, domain.Dataset) error { return nil }
func (s *runStore) GetDataset(context.Context, uuid.UUID, uuid.UUID) (domain.Dataset, error) {
	return domain.Dataset{}, domain.ErrNotFound
}
func (s *runStore) DeleteDataset(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (s *runStore) PersistData(context.Context, domain.Data) error            { return nil }
func (s *runStore) DedupData(context.Context, uuid.UUID, string) (uuid.UUID, error) {
	return uuid.Nil, nil
}
func (s *runStore) ListData(context.Context, uuid.UUID, uuid.UUID) ([]domain.Data, error) {
	return nil, nil
}
func (s *runStore) UpdateDataStatus(context.Context, uuid.UUID, domain.PipelineStatus) error {
	return nil
}
func (s *runStore) GetRun(context.Context, uuid.UUID) (*domain.PipelineRun, error) {
	return nil, domain.ErrNotFound
}
func (s *runStore) ListRuns(context.Context, uuid.UUID) ([]*domain.PipelineRun, error) {
	return nil, nil
}
func (s *runStore) SaveQuery(context.Context, string, uuid.UUID, string, string) error {
	return nil
}

func newRun() *domain.PipelineRun {
	return &domain.PipelineRun{ID: uuid.New(), DatasetID: uuid.New()}
}

func TestExecuteRunsStagesInOrder(t *testing.T) {
	store := &runStore{}
	engine := NewEngine(store, nil)

	double := Stage{Name: "double", Map: func(_ context.Context, _ *StageContext, item any) (any, error) {
		return item.(int) * 2, nil
	}}
	sum := Stage{Name: "sum", Batch: func(_ context.Context, _ *StageContext, in []any) ([]any, error) {
		total := 0
		for _, v := range in {
			total += v.(int)
		}
		return []any{total}, nil
	}}

	run := newRun()
	err := engine.Execute(context.Background(), run, []any{1, 2, 3}, []Stage{double, sum})
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, run.Status)
	require.Len(t, run.Stages, 2)
	assert.Equal(t, int64(3), run.Stages[0].ItemsIn)
	assert.Equal(t, int64(3), run.Stages[0].ItemsOut)
	assert.Equal(t, int64(3), run.Stages[1].ItemsIn)
	assert.Equal(t, int64(1), run.Stages[1].ItemsOut)
	require.NotNil(t, run.EndedAt)

	persisted := store.snapshot()
	assert.Equal(t, domain.RunCompleted, persisted.Status)
}

func TestExecuteMapPreservesOrder(t *testing.T) {
	engine := NewEngine(&runStore{}, nil)

	var got []any
	collect := Stage{Name: "collect", Batch: func(_ context.Context, _ *StageContext, in []any) ([]any, error) {
		got = in
		return in, nil
	}}
	slowFirst := Stage{Name: "map", Workers: 4, Map: func(_ context.Context, _ *StageContext, item any) (any, error) {
		if item.(int) == 0 {
			time.Sleep(20 * time.Millisecond)
		}
		return item, nil
	}}

	err := engine.Execute(context.Background(), newRun(), []any{0, 1, 2, 3}, []Stage{slowFirst, collect})
	require.NoError(t, err)
	assert.Equal(t, []any{0, 1, 2, 3}, got)
}

func TestExecuteMapDropsNilOutputs(t *testing.T) {
	engine := NewEngine(&runStore{}, nil)

	dropOdd := Stage{Name: "drop_odd", Map: func(_ context.Context, _ *StageContext, item any) (any, error) {
		if item.(int)%2 == 1 {
			return nil, nil
		}
		return item, nil
	}}

	run := newRun()
	err := engine.Execute(context.Background(), run, []any{0, 1, 2, 3, 4}, []Stage{dropOdd})
	require.NoError(t, err)
	assert.Equal(t, int64(3), run.Stages[0].ItemsOut)
	assert.Equal(t, int64(2), run.Stages[0].Dropped)
}

func TestExecuteStageFailureStopsRun(t *testing.T) {
	engine := NewEngine(&runStore{}, nil)
	boom := errors.New("boom")

	fail := Stage{Name: "fail", Batch: func(context.Context, *StageContext, []any) ([]any, error) {
		return nil, boom
	}}
	never := Stage{Name: "never", Batch: func(context.Context, *StageContext, []any) ([]any, error) {
		t.Fatal("stage after a failure must not run")
		return nil, nil
	}}

	run := newRun()
	err := engine.Execute(context.Background(), run, []any{1}, []Stage{fail, never})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, domain.RunFailed, run.Status)
	require.Len(t, run.Stages, 1)
	assert.Equal(t, domain.RunFailed, run.Stages[0].Status)
	assert.Contains(t, run.Error, "boom")
}

func TestExecuteCancellationMarksRunCancelled(t *testing.T) {
	store := &runStore{}
	engine := NewEngine(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	slow := Stage{Name: "slow", Map: func(mctx context.Context, _ *StageContext, item any) (any, error) {
		cancel()
		<-mctx.Done()
		return nil, domain.ErrCancelled
	}}

	run := newRun()
	err := engine.Execute(ctx, run, []any{1}, []Stage{slow})
	require.ErrorIs(t, err, domain.ErrCancelled)
	assert.Equal(t, domain.RunCancelled, run.Status)
	assert.Equal(t, domain.RunCancelled, run.Stages[0].Status)

	// Finalization still lands despite the cancelled context.
	assert.Equal(t, domain.RunCancelled, store.snapshot().Status)
}

func TestExecuteCollectsWarnings(t *testing.T) {
	engine := NewEngine(&runStore{}, nil)

	warn := Stage{Name: "warn", Batch: func(_ context.Context, sc *StageContext, in []any) ([]any, error) {
		sc.Warn("item %d skipped", 7)
		sc.AddRetries(2)
		return in, nil
	}}

	run := newRun()
	err := engine.Execute(context.Background(), run, []any{1}, []Stage{warn})
	require.NoError(t, err)
	assert.Equal(t, []string{"item 7 skipped"}, run.Warnings)
	assert.Equal(t, int64(2), run.Stages[0].Retries)
	assert.True(t, run.Degraded())
}

func TestExecuteRejectsInvalidStage(t *testing.T) {
	engine := NewEngine(&runStore{}, nil)

	err := engine.Execute(context.Background(), newRun(), nil, []Stage{{Name: "both"}})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestExecutePublishesEvents(t *testing.T) {
	bus := NewBroadcaster()
	engine := NewEngine(&runStore{}, bus)

	run := newRun()
	events, cancelSub := bus.Subscribe(run.ID)
	defer cancelSub()

	noop := Stage{Name: "noop", Batch: func(_ context.Context, _ *StageContext, in []any) ([]any, error) {
		return in, nil
	}}
	require.NoError(t, engine.Execute(context.Background(), run, []any{1}, []Stage{noop}))

	var kinds []domain.EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []domain.EventKind{
		domain.EventRunStarted,
		domain.EventStageStarted,
		domain.EventStageCompleted,
		domain.EventRunCompleted,
	}, kinds)
}

var _ domain.RelationalStore = (*runStore)(nil)
