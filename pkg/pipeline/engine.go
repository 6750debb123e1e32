package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/cognify/pkg/domain"
	"github.com/liliang-cn/cognify/pkg/log"
)

// Engine executes pipelines. Run state is persisted after every stage so a
// crashed run can be inspected and the work is resumable from the last
// completed stage's output.
type Engine struct {
	store domain.RelationalStore
	bus   *Broadcaster
}

func NewEngine(store domain.RelationalStore, bus *Broadcaster) *Engine {
	if bus == nil {
		bus = NewBroadcaster()
	}
	return &Engine{store: store, bus: bus}
}

// Bus exposes the broadcaster for subscriptions.
func (e *Engine) Bus() *Broadcaster {
	return e.bus
}

// Execute runs the stages over input. The run row must not exist yet; the
// engine creates it, updates it after every stage and finalizes its status.
// A context cancellation finishes the in-flight items, marks the run
// cancelled and returns ErrCancelled.
func (e *Engine) Execute(ctx context.Context, run *domain.PipelineRun, input []any, stages []Stage) error {
	for _, s := range stages {
		if err := s.validate(); err != nil {
			return err
		}
	}

	run.Status = domain.RunRunning
	run.StartedAt = time.Now().UTC()
	if err := e.store.CreateRun(ctx, run); err != nil {
		return err
	}
	logger := log.WithRun("pipeline", run.ID.String())
	logger.Info("run started", "dataset", run.DatasetID, "stages", len(stages))
	e.publish(domain.Event{RunID: run.ID, Kind: domain.EventRunStarted, Time: run.StartedAt})

	warnings := make(chan string, 64)
	items := input
	var runErr error

	for _, stage := range stages {
		progress := domain.StageProgress{
			Name:    stage.Name,
			Status:  domain.RunRunning,
			ItemsIn: int64(len(items)),
		}
		run.Stages = append(run.Stages, progress)
		e.publish(domain.Event{RunID: run.ID, Kind: domain.EventStageStarted, Stage: stage.Name, Time: time.Now().UTC()})

		started := time.Now()
		sc := &StageContext{warnings: warnings}
		out, err := e.runStage(ctx, stage, sc, items)

		slot := &run.Stages[len(run.Stages)-1]
		slot.ItemsOut = int64(len(out))
		slot.Retries = sc.retries.Load()
		slot.Dropped = sc.dropped.Load()
		slot.Duration = time.Since(started)

		drainWarnings(run, warnings)

		if err != nil {
			if domain.Cancelled(err) {
				slot.Status = domain.RunCancelled
			} else {
				slot.Status = domain.RunFailed
			}
			runErr = err
			break
		}
		slot.Status = domain.RunCompleted
		items = out

		// Checkpoint after every stage.
		if err := e.store.UpdateRun(ctx, run); err != nil {
			logger.Warn("failed to checkpoint run", "error", err)
		}
		e.publish(domain.Event{
			RunID: run.ID, Kind: domain.EventStageCompleted,
			Stage: stage.Name, Counters: slot, Time: time.Now().UTC(),
		})
		logger.Debug("stage completed", "stage", stage.Name,
			"in", slot.ItemsIn, "out", slot.ItemsOut, "dropped", slot.Dropped)
	}

	now := time.Now().UTC()
	run.EndedAt = &now
	kind := domain.EventRunCompleted
	switch {
	case runErr == nil:
		run.Status = domain.RunCompleted
	case domain.Cancelled(runErr):
		run.Status = domain.RunCancelled
		run.Error = runErr.Error()
		kind = domain.EventRunCancelled
	default:
		run.Status = domain.RunFailed
		run.Error = runErr.Error()
		kind = domain.EventRunFailed
	}

	// Finalize with a fresh context: the run's own context may be the thing
	// that was cancelled.
	finalize, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.store.UpdateRun(finalize, run); err != nil {
		logger.Error("failed to finalize run", "error", err)
	}

	e.publish(domain.Event{RunID: run.ID, Kind: kind, Error: run.Error, Time: now})
	e.bus.CloseRun(run.ID)
	logger.Info("run finished", "status", run.Status, "error", run.Error)
	return runErr
}

func (e *Engine) runStage(ctx context.Context, stage Stage, sc *StageContext, items []any) ([]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrCancelled
	}
	if stage.Batch != nil {
		return stage.Batch(ctx, sc, items)
	}
	return e.runMap(ctx, stage, sc, items)
}

// runMap fans the stage out over a bounded worker pool, preserving input
// order in the output. Dropped items leave no slot.
func (e *Engine) runMap(ctx context.Context, stage Stage, sc *StageContext, items []any) ([]any, error) {
	workers := stage.Workers
	if workers <= 0 {
		workers = 1
	}

	results := make([]any, len(items))
	keep := make([]bool, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, item := range items {
		i, item := i, item
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return domain.ErrCancelled
			}
			out, err := stage.Map(gctx, sc, item)
			if err != nil {
				return err
			}
			if out != nil {
				results[i] = out
				keep[i] = true
			} else {
				sc.AddDropped(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []any
	for i := range results {
		if keep[i] {
			out = append(out, results[i])
		}
	}
	return out, nil
}

func (e *Engine) publish(ev domain.Event) {
	e.bus.Publish(ev)
}

func drainWarnings(run *domain.PipelineRun, warnings chan string) {
	for {
		select {
		case w := <-warnings:
			run.Warnings = append(run.Warnings, w)
		default:
			return
		}
	}
}
