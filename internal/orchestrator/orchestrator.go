// Package orchestrator chains pipeline stages on the worker pool and exposes
// the control operations of a search context.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/pipeline"
	"github.com/FranksOps/maestro/internal/queue"
	"github.com/FranksOps/maestro/internal/storage"
)

var (
	// ErrBusy is returned when a stage of the context is queued or running.
	ErrBusy = errors.New("orchestrator: context has a stage in progress")
	// ErrNotWaitingReview is returned by review operations outside WAITING_REVIEW.
	ErrNotWaitingReview = errors.New("orchestrator: context is not waiting for review")
)

// StageRunner executes one stage. *pipeline.Pipeline implements it.
type StageRunner interface {
	Run(ctx context.Context, stage lifecycle.Stage, contextID string, prev pipeline.Outcome) pipeline.Outcome
}

// Orchestrator submits stage tasks and chains them on success.
type Orchestrator struct {
	store  storage.Backend
	blobs  *blobstore.Store
	runner StageRunner
	pool   *queue.Pool
	logger *slog.Logger

	mu sync.Mutex
	// active holds contexts with a chain queued or running.
	active map[string]bool
	// repeats holds the token of the pending repeat of each context. A
	// delayed start whose token is gone or replaced does nothing.
	repeats map[string]uint64
	tokens  uint64
	// finished receives the last outcome of every chain. Tests use it.
	finished func(contextID string, out pipeline.Outcome)
}

// New returns an Orchestrator. The pool must be started by the caller.
func New(store storage.Backend, blobs *blobstore.Store, runner StageRunner, pool *queue.Pool, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:  store,
		blobs:  blobs,
		runner: runner,
		pool:   pool,
		logger: logger,
		active:  make(map[string]bool),
		repeats: make(map[string]uint64),
	}
}

// Active reports whether a chain of the context is queued or running.
func (o *Orchestrator) Active(contextID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[contextID]
}

// Start clears the stop flag and runs the whole pipeline from fetch.
func (o *Orchestrator) Start(ctx context.Context, contextID string) error {
	return o.begin(ctx, contextID, lifecycle.StageFetch, true)
}

// ResumeFrom clears the stop flag and runs the pipeline from stage. Stages
// after it run as usual; earlier stages are not repeated and their
// checkpoints are used.
func (o *Orchestrator) ResumeFrom(ctx context.Context, contextID string, stage lifecycle.Stage) error {
	if stage.Index() < 0 {
		return fmt.Errorf("resume: unknown stage %q", stage)
	}
	return o.begin(ctx, contextID, stage, true)
}

// Stop sets the stop flag. The running stage finishes; the next one is a
// no-op, as is a pending repeat.
func (o *Orchestrator) Stop(ctx context.Context, contextID string) error {
	if _, err := o.store.GetContext(ctx, contextID); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := o.store.SetStopped(ctx, contextID, true); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	o.logger.Info("context stopped", "context_id", contextID)
	return nil
}

// CompleteReview resumes a context paused after gathering.
func (o *Orchestrator) CompleteReview(ctx context.Context, contextID string) error {
	sc, err := o.store.GetContext(ctx, contextID)
	if err != nil {
		return fmt.Errorf("complete review: %w", err)
	}
	if sc.Status != lifecycle.StatusWaitingReview {
		return fmt.Errorf("complete review of %s (%s): %w", contextID, sc.Status, ErrNotWaitingReview)
	}
	return o.begin(ctx, contextID, lifecycle.StagePostProcess, true)
}

// ExcludeObjects removes objects and their files from a datastream under
// review.
func (o *Orchestrator) ExcludeObjects(ctx context.Context, contextID string, objectIDs []string) (int, error) {
	sc, err := o.store.GetContext(ctx, contextID)
	if err != nil {
		return 0, fmt.Errorf("exclude objects: %w", err)
	}
	if sc.Status != lifecycle.StatusWaitingReview {
		return 0, fmt.Errorf("exclude objects of %s (%s): %w", contextID, sc.Status, ErrNotWaitingReview)
	}
	removed, err := o.store.DeleteDataObjects(ctx, contextID, objectIDs)
	if err != nil {
		return 0, fmt.Errorf("exclude objects: %w", err)
	}
	scope := blobstore.ScopeOf(sc)
	for _, obj := range removed {
		for _, rel := range []string{obj.ContentPath, obj.PreviewPath} {
			if rel == "" {
				continue
			}
			if err := o.blobs.Remove(scope, rel); err != nil {
				o.logger.Warn("remove excluded file", "context_id", contextID, "path", rel, "err", err)
			}
		}
	}
	return len(removed), nil
}

// CancelRepeat drops the pending repeat of the context, if any.
func (o *Orchestrator) CancelRepeat(contextID string) {
	o.mu.Lock()
	delete(o.repeats, contextID)
	o.mu.Unlock()
}

// Wait blocks until every queued and running stage has finished, chained
// stages included. Delayed repeats are not waited for.
func (o *Orchestrator) Wait() { o.pool.Wait() }

func (o *Orchestrator) begin(ctx context.Context, contextID string, stage lifecycle.Stage, clearStop bool) error {
	sc, err := o.store.GetContext(ctx, contextID)
	if err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}
	if err := lifecycle.Transition(sc.Status, stage.Running()); err != nil {
		return fmt.Errorf("%s: %w", stage, err)
	}

	o.mu.Lock()
	if o.active[contextID] {
		o.mu.Unlock()
		return fmt.Errorf("%s %s: %w", stage, contextID, ErrBusy)
	}
	o.active[contextID] = true
	if clearStop {
		// A user-driven run supersedes the scheduled iteration.
		delete(o.repeats, contextID)
	}
	o.mu.Unlock()

	if clearStop && sc.Stopped {
		if err := o.store.SetStopped(ctx, contextID, false); err != nil {
			o.release(contextID)
			return fmt.Errorf("%s: clear stop flag: %w", stage, err)
		}
	}
	if err := o.submit(contextID, stage, pipeline.Outcome{}); err != nil {
		o.release(contextID)
		return err
	}
	o.logger.Info("pipeline scheduled", "context_id", contextID, "stage", string(stage))
	return nil
}

func (o *Orchestrator) release(contextID string) {
	o.mu.Lock()
	delete(o.active, contextID)
	o.mu.Unlock()
}

func taskName(contextID string, stage lifecycle.Stage) string {
	return contextID + "/" + string(stage)
}

func (o *Orchestrator) submit(contextID string, stage lifecycle.Stage, prev pipeline.Outcome) error {
	return o.pool.Submit(taskName(contextID, stage), func(ctx context.Context) error {
		out := o.runner.Run(ctx, stage, contextID, prev)
		if out.Continue() {
			if next, ok := stage.Next(); ok {
				if err := o.submit(contextID, next, out); err != nil {
					o.logger.Error("chain next stage", "context_id", contextID, "stage", string(next), "err", err)
					o.done(contextID, out)
				}
				return nil
			}
		}
		o.done(contextID, out)
		if out.Kind == pipeline.Failure {
			return fmt.Errorf("%s failed: %s", stage, out.Reason)
		}
		return nil
	})
}

// done ends a chain and schedules the next iteration of a repeating context.
func (o *Orchestrator) done(contextID string, out pipeline.Outcome) {
	o.release(contextID)
	if o.finished != nil {
		o.finished(contextID, out)
	}
	if out.Kind != pipeline.Success || out.Stage != lifecycle.StageProvide {
		return
	}
	if err := o.scheduleRepeat(context.Background(), contextID); err != nil {
		o.logger.Error("schedule repeat", "context_id", contextID, "err", err)
	}
}

func (o *Orchestrator) scheduleRepeat(ctx context.Context, contextID string) error {
	cfg, err := o.store.GetConfiguration(ctx, contextID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	interval := cfg.Advanced.RepeatInterval()
	if interval <= 0 {
		return nil
	}
	err = o.store.TransitionStatus(ctx, contextID, lifecycle.StatusFinishedProviding, lifecycle.StatusWaitingIteration)
	if err != nil {
		return err
	}
	o.mu.Lock()
	o.tokens++
	token := o.tokens
	o.repeats[contextID] = token
	o.mu.Unlock()

	o.logger.Info("next iteration scheduled", "context_id", contextID, "in", interval)
	return o.pool.SubmitAfter(interval, taskName(contextID, "repeat"), func(ctx context.Context) error {
		return o.repeat(ctx, contextID, token)
	})
}

// repeat starts the next iteration if token is still the pending repeat of
// the context and the context still waits for it.
func (o *Orchestrator) repeat(ctx context.Context, contextID string, token uint64) error {
	o.mu.Lock()
	pending := o.repeats[contextID] == token
	if pending {
		delete(o.repeats, contextID)
	}
	o.mu.Unlock()
	if !pending {
		o.logger.Debug("repeat superseded", "context_id", contextID)
		return nil
	}

	sc, err := o.store.GetContext(ctx, contextID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("repeat: %w", err)
	}
	if sc.Status != lifecycle.StatusWaitingIteration {
		o.logger.Debug("repeat skipped", "context_id", contextID, "status", string(sc.Status))
		return nil
	}
	// The stop flag is kept: a context stopped while waiting skips its fetch.
	return o.begin(ctx, contextID, lifecycle.StageFetch, false)
}
