// Package pipeline runs the six stages of a search context. Each stage checks
// the stop flag, moves the context status with compare-and-set writes, keeps
// an operator log and returns a typed Outcome for the orchestrator to chain.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/cache"
	"github.com/FranksOps/maestro/internal/checkpoint"
	"github.com/FranksOps/maestro/internal/gather"
	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/metrics"
	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/plugin/runner"
	"github.com/FranksOps/maestro/internal/stagelog"
	"github.com/FranksOps/maestro/internal/storage"
	"github.com/FranksOps/maestro/pkg/httpclient"
)

// DefaultProvideTimeout bounds the webhook call of the provide stage.
const DefaultProvideTimeout = 10 * time.Second

// DefaultFetchTimeout bounds one fetcher call.
const DefaultFetchTimeout = time.Minute

// Config holds the collaborators of the stages.
type Config struct {
	Store       storage.Backend
	Blobs       *blobstore.Store
	Checkpoints *checkpoint.Store
	Registry    *plugin.Registry
	Runner      *runner.Runner
	Cache       *cache.Cache
	Retrievers  gather.Retrievers

	// Webhook delivers provide payloads. Nil builds a client with
	// ProvideTimeout.
	Webhook        *httpclient.Client
	ProvideTimeout time.Duration
	FetchTimeout   time.Duration
	// Tolerance is the consecutive failures allowed per plugin (0 =
	// plugin.FailureTolerance).
	Tolerance int
}

// Pipeline executes stages.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns a Pipeline.
func New(cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Store == nil || cfg.Blobs == nil || cfg.Registry == nil || cfg.Runner == nil {
		return nil, errors.New("pipeline: store, blobs, registry and runner are required")
	}
	if cfg.Checkpoints == nil {
		cfg.Checkpoints = checkpoint.New(cfg.Blobs)
	}
	if cfg.ProvideTimeout <= 0 {
		cfg.ProvideTimeout = DefaultProvideTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Webhook == nil {
		client, err := httpclient.New(httpclient.Config{Timeout: cfg.ProvideTimeout})
		if err != nil {
			return nil, fmt.Errorf("webhook client: %w", err)
		}
		cfg.Webhook = client
	}
	return &Pipeline{cfg: cfg, logger: logger}, nil
}

// run is the state of one stage run.
type run struct {
	stage lifecycle.Stage
	sc    *storage.SearchContext
	cfg   *storage.Configuration
	scope blobstore.Scope
	log   *stagelog.Log
	prev  Outcome
}

type body func(ctx context.Context, r *run) (Outcome, error)

func (p *Pipeline) body(stage lifecycle.Stage) body {
	switch stage {
	case lifecycle.StageFetch:
		return p.runFetch
	case lifecycle.StageGather:
		return p.runGather
	case lifecycle.StagePostProcess:
		return p.runPostProcess
	case lifecycle.StageFilter:
		return p.runFilter
	case lifecycle.StageClassify:
		return p.runClassify
	case lifecycle.StageProvide:
		return p.runProvide
	}
	return nil
}

// Run executes stage for the context. prev is the outcome of the preceding
// stage in the chain, or the zero Outcome when the chain starts here.
func (p *Pipeline) Run(ctx context.Context, stage lifecycle.Stage, contextID string, prev Outcome) Outcome {
	start := time.Now()
	out := p.run(ctx, stage, contextID, prev)
	out.Stage = stage
	metrics.RecordStage(string(stage), out.Kind.String(), time.Since(start))
	return out
}

func (p *Pipeline) run(ctx context.Context, stage lifecycle.Stage, contextID string, prev Outcome) Outcome {
	logger := p.logger.With("context_id", contextID, "stage", string(stage))
	fn := p.body(stage)
	if fn == nil {
		return failed(stage, fmt.Sprintf("unknown stage %q", stage))
	}

	sc, err := p.cfg.Store.GetContext(ctx, contextID)
	if err != nil {
		logger.Error("load context", "err", err)
		return failed(stage, fmt.Sprintf("load context: %v", err))
	}
	if sc.Stopped {
		logger.Info("context is stopped, not running stage")
		return skipped(stage, "context stopped")
	}
	switch prev.Kind {
	case Failure:
		return failed(stage, fmt.Sprintf("%s stage failed", prev.Stage))
	case Skipped:
		return skipped(stage, fmt.Sprintf("%s stage skipped", prev.Stage))
	}

	cfg, err := p.cfg.Store.GetConfiguration(ctx, contextID)
	if err != nil {
		logger.Error("load configuration", "err", err)
		return failed(stage, fmt.Sprintf("load configuration: %v", err))
	}

	r := &run{
		stage: stage,
		sc:    sc,
		cfg:   cfg,
		scope: blobstore.ScopeOf(sc),
		log:   stagelog.Open(p.cfg.Blobs, blobstore.ScopeOf(sc), stage, logger),
		prev:  prev,
	}

	if err := p.transition(ctx, r, stage.Running()); err != nil {
		logger.Error("enter stage", "err", err)
		return failed(stage, err.Error())
	}
	r.log.Printf("Started %s", stage)

	out, err := fn(ctx, r)
	if err != nil {
		r.log.Printf("[ERROR] %v", err)
		if terr := p.transition(ctx, r, stage.Failed()); terr != nil {
			logger.Error("record stage failure", "err", terr)
		}
		out.Kind = Failure
		out.Reason = err.Error()
		return out
	}

	final := out.final
	if final == "" {
		final = stage.Finished()
	}
	if err := p.transition(ctx, r, final); err != nil {
		logger.Error("leave stage", "err", err)
		return failed(stage, err.Error())
	}
	return out
}

// transition moves the context status with a compare-and-set write. Writes
// outlive cancellation of ctx so an interrupted stage still records its end.
func (p *Pipeline) transition(ctx context.Context, r *run, to lifecycle.Status) error {
	if !r.stage.Owns(to) {
		return fmt.Errorf("stage %s does not own status %s", r.stage, to)
	}
	from := r.sc.Status
	if err := lifecycle.Transition(from, to); err != nil {
		return err
	}
	if err := p.cfg.Store.TransitionStatus(context.WithoutCancel(ctx), r.sc.ID, from, to); err != nil {
		return fmt.Errorf("set status %s: %w", to, err)
	}
	r.sc.Status = to
	return nil
}

// contentFile resolves a stored content path to a file path for plugins.
func (p *Pipeline) contentFile(r *run, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return rel, nil
	}
	return p.cfg.Blobs.Path(r.scope, rel)
}

// scopedContent turns a path returned by a data manipulation post-processor
// into a context-relative content path. Relative paths are taken relative to
// the context directory. The file must exist inside that directory.
func (p *Pipeline) scopedContent(r *run, path string) (string, error) {
	rel := path
	if filepath.IsAbs(path) {
		base, err := filepath.Abs(p.cfg.Blobs.Dir(r.scope))
		if err != nil {
			return "", err
		}
		if rel, err = filepath.Rel(base, filepath.Clean(path)); err != nil {
			return "", fmt.Errorf("%q: %w", path, blobstore.ErrPathTraversal)
		}
	}
	rel = filepath.ToSlash(rel)
	if _, err := p.cfg.Blobs.Path(r.scope, rel); err != nil {
		return "", err
	}
	if !p.cfg.Blobs.Exists(r.scope, rel) {
		return "", fmt.Errorf("manipulated content %q does not exist", path)
	}
	return rel, nil
}

func (p *Pipeline) tracker() *plugin.Tracker {
	return plugin.NewTracker(p.cfg.Tolerance)
}
