// Package runner binds plugin records to implementations of the plugin
// contracts and isolates their failures.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/FranksOps/maestro/internal/metrics"
	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/plugin/execplugin"
	"github.com/FranksOps/maestro/internal/storage"
)

// Options configures a Runner.
type Options struct {
	// ExecTimeout bounds each call of an executable plugin.
	ExecTimeout time.Duration
	// ExecEnv is passed to executable plugins, e.g. API keys.
	ExecEnv []string
}

// Runner loads plugins.
type Runner struct {
	builtins plugin.Builtins
	opts     Options
	logger   *slog.Logger
}

// New returns a Runner resolving builtin records against builtins.
func New(builtins plugin.Builtins, opts Options, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ExecTimeout <= 0 {
		opts.ExecTimeout = execplugin.DefaultTimeout
	}
	return &Runner{builtins: builtins, opts: opts, logger: logger}
}

func loadErr(p *storage.Plugin, err error) error {
	return &plugin.Error{Plugin: p.Name, Op: "load", Err: err}
}

// resolve returns the builtin implementation or the loaded executable.
func (r *Runner) resolve(p *storage.Plugin, kind storage.PluginKind) (any, error) {
	if p.Kind != kind {
		return nil, loadErr(p, fmt.Errorf("%w: record is %s, want %s", plugin.ErrWrongKind, p.Kind, kind))
	}
	switch p.Type {
	case storage.TypeBuiltin:
		impl, ok := r.builtins[p.Location]
		if !ok {
			return nil, loadErr(p, fmt.Errorf("%w: %q", plugin.ErrUnknownBuiltin, p.Location))
		}
		return impl, nil
	case storage.TypeExec:
		ep, err := execplugin.Load(p.Location, r.opts.ExecTimeout)
		if err != nil {
			return nil, loadErr(p, err)
		}
		ep.Env = r.opts.ExecEnv
		return ep, nil
	}
	return nil, loadErr(p, fmt.Errorf("unknown plugin type %q", p.Type))
}

// guard runs fn, turning a returned error or a panic into a *plugin.Error.
func guard(p *storage.Plugin, op string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
		if err != nil {
			err = &plugin.Error{Plugin: p.Name, Op: op, Err: err}
		}
		metrics.RecordPlugin(string(p.Kind), p.Name, err)
	}()
	return fn()
}

// Fetcher loads p as a fetcher.
func (r *Runner) Fetcher(p *storage.Plugin) (plugin.Fetcher, error) {
	impl, err := r.resolve(p, storage.KindFetcher)
	if err != nil {
		return nil, err
	}
	var f plugin.Fetcher
	switch v := impl.(type) {
	case *execplugin.Plugin:
		f = execFetcher{v}
	case plugin.Fetcher:
		f = v
	default:
		return nil, loadErr(p, fmt.Errorf("%w: %q is not a fetcher", plugin.ErrWrongKind, p.Location))
	}
	return guardedFetcher{p: p, f: f}, nil
}

// PostProcessor loads p as a post-processor.
func (r *Runner) PostProcessor(p *storage.Plugin) (plugin.PostProcessor, error) {
	impl, err := r.resolve(p, storage.KindPostProcessor)
	if err != nil {
		return nil, err
	}
	var pp plugin.PostProcessor
	switch v := impl.(type) {
	case *execplugin.Plugin:
		pp = execPostProcessor{v}
	case plugin.PostProcessor:
		pp = v
	default:
		return nil, loadErr(p, fmt.Errorf("%w: %q is not a post-processor", plugin.ErrWrongKind, p.Location))
	}
	return guardedPostProcessor{p: p, pp: pp}, nil
}

// Filter loads p as a filter.
func (r *Runner) Filter(p *storage.Plugin) (plugin.Filter, error) {
	impl, err := r.resolve(p, storage.KindFilter)
	if err != nil {
		return nil, err
	}
	var f plugin.Filter
	switch v := impl.(type) {
	case *execplugin.Plugin:
		f = execFilter{v}
	case plugin.Filter:
		f = v
	default:
		return nil, loadErr(p, fmt.Errorf("%w: %q is not a filter", plugin.ErrWrongKind, p.Location))
	}
	return guardedFilter{p: p, f: f}, nil
}

// Classifier loads p as a classifier.
func (r *Runner) Classifier(p *storage.Plugin) (plugin.Classifier, error) {
	impl, err := r.resolve(p, storage.KindClassifier)
	if err != nil {
		return nil, err
	}
	var c plugin.Classifier
	switch v := impl.(type) {
	case *execplugin.Plugin:
		c = execClassifier{v}
	case plugin.Classifier:
		c = v
	default:
		return nil, loadErr(p, fmt.Errorf("%w: %q is not a classifier", plugin.ErrWrongKind, p.Location))
	}
	return guardedClassifier{p: p, c: c}, nil
}

// --- guards ---

type guardedFetcher struct {
	p *storage.Plugin
	f plugin.Fetcher
}

func (g guardedFetcher) Fetch(ctx context.Context, params plugin.FetchParams) (urls []string, err error) {
	err = guard(g.p, execplugin.KindFetch, func() error {
		urls, err = g.f.Fetch(ctx, params)
		return err
	})
	return urls, err
}

type guardedPostProcessor struct {
	p  *storage.Plugin
	pp plugin.PostProcessor
}

func (g guardedPostProcessor) PostProcess(ctx context.Context, contentPath string) (res json.RawMessage, err error) {
	err = guard(g.p, execplugin.KindPostProcess, func() error {
		res, err = g.pp.PostProcess(ctx, contentPath)
		return err
	})
	return res, err
}

type guardedFilter struct {
	p *storage.Plugin
	f plugin.Filter
}

func (g guardedFilter) Filter(ctx context.Context, contentPath string, metadata map[string]any, data plugin.FilterableData) (v plugin.Verdict, err error) {
	err = guard(g.p, execplugin.KindFilter, func() error {
		v, err = g.f.Filter(ctx, contentPath, metadata, data)
		return err
	})
	return v, err
}

type guardedClassifier struct {
	p *storage.Plugin
	c plugin.Classifier
}

func (g guardedClassifier) Classify(ctx context.Context, contentPath string) (res json.RawMessage, err error) {
	err = guard(g.p, execplugin.KindClassify, func() error {
		res, err = g.c.Classify(ctx, contentPath)
		return err
	})
	return res, err
}

// --- executable adapters ---

type execFetcher struct{ p *execplugin.Plugin }

func (e execFetcher) Fetch(ctx context.Context, params plugin.FetchParams) ([]string, error) {
	raw, err := e.p.Call(ctx, execplugin.KindFetch, map[string]any{"params": params})
	if err != nil {
		return nil, err
	}
	var urls []string
	if raw != nil {
		if err := json.Unmarshal(raw, &urls); err != nil {
			return nil, fmt.Errorf("fetcher result must be a list of URLs: %w", err)
		}
	}
	return urls, nil
}

type execPostProcessor struct{ p *execplugin.Plugin }

func (e execPostProcessor) PostProcess(ctx context.Context, contentPath string) (json.RawMessage, error) {
	return e.p.Call(ctx, execplugin.KindPostProcess, map[string]any{"content_path": contentPath})
}

type execFilter struct{ p *execplugin.Plugin }

func (e execFilter) Filter(ctx context.Context, contentPath string, metadata map[string]any, data plugin.FilterableData) (plugin.Verdict, error) {
	raw, err := e.p.Call(ctx, execplugin.KindFilter, map[string]any{
		"content_path": contentPath,
		"metadata":     metadata,
		"data":         data,
	})
	if err != nil {
		return plugin.Abstain, err
	}
	return plugin.VerdictOf(raw)
}

type execClassifier struct{ p *execplugin.Plugin }

func (e execClassifier) Classify(ctx context.Context, contentPath string) (json.RawMessage, error) {
	return e.p.Call(ctx, execplugin.KindClassify, map[string]any{"content_path": contentPath})
}
