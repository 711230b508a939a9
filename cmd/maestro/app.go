package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/cache"
	"github.com/FranksOps/maestro/internal/config"
	"github.com/FranksOps/maestro/internal/fingerprint"
	"github.com/FranksOps/maestro/internal/gather"
	"github.com/FranksOps/maestro/internal/orchestrator"
	"github.com/FranksOps/maestro/internal/pipeline"
	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/plugin/builtin"
	"github.com/FranksOps/maestro/internal/plugin/runner"
	"github.com/FranksOps/maestro/internal/queue"
	"github.com/FranksOps/maestro/internal/scraper"
	"github.com/FranksOps/maestro/internal/storage"
	"github.com/FranksOps/maestro/pkg/httpclient"
	"github.com/FranksOps/maestro/pkg/ratelimit"
)

// app is the wired process: storage, plugins, pipeline and worker pool.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Backend
	blobs    *blobstore.Store
	registry *plugin.Registry
	pool     *queue.Pool
	orch     *orchestrator.Orchestrator
	svc      *orchestrator.Service
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, store: store}
	if err := a.wire(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg
	blobs, err := blobstore.New(cfg.DataDir, cfg.PublicDir)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	a.blobs = blobs
	a.registry = plugin.NewRegistry(a.store, a.logger)
	if err := a.syncCatalog(ctx); err != nil {
		return err
	}

	apiClient, err := httpclient.New(httpclient.Config{Timeout: cfg.Pipeline.FetchTimeout})
	if err != nil {
		return fmt.Errorf("api client: %w", err)
	}
	builtins := builtin.Defaults(builtin.Config{
		Keys: builtin.Keys{
			Bing:      cfg.Fetchers.BingKey,
			Twitter:   cfg.Fetchers.TwitterKey,
			Freesound: cfg.Fetchers.FreesoundKey,
		},
		Client:            apiClient,
		RequestsPerSecond: cfg.Fetchers.RequestsPerSecond,
	})
	run := runner.New(builtins, runner.Options{
		ExecTimeout: cfg.Pipeline.PluginTimeout,
		ExecEnv:     pluginEnv(cfg),
	}, a.logger)

	profile, err := fingerprint.ParseProfile(cfg.Gather.Fingerprint)
	if err != nil {
		return err
	}
	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:     cfg.Gather.Timeout,
		UserAgent:   cfg.Gather.UserAgent,
		Fingerprint: profile,
		Limiter:     ratelimit.NewKeyed(cfg.Gather.RequestsPerSecond, 0.2),
	})
	if err != nil {
		return fmt.Errorf("gather fetcher: %w", err)
	}
	images := gather.NewImageRetriever(blobs, fetcher, gather.ImageConfig{
		Crawl: scraper.CrawlConfig{
			MaxDepth:      cfg.Gather.MaxDepth,
			Concurrency:   cfg.Gather.Concurrency,
			RespectRobots: cfg.Gather.RespectRobots,
			UserAgent:     cfg.Gather.UserAgent,
			MaxAssets:     cfg.Gather.MaxImages,
		},
		MinWidth:  cfg.Gather.MinWidth,
		MinHeight: cfg.Gather.MinHeight,
		ThumbSize: cfg.Gather.ThumbSize,
	}, a.logger)
	sounds := gather.NewSoundRetriever(blobs, fetcher, cfg.Gather.SoundConcurrency, a.logger)

	pipe, err := pipeline.New(pipeline.Config{
		Store:    a.store,
		Blobs:    blobs,
		Registry: a.registry,
		Runner:   run,
		Cache:    cache.New(a.store, filepath.Join(cfg.DataDir, cache.DirName), a.logger),
		Retrievers: gather.Retrievers{
			storage.DataImages: images,
			storage.DataSounds: sounds,
		},
		ProvideTimeout: cfg.Pipeline.ProvideTimeout,
		FetchTimeout:   cfg.Pipeline.FetchTimeout,
		Tolerance:      cfg.Pipeline.Tolerance,
	}, a.logger)
	if err != nil {
		return err
	}

	a.pool = queue.New(cfg.Pipeline.Workers, a.logger)
	a.orch = orchestrator.New(a.store, blobs, pipe, a.pool, a.logger)
	a.svc = orchestrator.NewService(a.store, blobs, a.registry, a.orch, images, a.logger)
	return nil
}

// syncCatalog upserts the builtin records and the optional catalog file.
func (a *app) syncCatalog(ctx context.Context) error {
	if err := a.registry.Sync(ctx, builtin.Catalog()); err != nil {
		return err
	}
	if a.cfg.Catalog == "" {
		return nil
	}
	records, err := config.NewFileLoader(a.cfg.Catalog).Load(ctx)
	if err != nil {
		return err
	}
	return a.registry.Sync(ctx, records)
}

// pluginEnv hands API keys to executable plugins on top of the process
// environment.
func pluginEnv(cfg *config.Config) []string {
	var env []string
	add := func(name, value string) {
		if value != "" {
			env = append(env, name+"="+value)
		}
	}
	add("MAESTRO_BING_KEY", cfg.Fetchers.BingKey)
	add("MAESTRO_TWITTER_KEY", cfg.Fetchers.TwitterKey)
	add("MAESTRO_FREESOUND_KEY", cfg.Fetchers.FreesoundKey)
	return env
}

// start runs the worker pool until ctx is done.
func (a *app) start(ctx context.Context) {
	a.pool.Start(ctx)
}

func (a *app) close() {
	a.pool.Stop()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "err", err)
	}
}
