package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/FranksOps/maestro/internal/checkpoint"
	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/storage"
)

// runFetch collects source URLs from the fetchers and the seed URLs. A
// failing fetcher is logged and skipped; an empty result is left for gather
// to reject.
func (p *Pipeline) runFetch(ctx context.Context, r *run) (Outcome, error) {
	iteration, err := p.cfg.Store.IncrementIterations(ctx, r.sc.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("count iteration: %w", err)
	}

	fetchers, err := p.cfg.Registry.FetchersFor(ctx, r.cfg)
	if err != nil {
		return Outcome{}, err
	}
	r.log.Printf("Will use %d fetcher(s): %s", len(fetchers), names(fetchers))

	params := plugin.ParamsFor(r.cfg)
	var urls []string
	for _, rec := range fetchers {
		r.log.Printf("Using fetcher '%s'", rec.Name)
		if cached, ok := p.cachedURLs(ctx, rec, params); ok {
			r.log.Printf("Another context already made the same query: using %d cached URLs", len(cached))
			urls = append(urls, cached...)
			continue
		}

		fetched, err := p.callFetcher(ctx, rec, params)
		if err != nil {
			r.log.Printf("[ERROR] Fetcher '%s' failed: %v. Continuing...", rec.Name, err)
			continue
		}
		r.log.Printf("Fetched %d new URLs", len(fetched))
		urls = append(urls, fetched...)
		// Empty answers are not cached so the next run asks again.
		if p.cfg.Cache != nil && len(fetched) > 0 {
			if err := p.cfg.Cache.Put(ctx, rec.ID, params, fetched); err != nil {
				p.logger.Warn("cache fetcher result", "fetcher", rec.Name, "err", err)
			}
		}
	}

	if r.cfg.Advanced != nil && len(r.cfg.Advanced.SeedURLs) > 0 {
		r.log.Printf("The user provided %d additional seed URLs", len(r.cfg.Advanced.SeedURLs))
		urls = append(urls, r.cfg.Advanced.SeedURLs...)
	}
	urls = dedupe(urls)

	if err := p.cfg.Blobs.Prepare(r.scope); err != nil {
		return Outcome{}, err
	}
	cp := &checkpoint.Fetch{Iteration: iteration, URLs: urls}
	if err := p.cfg.Checkpoints.SaveFetch(r.scope, cp); err != nil {
		return Outcome{}, err
	}

	r.log.Printf("The final number of URLs is %d", len(urls))
	out := succeeded(r.stage)
	out.Fetch = cp
	return out, nil
}

func (p *Pipeline) cachedURLs(ctx context.Context, rec *storage.Plugin, params plugin.FetchParams) ([]string, bool) {
	if p.cfg.Cache == nil {
		return nil, false
	}
	return p.cfg.Cache.Get(ctx, rec.ID, params)
}

func (p *Pipeline) callFetcher(ctx context.Context, rec *storage.Plugin, params plugin.FetchParams) ([]string, error) {
	f, err := p.cfg.Runner.Fetcher(rec)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	return f.Fetch(ctx, params)
}

func names(recs []*storage.Plugin) string {
	out := make([]string, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Name)
	}
	return strings.Join(out, ", ")
}

// dedupe drops repeated and empty URLs, keeping first occurrences in order.
func dedupe(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
