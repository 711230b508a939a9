package gather

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/scraper"
)

// SoundRetriever downloads sound files directly from their URLs.
type SoundRetriever struct {
	blobs       *blobstore.Store
	fetcher     *scraper.Fetcher
	concurrency int
	logger      *slog.Logger
}

// NewSoundRetriever returns a SoundRetriever running concurrency downloads
// at a time (default 3).
func NewSoundRetriever(blobs *blobstore.Store, fetcher *scraper.Fetcher, concurrency int, logger *slog.Logger) *SoundRetriever {
	if concurrency <= 0 {
		concurrency = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SoundRetriever{blobs: blobs, fetcher: fetcher, concurrency: concurrency, logger: logger}
}

// Retrieve stores each URL answering 200 with a body as full/<md5>.mp3.
// Failed downloads are logged and skipped.
func (r *SoundRetriever) Retrieve(ctx context.Context, scope blobstore.Scope, urls []string) ([]Item, error) {
	var (
		mu    sync.Mutex
		items []Item
		seen  = map[string]struct{}{}
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, u := range urls {
		g.Go(func() error {
			it, err := r.download(gCtx, scope, u)
			if err != nil {
				r.logger.Warn("sound download failed", "url", u, "err", err)
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if _, dup := seen[it.ContentPath]; !dup {
				seen[it.ContentPath] = struct{}{}
				items = append(items, it)
			}
			return nil
		})
	}
	_ = g.Wait()
	return items, ctx.Err()
}

func (r *SoundRetriever) download(ctx context.Context, scope blobstore.Scope, u string) (Item, error) {
	res, err := r.fetcher.Fetch(ctx, u)
	if err != nil {
		return Item{}, err
	}
	if res.StatusCode != http.StatusOK || res.Challenge != "" {
		return Item{}, fmt.Errorf("status %d %s", res.StatusCode, res.Challenge)
	}
	if len(res.Body) == 0 {
		return Item{}, fmt.Errorf("empty body")
	}

	sum := md5.Sum(res.Body)
	rel := path.Join(blobstore.DirFull, hex.EncodeToString(sum[:])+".mp3")
	if !r.blobs.Exists(scope, rel) {
		if err := r.blobs.WriteFile(scope, rel, res.Body); err != nil {
			return Item{}, err
		}
	}
	public, err := r.blobs.Publish(scope, rel)
	if err != nil {
		return Item{}, err
	}
	return Item{
		ContentPath: rel,
		PublicPath:  public,
		SourceURL:   u,
		Metadata:    map[string]any{MetaSourceURL: u, "content_type": res.ContentType()},
	}, nil
}
