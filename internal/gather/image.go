package gather

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"path"
	"sync"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/scraper"
)

// ErrTooSmall is returned for images below the configured minimum size.
var ErrTooSmall = errors.New("gather: image too small")

// Metadata keys written for images.
const (
	MetaSourceURL = "source_url"
	MetaPageURL   = "page_url"
	MetaAlt       = "alt"
	MetaPageTitle = "page_title"
	MetaWidth     = "width"
	MetaHeight    = "height"
	MetaFormat    = "format"
)

// ImageConfig configures an ImageRetriever.
type ImageConfig struct {
	Crawl scraper.CrawlConfig
	// MinWidth and MinHeight reject icons and tracking pixels (default 110).
	MinWidth  int
	MinHeight int
	// ThumbSize bounds the longer side of previews (default 256).
	ThumbSize int
	// MaxArchiveEntryBytes caps one decompressed archive entry (default
	// scraper.DefaultMaxBodyBytes).
	MaxArchiveEntryBytes int64
}

// ImageRetriever crawls pages for images and stores them with thumbnails.
type ImageRetriever struct {
	blobs   *blobstore.Store
	fetcher *scraper.Fetcher
	cfg     ImageConfig
	logger  *slog.Logger
}

// NewImageRetriever returns an ImageRetriever downloading through fetcher.
func NewImageRetriever(blobs *blobstore.Store, fetcher *scraper.Fetcher, cfg ImageConfig, logger *slog.Logger) *ImageRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = 110
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = 110
	}
	if cfg.ThumbSize <= 0 {
		cfg.ThumbSize = 256
	}
	if cfg.MaxArchiveEntryBytes <= 0 {
		cfg.MaxArchiveEntryBytes = scraper.DefaultMaxBodyBytes
	}
	return &ImageRetriever{blobs: blobs, fetcher: fetcher, cfg: cfg, logger: logger}
}

// Retrieve crawls urls, expanding sitemaps first, and stores every image
// that decodes and is large enough.
func (r *ImageRetriever) Retrieve(ctx context.Context, scope blobstore.Scope, urls []string) ([]Item, error) {
	seeds := r.expandSitemaps(ctx, urls)

	var (
		mu    sync.Mutex
		items []Item
		seen  = map[string]struct{}{}
	)
	crawler := scraper.NewCrawler(r.cfg.Crawl, r.fetcher, r.logger)
	err := crawler.Run(ctx, seeds, func(_ context.Context, a scraper.Asset) error {
		meta := map[string]any{MetaSourceURL: a.URL}
		if a.PageURL != "" {
			meta[MetaPageURL] = a.PageURL
		}
		if a.Alt != "" {
			meta[MetaAlt] = a.Alt
		}
		if a.PageTitle != "" {
			meta[MetaPageTitle] = a.PageTitle
		}
		it, err := r.store(scope, a.Response.Body, meta)
		if err != nil {
			return err
		}
		it.SourceURL = a.URL

		mu.Lock()
		defer mu.Unlock()
		if _, dup := seen[it.ContentPath]; dup {
			return nil
		}
		seen[it.ContentPath] = struct{}{}
		items = append(items, it)
		return nil
	})
	return items, err
}

func (r *ImageRetriever) expandSitemaps(ctx context.Context, urls []string) []string {
	var sitemaps *scraper.SitemapFetcher
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if !scraper.IsSitemapURL(u) {
			out = append(out, u)
			continue
		}
		if sitemaps == nil {
			sitemaps = scraper.NewSitemapFetcher(r.fetcher, r.logger)
		}
		pages, err := sitemaps.FetchSitemap(ctx, u)
		if err != nil {
			r.logger.Warn("sitemap expansion failed", "url", u, "err", err)
			continue
		}
		out = append(out, pages...)
	}
	return out
}

func extension(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}

// store writes an image under full/<sha1>.<ext> with a JPEG thumbnail and
// publishes both. Storing the same bytes twice yields the same paths.
func (r *ImageRetriever) store(scope blobstore.Scope, body []byte, meta map[string]any) (Item, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(body))
	if err != nil {
		return Item{}, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width < r.cfg.MinWidth || cfg.Height < r.cfg.MinHeight {
		return Item{}, fmt.Errorf("%w: %dx%d", ErrTooSmall, cfg.Width, cfg.Height)
	}

	sum := sha1.Sum(body)
	name := hex.EncodeToString(sum[:])
	full := path.Join(blobstore.DirFull, name+"."+extension(format))
	thumb := path.Join(blobstore.DirThumbs, name+".jpg")

	if !r.blobs.Exists(scope, full) {
		if err := r.blobs.WriteFile(scope, full, body); err != nil {
			return Item{}, err
		}
	}
	if !r.blobs.Exists(scope, thumb) {
		data, err := r.thumbnail(body)
		if err != nil {
			return Item{}, err
		}
		if err := r.blobs.WriteFile(scope, thumb, data); err != nil {
			return Item{}, err
		}
	}

	public, err := r.blobs.Publish(scope, full)
	if err != nil {
		return Item{}, err
	}
	if _, err := r.blobs.Publish(scope, thumb); err != nil {
		return Item{}, err
	}

	meta[MetaWidth] = cfg.Width
	meta[MetaHeight] = cfg.Height
	meta[MetaFormat] = format
	return Item{ContentPath: full, PreviewPath: thumb, PublicPath: public, Metadata: meta}, nil
}

func (r *ImageRetriever) thumbnail(body []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if longest := max(w, h); longest > r.cfg.ThumbSize {
		w = max(1, w*r.cfg.ThumbSize/longest)
		h = max(1, h*r.cfg.ThumbSize/longest)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportArchive stores the images of a zip archive as an initial datastream.
// Entries that are not images, or are too small, are skipped.
func (r *ImageRetriever) ImportArchive(ctx context.Context, scope blobstore.Scope, zr *zip.Reader) ([]Item, error) {
	var items []Item
	seen := map[string]struct{}{}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		if f.FileInfo().IsDir() {
			continue
		}
		body, err := r.readEntry(f)
		if err != nil {
			r.logger.Warn("skipping archive entry", "entry", f.Name, "err", err)
			continue
		}
		it, err := r.store(scope, body, map[string]any{"archive_entry": f.Name})
		if err != nil {
			r.logger.Debug("skipping archive entry", "entry", f.Name, "err", err)
			continue
		}
		if _, dup := seen[it.ContentPath]; dup {
			continue
		}
		seen[it.ContentPath] = struct{}{}
		items = append(items, it)
	}
	return items, nil
}

func (r *ImageRetriever) readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	body, err := io.ReadAll(io.LimitReader(rc, r.cfg.MaxArchiveEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > r.cfg.MaxArchiveEntryBytes {
		return nil, scraper.ErrBodyTooLarge
	}
	return body, nil
}
