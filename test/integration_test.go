//go:build integration

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranksOps/maestro/internal/api"
	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/cache"
	"github.com/FranksOps/maestro/internal/gather"
	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/orchestrator"
	"github.com/FranksOps/maestro/internal/pipeline"
	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/plugin/builtin"
	"github.com/FranksOps/maestro/internal/plugin/runner"
	"github.com/FranksOps/maestro/internal/queue"
	"github.com/FranksOps/maestro/internal/scraper"
	"github.com/FranksOps/maestro/internal/storage"
	"github.com/FranksOps/maestro/internal/storage/sqlite"
	"github.com/FranksOps/maestro/pkg/httpclient"
)

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for x := 0; x < 400; x++ {
		for y := 0; y < 200; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// newSite serves two pages with one image each and a Bing web search
// endpoint that returns both pages.
func newSite(t *testing.T) (site *httptest.Server, searches *atomic.Int32) {
	t.Helper()
	searches = &atomic.Int32{}
	mux := http.NewServeMux()
	page := func(title, src, alt string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `<html><head><title>%s</title></head><body><img src="%s" alt="%s"></body></html>`, title, src, alt)
		}
	}
	img := func(body []byte) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(body)
		}
	}
	mux.HandleFunc("/trams", page("Trams of Lisbon", "/tram.png", "yellow tram"))
	mux.HandleFunc("/buses", page("Buses", "/bus.png", "red bus"))
	mux.HandleFunc("/tram.png", img(pngBytes(t, color.RGBA{R: 230, G: 200, A: 255})))
	mux.HandleFunc("/bus.png", img(pngBytes(t, color.RGBA{R: 200, A: 255})))

	site = httptest.NewServer(mux)
	t.Cleanup(site.Close)

	mux.HandleFunc("/bing/search", func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"webPages":{"value":[{"url":%q},{"url":%q}]}}`, site.URL+"/trams", site.URL+"/buses")
	})
	return site, searches
}

type harness struct {
	api  *httptest.Server
	orch *orchestrator.Orchestrator
}

func newHarness(t *testing.T, bingEndpoint string) *harness {
	t.Helper()
	root := t.TempDir()
	store, err := sqlite.New(filepath.Join(root, "maestro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := blobstore.New(filepath.Join(root, "data"), filepath.Join(root, "public"))
	require.NoError(t, err)

	ctx := context.Background()
	registry := plugin.NewRegistry(store, nil)
	require.NoError(t, registry.Sync(ctx, builtin.Catalog()))

	client, err := httpclient.New(httpclient.Config{Timeout: 5 * time.Second})
	require.NoError(t, err)
	builtins := builtin.Defaults(builtin.Config{
		Keys:      builtin.Keys{Bing: "k"},
		Client:    client,
		Endpoints: map[string]string{builtin.BingWeb: bingEndpoint},
	})

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	images := gather.NewImageRetriever(blobs, fetcher, gather.ImageConfig{ThumbSize: 64}, nil)

	pipe, err := pipeline.New(pipeline.Config{
		Store:      store,
		Blobs:      blobs,
		Registry:   registry,
		Runner:     runner.New(builtins, runner.Options{}, nil),
		Cache:      cache.New(store, filepath.Join(root, "data", cache.DirName), nil),
		Retrievers: gather.Retrievers{storage.DataImages: images},
	}, nil)
	require.NoError(t, err)

	pool := queue.New(2, nil)
	pool.Start(ctx)
	t.Cleanup(pool.Stop)

	orch := orchestrator.New(store, blobs, pipe, pool, nil)
	svc := orchestrator.NewService(store, blobs, registry, orch, images, nil)
	srv := httptest.NewServer(api.NewServer(svc, registry, nil))
	t.Cleanup(srv.Close)
	return &harness{api: srv, orch: orch}
}

func (h *harness) call(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, h.api.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (h *harness) pluginID(t *testing.T, kind storage.PluginKind, name string) string {
	t.Helper()
	var plugins []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	require.Equal(t, http.StatusOK, h.call(t, http.MethodGet, "/v1/plugins?kind="+string(kind), "", &plugins))
	for _, p := range plugins {
		if p.Name == name {
			return p.ID
		}
	}
	t.Fatalf("plugin %s %q not listed", kind, name)
	return ""
}

func TestIntegration_SearchCrawlFilter(t *testing.T) {
	site, searches := newSite(t)
	h := newHarness(t, site.URL+"/bing/search")

	var sc storage.SearchContext
	require.Equal(t, http.StatusCreated, h.call(t, http.MethodPost, "/v1/contexts",
		`{"name":"Lisbon trams","owner":{"kind":"organization","id":"o1"},"creator_id":"u1"}`, &sc))
	base := "/v1/contexts/" + sc.ID

	web := h.pluginID(t, storage.KindFetcher, "Bing web search")
	keyword := h.pluginID(t, storage.KindFilter, "Keyword filter")
	cfg := fmt.Sprintf(`{"search_string":"lisbon","keywords":["tram"],"data_type":"images",
		"advanced":{"fetcher_ids":[%q],"filter_ids":[%q]}}`, web, keyword)
	require.Equal(t, http.StatusNoContent, h.call(t, http.MethodPut, base+"/configuration", cfg, nil))

	require.Equal(t, http.StatusAccepted, h.call(t, http.MethodPost, base+"/start", "", nil))
	h.orch.Wait()

	var st orchestrator.StatusReport
	require.Equal(t, http.StatusOK, h.call(t, http.MethodGet, base, "", &st))
	assert.Equal(t, lifecycle.StatusFinishedProviding, st.Context.Status)
	assert.Equal(t, 1, st.Context.Iterations)
	assert.Equal(t, 2, st.Objects)
	assert.Equal(t, 1, st.Unfiltered, "the bus page does not mention trams")

	req, err := http.NewRequest(http.MethodGet, h.api.URL+base+"/results?format=json", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "yellow tram")

	// A second run reuses the cached search answer.
	require.Equal(t, http.StatusAccepted, h.call(t, http.MethodPost, base+"/resume/fetch", "", nil))
	h.orch.Wait()
	require.Equal(t, http.StatusOK, h.call(t, http.MethodGet, base, "", &st))
	assert.Equal(t, 2, st.Context.Iterations)
	assert.Equal(t, 2, st.Objects, "the same images are not stored twice")
	assert.Equal(t, int32(1), searches.Load())
}

func TestIntegration_FetcherFailureIsReported(t *testing.T) {
	site, _ := newSite(t)
	h := newHarness(t, site.URL+"/missing")

	var sc storage.SearchContext
	require.Equal(t, http.StatusCreated, h.call(t, http.MethodPost, "/v1/contexts",
		`{"name":"Broken","owner":{"kind":"user","id":"u1"}}`, &sc))
	base := "/v1/contexts/" + sc.ID

	web := h.pluginID(t, storage.KindFetcher, "Bing web search")
	cfg := fmt.Sprintf(`{"search_string":"lisbon","data_type":"images","advanced":{"fetcher_ids":[%q]}}`, web)
	require.Equal(t, http.StatusNoContent, h.call(t, http.MethodPut, base+"/configuration", cfg, nil))
	require.Equal(t, http.StatusAccepted, h.call(t, http.MethodPost, base+"/start", "", nil))
	h.orch.Wait()

	var st orchestrator.StatusReport
	require.Equal(t, http.StatusOK, h.call(t, http.MethodGet, base, "", &st))
	assert.Equal(t, lifecycle.StatusFailedGathering, st.Context.Status, "a failing fetcher leaves nothing to gather")
	assert.Equal(t, http.StatusConflict, h.call(t, http.MethodGet, base+"/results", "", nil))

	var logs []string
	require.Equal(t, http.StatusOK, h.call(t, http.MethodGet, base+"/logs/fetch", "", &logs))
	assert.Contains(t, strings.Join(logs, "\n"), "Bing web search' failed")
}
