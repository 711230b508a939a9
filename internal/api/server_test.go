package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/gather"
	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/orchestrator"
	"github.com/FranksOps/maestro/internal/pipeline"
	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/plugin/runner"
	"github.com/FranksOps/maestro/internal/queue"
	"github.com/FranksOps/maestro/internal/storage"
	"github.com/FranksOps/maestro/internal/storage/sqlite"
)

type listFetcher []string

func (f listFetcher) Fetch(context.Context, plugin.FetchParams) ([]string, error) { return f, nil }

type echoRetriever struct{ blobs *blobstore.Store }

func (r echoRetriever) Retrieve(_ context.Context, scope blobstore.Scope, urls []string) ([]gather.Item, error) {
	var items []gather.Item
	for i, u := range urls {
		rel := filepath.ToSlash(filepath.Join(blobstore.DirFull, string(rune('a'+i))+".bin"))
		if err := r.blobs.WriteFile(scope, rel, []byte(u)); err != nil {
			return nil, err
		}
		items = append(items, gather.Item{ContentPath: rel, SourceURL: u})
	}
	return items, nil
}

type testServer struct {
	*httptest.Server
	orch *orchestrator.Orchestrator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	store, err := sqlite.New(filepath.Join(root, "maestro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	blobs, err := blobstore.New(filepath.Join(root, "data"), filepath.Join(root, "public"))
	require.NoError(t, err)

	registry := plugin.NewRegistry(store, nil)
	require.NoError(t, registry.Sync(context.Background(), []*storage.Plugin{{
		Name: "static", Kind: storage.KindFetcher, Type: storage.TypeBuiltin, Location: "static",
		Active: true, DataType: storage.DataImages, IsDefault: true,
	}}))
	builtins := plugin.Builtins{"static": listFetcher{"https://example.com/1.jpg", "https://example.com/2.jpg"}}

	pipe, err := pipeline.New(pipeline.Config{
		Store:      store,
		Blobs:      blobs,
		Registry:   registry,
		Runner:     runner.New(builtins, runner.Options{}, nil),
		Retrievers: gather.Retrievers{storage.DataImages: echoRetriever{blobs: blobs}},
	}, nil)
	require.NoError(t, err)

	pool := queue.New(1, nil)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	orch := orchestrator.New(store, blobs, pipe, pool, nil)
	svc := orchestrator.NewService(store, blobs, registry, orch, nil, nil)
	srv := httptest.NewServer(NewServer(svc, registry, nil))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, orch: orch}
}

func (s *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_ContextLifecycle(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodPost, "/v1/contexts", `{"name":"Lisbon trams","owner":{"kind":"user","id":"u1"}}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var sc storage.SearchContext
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sc))
	assert.Equal(t, "lisbon-trams", sc.Code)
	base := "/v1/contexts/" + sc.ID

	resp = s.do(t, http.MethodPost, base+"/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "not configured yet")

	resp = s.do(t, http.MethodPut, base+"/configuration", `{"search_string":"trams","data_type":"images","advanced":{"webhook":"nope"}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPut, base+"/configuration", `{"search_string":"trams","data_type":"images"}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, base+"/results", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "no results before provide")

	resp = s.do(t, http.MethodPost, base+"/start", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	s.orch.Wait()

	resp = s.do(t, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st orchestrator.StatusReport
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, lifecycle.StatusFinishedProviding, st.Context.Status)
	assert.Equal(t, 2, st.Objects)

	resp = s.do(t, http.MethodGet, base+"/logs/fetch", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lines []string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lines))
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "Started fetch")

	resp = s.do(t, http.MethodGet, base+"/results?format=json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))

	resp = s.do(t, http.MethodGet, base+"/summary?format=text", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	buf.Reset()
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "example.com: 2")

	resp = s.do(t, http.MethodPost, base+"/resume/bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = s.do(t, http.MethodPost, base+"/review/complete", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = s.do(t, http.MethodGet, base, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_ListPlugins(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/v1/plugins?kind=FETCHER", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var plugins []pluginView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&plugins))
	require.Len(t, plugins, 1)
	assert.Equal(t, "static", plugins[0].Name)
	assert.True(t, plugins[0].Default)

	resp = s.do(t, http.MethodGet, "/v1/plugins?kind=FETCHER&data_type=sounds", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	plugins = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&plugins))
	assert.Empty(t, plugins)
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t)
	resp := s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
