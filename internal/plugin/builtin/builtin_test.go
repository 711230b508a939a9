package builtin

import (
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/storage"
	"github.com/FranksOps/maestro/internal/storage/sqlite"
)

func date(s string) *time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestDateFilter(t *testing.T) {
	ctx := context.Background()
	meta := map[string]any{MetaDatetime: "2023:06:15 12:00:00"}
	cases := []struct {
		name  string
		start *time.Time
		end   *time.Time
		meta  map[string]any
		want  plugin.Verdict
	}{
		{"no bounds", nil, nil, meta, plugin.Abstain},
		{"no datetime", date("2023-01-01"), nil, map[string]any{}, plugin.Abstain},
		{"after start", date("2023-01-01"), nil, meta, plugin.Keep},
		{"before start", date("2023-07-01"), nil, meta, plugin.Exclude},
		{"before end", nil, date("2023-07-01"), meta, plugin.Keep},
		{"after end", nil, date("2023-06-01"), meta, plugin.Exclude},
		{"inside range", date("2023-06-01"), date("2023-07-01"), meta, plugin.Keep},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := DateFilter{}.Filter(ctx, "x.jpg", tc.meta, plugin.FilterableData{StartDate: tc.start, EndDate: tc.end})
			require.NoError(t, err)
			assert.Equal(t, tc.want, v)
		})
	}

	_, err := DateFilter{}.Filter(ctx, "x.jpg", map[string]any{MetaDatetime: "yesterday"}, plugin.FilterableData{StartDate: date("2023-01-01")})
	assert.Error(t, err)
}

func TestGeolocationFilter(t *testing.T) {
	ctx := context.Background()
	lisbon := "38.7223,-9.1393"
	data := plugin.FilterableData{Location: lisbon, Radius: 10_000}

	// Sintra is about 25 km from Lisbon, Belem about 6 km.
	v, err := GeolocationFilter{}.Filter(ctx, "x.jpg", map[string]any{MetaCoordinates: []float64{38.7975, -9.3903}}, data)
	require.NoError(t, err)
	assert.Equal(t, plugin.Exclude, v)

	v, err = GeolocationFilter{}.Filter(ctx, "x.jpg", map[string]any{MetaCoordinates: []any{38.6916, -9.2160}}, data)
	require.NoError(t, err)
	assert.Equal(t, plugin.Keep, v)

	v, err = GeolocationFilter{}.Filter(ctx, "x.jpg", map[string]any{MetaCoordinates: nil}, data)
	require.NoError(t, err)
	assert.Equal(t, plugin.Abstain, v)

	v, err = GeolocationFilter{}.Filter(ctx, "x.jpg", map[string]any{MetaCoordinates: []float64{1, 2}}, plugin.FilterableData{})
	require.NoError(t, err)
	assert.Equal(t, plugin.Abstain, v)
}

func TestDistanceMeters(t *testing.T) {
	// Lisbon to Porto is roughly 274 km.
	d := DistanceMeters(38.7223, -9.1393, 41.1579, -8.6291)
	assert.InDelta(t, 274_000, d, 3_000)
	assert.Zero(t, DistanceMeters(10, 10, 10, 10))
}

func TestKeywordFilter(t *testing.T) {
	ctx := context.Background()
	data := plugin.FilterableData{Keywords: []string{"owl", "hawk"}}

	v, err := KeywordFilter{}.Filter(ctx, "x.jpg", map[string]any{"alt": "A barn OWL at dusk"}, data)
	require.NoError(t, err)
	assert.Equal(t, plugin.Keep, v)

	v, err = KeywordFilter{}.Filter(ctx, "x.jpg", map[string]any{"page_title": "Garden furniture"}, data)
	require.NoError(t, err)
	assert.Equal(t, plugin.Exclude, v)

	v, err = KeywordFilter{}.Filter(ctx, "x.jpg", map[string]any{"width": 300}, data)
	require.NoError(t, err)
	assert.Equal(t, plugin.Abstain, v)
}

func TestExifRetriever_NoExif(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, jpeg.Encode(f, image.NewRGBA(image.Rect(0, 0, 8, 8)), nil))
	require.NoError(t, f.Close())

	res, err := ExifRetriever{}.PostProcess(context.Background(), path)
	require.NoError(t, err)
	assert.Nil(t, res)

	_, err = ExifRetriever{}.PostProcess(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}

func TestSearchFetcher(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "barn owl", r.URL.Query().Get("q"))
		assert.Equal(t, "PT", r.URL.Query().Get("cc"))
		_ = json.NewEncoder(w).Encode(map[string]any{"value": []map[string]string{{"contentUrl": "http://img/1.jpg"}}})
	}))
	defer ts.Close()

	builtins := Defaults(Config{Keys: Keys{Bing: "k"}, Endpoints: map[string]string{BingImages: ts.URL}})
	f, ok := builtins[BingImages].(plugin.Fetcher)
	require.True(t, ok)

	urls, err := f.Fetch(context.Background(), plugin.FetchParams{SearchString: "barn owl", Keywords: []string{}, CountryCode: "PT"})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://img/1.jpg"}, urls)
}

func TestCatalog(t *testing.T) {
	b, err := sqlite.New(filepath.Join(t.TempDir(), "maestro.db"))
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	reg := plugin.NewRegistry(b, nil)
	catalog := Catalog()
	require.NoError(t, reg.Sync(ctx, catalog))

	builtins := Defaults(Config{})
	byName := map[string]*storage.Plugin{}
	for _, p := range catalog {
		byName[p.Name] = p
		assert.Contains(t, builtins, p.Location, "record %s has no implementation", p.Name)
	}

	defaults, err := reg.DefaultFetchers(ctx, storage.DataImages)
	require.NoError(t, err)
	require.Len(t, defaults, 1)
	assert.Equal(t, "Bing image", defaults[0].Name)

	err = reg.ValidateFetcherSelection(ctx, []string{byName["Bing image"].ID, byName["Freesound"].ID})
	assert.ErrorIs(t, err, plugin.ErrIncompatibleFetchers)
	assert.NoError(t, reg.ValidateFetcherSelection(ctx, []string{byName["Bing image"].ID, byName["Bing web search"].ID}))
}
