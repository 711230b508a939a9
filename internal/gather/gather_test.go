package gather

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranksOps/maestro/internal/blobstore"
	"github.com/FranksOps/maestro/internal/scraper"
	"github.com/FranksOps/maestro/internal/storage"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newBlobs(t *testing.T) (*blobstore.Store, blobstore.Scope) {
	t.Helper()
	root := t.TempDir()
	blobs, err := blobstore.New(filepath.Join(root, "data"), filepath.Join(root, "public"))
	require.NoError(t, err)
	scope := blobstore.Scope{Owner: storage.Owner{Kind: storage.OwnerUser, ID: "u1"}, Code: "trams"}
	require.NoError(t, blobs.Prepare(scope))
	return blobs, scope
}

func newFetcher(t *testing.T) *scraper.Fetcher {
	t.Helper()
	f, err := scraper.NewFetcher(scraper.FetchConfig{Timeout: 5 * time.Second})
	require.NoError(t, err)
	return f
}

func TestImageRetriever_StoresLargeImages(t *testing.T) {
	big := pngBytes(t, 400, 200, color.RGBA{R: 200, A: 255})
	small := pngBytes(t, 50, 50, color.RGBA{B: 200, A: 255})

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Trams</title></head><body>
			<img src="/big.png" alt="yellow tram"><img src="/small.png"><img src="/copy.png"></body></html>`))
	})
	serve := func(body []byte) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(body)
		}
	}
	mux.HandleFunc("/big.png", serve(big))
	mux.HandleFunc("/copy.png", serve(big))
	mux.HandleFunc("/small.png", serve(small))
	ts := httptest.NewServer(mux)
	defer ts.Close()

	blobs, scope := newBlobs(t)
	r := NewImageRetriever(blobs, newFetcher(t), ImageConfig{ThumbSize: 100}, nil)

	items, err := r.Retrieve(context.Background(), scope, []string{ts.URL + "/"})
	require.NoError(t, err)
	require.Len(t, items, 1, "small image rejected, duplicate bytes collapsed")

	it := items[0]
	assert.Equal(t, "png", it.Metadata[MetaFormat])
	assert.Equal(t, 400, it.Metadata[MetaWidth])
	assert.Equal(t, "Trams", it.Metadata[MetaPageTitle])
	assert.True(t, blobs.Exists(scope, it.ContentPath))
	assert.True(t, blobs.Exists(scope, it.PreviewPath))
	assert.FileExists(t, filepath.Join(filepath.Dir(blobs.Root()), "public", filepath.FromSlash(it.PublicPath)))

	thumb, err := blobs.ReadFile(scope, it.PreviewPath)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	again, err := r.Retrieve(context.Background(), scope, []string{ts.URL + "/"})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, it.ContentPath, again[0].ContentPath)
}

func TestImageRetriever_ImportArchive(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range map[string][]byte{
		"photos/a.png":    pngBytes(t, 200, 200, color.White),
		"photos/b.png":    pngBytes(t, 300, 120, color.Black),
		"photos/tiny.png": pngBytes(t, 16, 16, color.Black),
		"notes.txt":       []byte("not an image"),
	} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	blobs, scope := newBlobs(t)
	r := NewImageRetriever(blobs, newFetcher(t), ImageConfig{}, nil)
	items, err := r.ImportArchive(context.Background(), scope, zr)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Regexp(t, `^data/full/[0-9a-f]{40}\.png$`, it.ContentPath)
		assert.True(t, blobs.Exists(scope, it.PreviewPath))
	}
}

func TestSoundRetriever_Downloads(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3 fake audio"))
	})
	mux.HandleFunc("/empty.mp3", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	blobs, scope := newBlobs(t)
	r := NewSoundRetriever(blobs, newFetcher(t), 2, nil)

	items, err := r.Retrieve(context.Background(), scope, []string{
		ts.URL + "/a.mp3", ts.URL + "/missing.mp3", ts.URL + "/empty.mp3", ts.URL + "/a.mp3",
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Regexp(t, `^data/full/[0-9a-f]{32}\.mp3$`, items[0].ContentPath)
	assert.Empty(t, items[0].PreviewPath)
	assert.Equal(t, ts.URL+"/a.mp3", items[0].SourceURL)
}

func TestRetrievers_For(t *testing.T) {
	rs := Retrievers{storage.DataSounds: NewSoundRetriever(nil, nil, 0, nil)}
	_, err := rs.For(storage.DataSounds)
	assert.NoError(t, err)
	_, err = rs.For(storage.DataImages)
	assert.Error(t, err)
}
