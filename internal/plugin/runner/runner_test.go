package runner

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/storage"
)

type staticFetcher []string

func (s staticFetcher) Fetch(context.Context, plugin.FetchParams) ([]string, error) {
	return s, nil
}

type panicky struct{}

func (panicky) Classify(context.Context, string) (json.RawMessage, error) {
	panic("boom")
}

func record(name string, kind storage.PluginKind, typ storage.PluginType, location string) *storage.Plugin {
	return &storage.Plugin{ID: name, Name: name, Kind: kind, Type: typ, Location: location, Active: true}
}

func script(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestFetcher_Builtin(t *testing.T) {
	r := New(plugin.Builtins{"static": staticFetcher{"u1", "u2"}}, Options{}, nil)

	f, err := r.Fetcher(record("static", storage.KindFetcher, storage.TypeBuiltin, "static"))
	require.NoError(t, err)
	urls, err := f.Fetch(context.Background(), plugin.FetchParams{})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, urls)
}

func TestLoadErrors(t *testing.T) {
	r := New(plugin.Builtins{"static": staticFetcher{}}, Options{}, nil)

	_, err := r.Fetcher(record("missing", storage.KindFetcher, storage.TypeBuiltin, "nope"))
	require.ErrorIs(t, err, plugin.ErrUnknownBuiltin)
	var perr *plugin.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "load", perr.Op)

	_, err = r.Classifier(record("static", storage.KindFetcher, storage.TypeBuiltin, "static"))
	assert.ErrorIs(t, err, plugin.ErrWrongKind)

	_, err = r.Classifier(record("static", storage.KindClassifier, storage.TypeBuiltin, "static"))
	assert.ErrorIs(t, err, plugin.ErrWrongKind, "a fetcher implementation cannot be loaded as a classifier")

	_, err = r.Fetcher(record("gone", storage.KindFetcher, storage.TypeExec, filepath.Join(t.TempDir(), "gone.sh")))
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "load", perr.Op)
}

func TestPanicIsRecovered(t *testing.T) {
	r := New(plugin.Builtins{"panicky": panicky{}}, Options{}, nil)

	c, err := r.Classifier(record("panicky", storage.KindClassifier, storage.TypeBuiltin, "panicky"))
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "a.jpg")
	var perr *plugin.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "panicky", perr.Plugin)
	assert.Contains(t, err.Error(), "boom")
}

func TestExecAdapters(t *testing.T) {
	path := script(t, `read req
case "$req" in
  *'"kind":"fetch"'*) echo '{"result":["http://a","http://b"]}' ;;
  *'"kind":"filter"'*) echo '{"result":false}' ;;
  *'"kind":"post_process"'*) echo '{"result":null}' ;;
  *'"kind":"classify"'*) echo '{"result":{"label":"owl"}}' ;;
esac`)
	r := New(nil, Options{ExecTimeout: 5 * time.Second}, nil)
	ctx := context.Background()

	f, err := r.Fetcher(record("f", storage.KindFetcher, storage.TypeExec, path))
	require.NoError(t, err)
	urls, err := f.Fetch(ctx, plugin.FetchParams{SearchString: "owl"})
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a", "http://b"}, urls)

	flt, err := r.Filter(record("flt", storage.KindFilter, storage.TypeExec, path))
	require.NoError(t, err)
	v, err := flt.Filter(ctx, "a.jpg", map[string]any{}, plugin.FilterableData{})
	require.NoError(t, err)
	assert.Equal(t, plugin.Exclude, v)

	pp, err := r.PostProcessor(record("pp", storage.KindPostProcessor, storage.TypeExec, path))
	require.NoError(t, err)
	res, err := pp.PostProcess(ctx, "a.jpg")
	require.NoError(t, err)
	assert.Nil(t, res)

	c, err := r.Classifier(record("c", storage.KindClassifier, storage.TypeExec, path))
	require.NoError(t, err)
	res, err = c.Classify(ctx, "a.jpg")
	require.NoError(t, err)
	assert.JSONEq(t, `{"label":"owl"}`, string(res))
}

func TestExecFailureIsPluginError(t *testing.T) {
	path := script(t, `cat >/dev/null; echo '{"error":"quota exceeded"}'`)
	r := New(nil, Options{}, nil)

	f, err := r.Fetcher(record("quota", storage.KindFetcher, storage.TypeExec, path))
	require.NoError(t, err)
	_, err = f.Fetch(context.Background(), plugin.FetchParams{})
	var perr *plugin.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "fetch", perr.Op)
	assert.Contains(t, err.Error(), "quota exceeded")
}
