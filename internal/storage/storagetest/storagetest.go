// Package storagetest holds the behavior every storage.Backend must share.
// Backend packages call Run from their own tests.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/FranksOps/maestro/internal/lifecycle"
	"github.com/FranksOps/maestro/internal/storage"
)

// Run exercises b. Names and codes are randomized so a shared database can be
// reused between runs.
func Run(t *testing.T, b storage.Backend) {
	t.Run("Contexts", func(t *testing.T) { testContexts(t, b) })
	t.Run("StatusCompareAndSet", func(t *testing.T) { testStatus(t, b) })
	t.Run("Configuration", func(t *testing.T) { testConfiguration(t, b) })
	t.Run("Plugins", func(t *testing.T) { testPlugins(t, b) })
	t.Run("DataObjects", func(t *testing.T) { testDataObjects(t, b) })
	t.Run("APIResults", func(t *testing.T) { testAPIResults(t, b) })
	t.Run("DeleteCascades", func(t *testing.T) { testDelete(t, b) })
}

func newContext(t *testing.T, b storage.Backend) *storage.SearchContext {
	t.Helper()
	sc := &storage.SearchContext{
		Code:  "ctx-" + uuid.NewString()[:8],
		Name:  "Birds of Lisbon",
		Owner: storage.Owner{Kind: storage.OwnerUser, ID: "user-" + uuid.NewString()[:8]},
	}
	if err := b.CreateContext(context.Background(), sc); err != nil {
		t.Fatalf("CreateContext: %v", err)
	}
	return sc
}

func testContexts(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	sc := newContext(t, b)

	if sc.ID == "" {
		t.Fatal("expected ID to be assigned")
	}
	if sc.Status != lifecycle.StatusNotConfigured {
		t.Errorf("expected new context to be NOT_CONFIGURED, got %s", sc.Status)
	}

	got, err := b.GetContext(ctx, sc.ID)
	if err != nil {
		t.Fatalf("GetContext: %v", err)
	}
	if got.Code != sc.Code || got.Owner != sc.Owner || got.Name != sc.Name {
		t.Errorf("round trip mismatch: %+v vs %+v", got, sc)
	}

	byCode, err := b.GetContextByCode(ctx, sc.Owner, sc.Code)
	if err != nil || byCode.ID != sc.ID {
		t.Fatalf("GetContextByCode: %v (%v)", byCode, err)
	}

	dup := &storage.SearchContext{Code: sc.Code, Name: "other", Owner: sc.Owner}
	if err := b.CreateContext(ctx, dup); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate for same owner and code, got %v", err)
	}

	other := &storage.SearchContext{Code: sc.Code, Name: "other",
		Owner: storage.Owner{Kind: storage.OwnerOrganization, ID: sc.Owner.ID}}
	if err := b.CreateContext(ctx, other); err != nil {
		t.Errorf("same code under another owner must be allowed: %v", err)
	}

	list, err := b.ListContexts(ctx, storage.ContextFilter{Owner: &sc.Owner})
	if err != nil {
		t.Fatalf("ListContexts: %v", err)
	}
	if len(list) != 1 || list[0].ID != sc.ID {
		t.Errorf("expected only %s for owner, got %d contexts", sc.ID, len(list))
	}

	if _, err := b.GetContext(ctx, "missing-"+uuid.NewString()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	if err := b.SetStopped(ctx, sc.ID, true); err != nil {
		t.Fatalf("SetStopped: %v", err)
	}
	n, err := b.IncrementIterations(ctx, sc.ID)
	if err != nil || n != 1 {
		t.Fatalf("IncrementIterations: %d (%v)", n, err)
	}
	got, _ = b.GetContext(ctx, sc.ID)
	if !got.Stopped || got.Iterations != 1 {
		t.Errorf("expected stopped with 1 iteration, got %+v", got)
	}
}

func testStatus(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	sc := newContext(t, b)

	if err := b.TransitionStatus(ctx, sc.ID, lifecycle.StatusNotConfigured, lifecycle.StatusReady); err != nil {
		t.Fatalf("NOT_CONFIGURED -> READY: %v", err)
	}

	// Stale expectation.
	err := b.TransitionStatus(ctx, sc.ID, lifecycle.StatusNotConfigured, lifecycle.StatusReady)
	if !errors.Is(err, storage.ErrStatusConflict) {
		t.Errorf("expected ErrStatusConflict, got %v", err)
	}

	// Not an edge of the lifecycle.
	err = b.TransitionStatus(ctx, sc.ID, lifecycle.StatusReady, lifecycle.StatusFinishedProviding)
	if !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	got, _ := b.GetContext(ctx, sc.ID)
	if got.Status != lifecycle.StatusReady {
		t.Errorf("expected READY, got %s", got.Status)
	}

	err = b.TransitionStatus(ctx, "missing-"+uuid.NewString(), lifecycle.StatusReady, lifecycle.StatusFetching)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func testConfiguration(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	sc := newContext(t, b)

	if _, err := b.GetConfiguration(ctx, sc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before configuring, got %v", err)
	}

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := &storage.Configuration{
		ContextID:    sc.ID,
		SearchString: "kingfisher",
		Keywords:     []string{"bird", "river"},
		DataType:     storage.DataImages,
		Advanced: &storage.AdvancedConfiguration{
			SeedURLs:            []string{"https://example.com/a.jpg"},
			StartDate:           &start,
			Location:            "38.7223,-9.1393",
			Radius:              5000,
			StrictFiltering:     true,
			YieldAfterGathering: true,
			Webhook:             "https://hooks.example.com/in",
			MinimumObjects:      5,
			RepeatAmount:        2,
			RepeatUnit:          storage.RepeatHours,
		},
	}
	if err := b.SaveConfiguration(ctx, cfg); err != nil {
		t.Fatalf("SaveConfiguration: %v", err)
	}

	got, err := b.GetConfiguration(ctx, sc.ID)
	if err != nil {
		t.Fatalf("GetConfiguration: %v", err)
	}
	if got.SearchString != "kingfisher" || len(got.Keywords) != 2 || got.DataType != storage.DataImages {
		t.Errorf("essential fields mismatch: %+v", got)
	}
	if got.Advanced == nil || !got.Advanced.StartDate.Equal(start) || got.Advanced.MinimumObjects != 5 {
		t.Errorf("advanced fields mismatch: %+v", got.Advanced)
	}
	if got.Advanced.RepeatInterval() != 2*time.Hour {
		t.Errorf("expected 2h repeat, got %s", got.Advanced.RepeatInterval())
	}

	cfg.SearchString = "heron"
	cfg.Advanced = nil
	if err := b.SaveConfiguration(ctx, cfg); err != nil {
		t.Fatalf("SaveConfiguration update: %v", err)
	}
	got, _ = b.GetConfiguration(ctx, sc.ID)
	if got.SearchString != "heron" || got.Advanced != nil {
		t.Errorf("update not applied: %+v", got)
	}
}

func testPlugins(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	suffix := uuid.NewString()[:8]

	p := &storage.Plugin{
		Name:             "bing-" + suffix,
		Kind:             storage.KindFetcher,
		Type:             storage.TypeBuiltin,
		Location:         "bing-images",
		Active:           true,
		DataType:         storage.DataImages,
		IsDefault:        true,
		IncompatibleWith: []string{"freesound-" + suffix},
	}
	if err := b.UpsertPlugin(ctx, p); err != nil {
		t.Fatalf("UpsertPlugin: %v", err)
	}
	firstID := p.ID

	// Same (kind, name) updates in place and keeps the ID.
	again := &storage.Plugin{Name: p.Name, Kind: p.Kind, Type: p.Type, Location: "bing-images-v2", Active: false}
	if err := b.UpsertPlugin(ctx, again); err != nil {
		t.Fatalf("UpsertPlugin update: %v", err)
	}
	if again.ID != firstID {
		t.Errorf("expected ID %s to be kept, got %s", firstID, again.ID)
	}

	got, err := b.GetPlugin(ctx, firstID)
	if err != nil {
		t.Fatalf("GetPlugin: %v", err)
	}
	if got.Location != "bing-images-v2" || got.Active {
		t.Errorf("update not applied: %+v", got)
	}

	filter := &storage.Plugin{Name: "geo-" + suffix, Kind: storage.KindFilter, Type: storage.TypeBuiltin,
		Location: "geolocation", Active: true, IsBuiltin: true, Manipulation: storage.MetadataRetrieval}
	if err := b.UpsertPlugin(ctx, filter); err != nil {
		t.Fatalf("UpsertPlugin filter: %v", err)
	}

	active, err := b.ListPlugins(ctx, storage.PluginFilter{Kind: storage.KindFilter, ActiveOnly: true})
	if err != nil {
		t.Fatalf("ListPlugins: %v", err)
	}
	found := false
	for _, a := range active {
		if a.Kind != storage.KindFilter || !a.Active {
			t.Errorf("unexpected plugin in filtered list: %+v", a)
		}
		if a.ID == filter.ID {
			found = true
			if !a.IsBuiltin {
				t.Error("expected IsBuiltin to round trip")
			}
		}
	}
	if !found {
		t.Error("active filter not listed")
	}
}

func testDataObjects(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	sc := newContext(t, b)

	objs := []*storage.DataObject{
		{ContextID: sc.ID, ContentPath: "data/full/a.jpg", PreviewPath: "data/thumbs/a.jpg", SourceURL: "https://x/a.jpg"},
		{ContextID: sc.ID, ContentPath: "data/full/b.jpg", Metadata: map[string]any{"width": 640.0}},
	}
	n, err := b.InsertDataObjects(ctx, objs)
	if err != nil || n != 2 {
		t.Fatalf("InsertDataObjects: %d (%v)", n, err)
	}

	// Same content paths again, plus one new.
	n, err = b.InsertDataObjects(ctx, []*storage.DataObject{
		{ContextID: sc.ID, ContentPath: "data/full/a.jpg"},
		{ContextID: sc.ID, ContentPath: "data/full/b.jpg"},
		{ContextID: sc.ID, ContentPath: "data/full/c.jpg"},
	})
	if err != nil || n != 1 {
		t.Fatalf("expected only c.jpg inserted, got %d (%v)", n, err)
	}

	total, _ := b.CountDataObjects(ctx, sc.ID, storage.DataFilter{})
	if total != 3 {
		t.Fatalf("expected 3 objects, got %d", total)
	}

	list, err := b.ListDataObjects(ctx, sc.ID, storage.DataFilter{})
	if err != nil {
		t.Fatalf("ListDataObjects: %v", err)
	}
	byPath := map[string]*storage.DataObject{}
	for _, o := range list {
		byPath[o.ContentPath] = o
	}
	a := byPath["data/full/a.jpg"]
	a.Filtered = true
	a.Metadata = map[string]any{"datetime": "2021:05:01 10:00:00"}
	if err := b.UpdateDataObject(ctx, a); err != nil {
		t.Fatalf("UpdateDataObject: %v", err)
	}

	unfiltered, _ := b.CountDataObjects(ctx, sc.ID, storage.DataFilter{UnfilteredOnly: true})
	if unfiltered != 2 {
		t.Errorf("expected 2 unfiltered, got %d", unfiltered)
	}

	second := byPath["data/full/b.jpg"]
	if err := b.SetClassification(ctx, second.ID, "species", json.RawMessage(`"heron"`)); err != nil {
		t.Fatalf("SetClassification: %v", err)
	}
	if err := b.SetClassification(ctx, second.ID, "quality", json.RawMessage(`{"score":0.9}`)); err != nil {
		t.Fatalf("SetClassification: %v", err)
	}
	got, _ := b.ListDataObjects(ctx, sc.ID, storage.DataFilter{IDs: []string{second.ID}})
	if len(got) != 1 {
		t.Fatalf("expected 1 object by ID, got %d", len(got))
	}
	if len(got[0].Classification) != 2 {
		t.Errorf("expected both classifier results kept, got %v", got[0].Classification)
	}
	if got[0].Metadata["width"] != 640.0 {
		t.Errorf("metadata lost: %v", got[0].Metadata)
	}

	removed, err := b.DeleteDataObjects(ctx, sc.ID, []string{a.ID})
	if err != nil || len(removed) != 1 || removed[0].ID != a.ID {
		t.Fatalf("DeleteDataObjects: %v (%v)", removed, err)
	}
	total, _ = b.CountDataObjects(ctx, sc.ID, storage.DataFilter{})
	if total != 2 {
		t.Errorf("expected 2 objects after delete, got %d", total)
	}
}

func testAPIResults(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	fetcher := "fetcher-" + uuid.NewString()[:8]
	key := `{"search_string":"owl"}`

	if _, err := b.GetAPIResult(ctx, fetcher, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := b.PutAPIResult(ctx, &storage.APIResult{FetcherID: fetcher, ParamsKey: key, ResultPath: "apis/1.json"}); err != nil {
		t.Fatalf("PutAPIResult: %v", err)
	}
	// The first row wins.
	if err := b.PutAPIResult(ctx, &storage.APIResult{FetcherID: fetcher, ParamsKey: key, ResultPath: "apis/2.json"}); err != nil {
		t.Fatalf("PutAPIResult again: %v", err)
	}
	r, err := b.GetAPIResult(ctx, fetcher, key)
	if err != nil || r.ResultPath != "apis/1.json" {
		t.Fatalf("GetAPIResult: %+v (%v)", r, err)
	}
}

func testDelete(t *testing.T, b storage.Backend) {
	ctx := context.Background()
	sc := newContext(t, b)

	_ = b.SaveConfiguration(ctx, &storage.Configuration{ContextID: sc.ID, SearchString: "x", DataType: storage.DataSounds})
	_, _ = b.InsertDataObjects(ctx, []*storage.DataObject{{ContextID: sc.ID, ContentPath: "data/full/x.mp3"}})

	if err := b.DeleteContext(ctx, sc.ID); err != nil {
		t.Fatalf("DeleteContext: %v", err)
	}
	if _, err := b.GetContext(ctx, sc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("context still present: %v", err)
	}
	if _, err := b.GetConfiguration(ctx, sc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("configuration still present: %v", err)
	}
	if n, _ := b.CountDataObjects(ctx, sc.ID, storage.DataFilter{}); n != 0 {
		t.Errorf("expected data objects removed, got %d", n)
	}
	if err := b.DeleteContext(ctx, sc.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}
