package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/FranksOps/maestro/internal/storage"
)

// Names of the builtin filters implied by configuration parameters.
const (
	BuiltinDateFilter        = "date"
	BuiltinGeolocationFilter = "geolocation"
)

// Registry selects plugin records from the catalog.
type Registry struct {
	store  storage.PluginStore
	logger *slog.Logger
}

// NewRegistry returns a Registry over store.
func NewRegistry(store storage.PluginStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, logger: logger}
}

// ListActive returns the active records of kind that accept dataType. An
// empty dataType matches every record.
func (r *Registry) ListActive(ctx context.Context, kind storage.PluginKind, dataType storage.DataType) ([]*storage.Plugin, error) {
	all, err := r.store.ListPlugins(ctx, storage.PluginFilter{Kind: kind, ActiveOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list %s plugins: %w", kind, err)
	}
	if dataType == "" {
		return all, nil
	}
	out := all[:0]
	for _, p := range all {
		if p.DataType.Accepts(dataType) {
			out = append(out, p)
		}
	}
	return out, nil
}

// DefaultFetchers is the fetcher set used when a context selects none.
func (r *Registry) DefaultFetchers(ctx context.Context, dataType storage.DataType) ([]*storage.Plugin, error) {
	active, err := r.ListActive(ctx, storage.KindFetcher, dataType)
	if err != nil {
		return nil, err
	}
	out := active[:0]
	for _, p := range active {
		if p.IsDefault {
			out = append(out, p)
		}
	}
	return out, nil
}

// Resolve loads records by ID, keeping the given order. Missing IDs are an
// error.
func (r *Registry) Resolve(ctx context.Context, ids []string) ([]*storage.Plugin, error) {
	out := make([]*storage.Plugin, 0, len(ids))
	for _, id := range ids {
		p, err := r.store.GetPlugin(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("resolve plugin %s: %w", id, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func incompatible(a, b *storage.Plugin) bool {
	return slices.Contains(a.IncompatibleWith, b.Name) || slices.Contains(b.IncompatibleWith, a.Name)
}

// Incompatibilities returns the active fetchers that cannot run alongside p.
// The relation is symmetric.
func (r *Registry) Incompatibilities(ctx context.Context, p *storage.Plugin) ([]*storage.Plugin, error) {
	active, err := r.ListActive(ctx, storage.KindFetcher, "")
	if err != nil {
		return nil, err
	}
	var out []*storage.Plugin
	for _, other := range active {
		if other.ID != p.ID && incompatible(p, other) {
			out = append(out, other)
		}
	}
	return out, nil
}

// ValidateFetcherSelection rejects a selection holding two active fetchers
// that are mutually incompatible.
func (r *Registry) ValidateFetcherSelection(ctx context.Context, ids []string) error {
	selected, err := r.Resolve(ctx, ids)
	if err != nil {
		return err
	}
	chosen := make(map[string]bool, len(selected))
	for _, p := range selected {
		if p.Kind != storage.KindFetcher {
			return fmt.Errorf("plugin %s is a %s: %w", p.Name, p.Kind, ErrWrongKind)
		}
		chosen[p.ID] = true
	}
	for _, p := range selected {
		if !p.Active {
			continue
		}
		conflicts, err := r.Incompatibilities(ctx, p)
		if err != nil {
			return err
		}
		for _, other := range conflicts {
			if chosen[other.ID] {
				return fmt.Errorf("%q and %q: %w", p.Name, other.Name, ErrIncompatibleFetchers)
			}
		}
	}
	return nil
}

// selected resolves ids and keeps the active records of kind accepting
// dataType. Records that vanished from the catalog are skipped.
func (r *Registry) selected(ctx context.Context, ids []string, kind storage.PluginKind, dataType storage.DataType) ([]*storage.Plugin, error) {
	var out []*storage.Plugin
	for _, id := range ids {
		p, err := r.store.GetPlugin(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("selected plugin no longer exists", "plugin_id", id)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolve plugin %s: %w", id, err)
		}
		if p.Kind == kind && p.Active && p.DataType.Accepts(dataType) {
			out = append(out, p)
		}
	}
	return out, nil
}

// FetchersFor returns the fetchers a context runs: its selection, or the
// defaults when it has none.
func (r *Registry) FetchersFor(ctx context.Context, cfg *storage.Configuration) ([]*storage.Plugin, error) {
	if cfg.Advanced == nil || len(cfg.Advanced.FetcherIDs) == 0 {
		return r.DefaultFetchers(ctx, cfg.DataType)
	}
	return r.selected(ctx, cfg.Advanced.FetcherIDs, storage.KindFetcher, cfg.DataType)
}

// PostProcessorsFor returns the selected active post-processors.
func (r *Registry) PostProcessorsFor(ctx context.Context, cfg *storage.Configuration) ([]*storage.Plugin, error) {
	if cfg.Advanced == nil {
		return nil, nil
	}
	return r.selected(ctx, cfg.Advanced.PostProcessorIDs, storage.KindPostProcessor, cfg.DataType)
}

// ClassifiersFor returns the selected active classifiers.
func (r *Registry) ClassifiersFor(ctx context.Context, cfg *storage.Configuration) ([]*storage.Plugin, error) {
	if cfg.Advanced == nil {
		return nil, nil
	}
	return r.selected(ctx, cfg.Advanced.ClassifierIDs, storage.KindClassifier, cfg.DataType)
}

// FiltersFor returns the selected custom filters followed by the builtin
// filters implied by the configuration.
func (r *Registry) FiltersFor(ctx context.Context, cfg *storage.Configuration) ([]*storage.Plugin, error) {
	if cfg.Advanced == nil {
		return nil, nil
	}
	custom, err := r.selected(ctx, cfg.Advanced.FilterIDs, storage.KindFilter, cfg.DataType)
	if err != nil {
		return nil, err
	}
	out := make([]*storage.Plugin, 0, len(custom)+2)
	for _, p := range custom {
		if !p.IsBuiltin {
			out = append(out, p)
		}
	}
	builtins, err := r.BuiltinFilters(ctx, cfg.Advanced)
	if err != nil {
		return nil, err
	}
	return append(out, builtins...), nil
}

// BuiltinFilters returns the date filter when a date bound is set and the
// geolocation filter when a location and radius are set. A catalog record
// for a builtin filter can disable it; without one a default record is used.
func (r *Registry) BuiltinFilters(ctx context.Context, a *storage.AdvancedConfiguration) ([]*storage.Plugin, error) {
	var wanted []string
	if a.HasDateRange() {
		wanted = append(wanted, BuiltinDateFilter)
	}
	if a.HasGeoFence() {
		wanted = append(wanted, BuiltinGeolocationFilter)
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	records, err := r.store.ListPlugins(ctx, storage.PluginFilter{Kind: storage.KindFilter})
	if err != nil {
		return nil, fmt.Errorf("list builtin filters: %w", err)
	}

	var out []*storage.Plugin
	for _, name := range wanted {
		idx := slices.IndexFunc(records, func(p *storage.Plugin) bool {
			return p.IsBuiltin && p.Type == storage.TypeBuiltin && p.Location == name
		})
		if idx < 0 {
			out = append(out, defaultBuiltinFilter(name))
			continue
		}
		if records[idx].Active {
			out = append(out, records[idx])
		}
	}
	return out, nil
}

func defaultBuiltinFilter(name string) *storage.Plugin {
	return &storage.Plugin{
		ID:           "builtin:" + name,
		Name:         name,
		Kind:         storage.KindFilter,
		Type:         storage.TypeBuiltin,
		Location:     name,
		Active:       true,
		DataType:     storage.DataAgnostic,
		Manipulation: storage.MetadataRetrieval,
		IsBuiltin:    true,
	}
}

// Sync upserts catalog records and writes the stored IDs back.
func (r *Registry) Sync(ctx context.Context, catalog []*storage.Plugin) error {
	for _, p := range catalog {
		if err := r.store.UpsertPlugin(ctx, p); err != nil {
			return fmt.Errorf("sync plugin %s: %w", p.Name, err)
		}
		r.logger.Debug("plugin synced", "plugin", p.Name, "kind", p.Kind, "id", p.ID)
	}
	return nil
}
