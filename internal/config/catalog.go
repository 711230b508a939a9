package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/FranksOps/maestro/internal/storage"
)

// Loader provides the plugin catalog to sync into the registry.
type Loader interface {
	Load(ctx context.Context) ([]*storage.Plugin, error)
}

// CatalogEntry is one plugin record as written in a catalog file.
type CatalogEntry struct {
	Name             string   `yaml:"name"`
	Kind             string   `yaml:"kind"`
	Type             string   `yaml:"type"`
	Location         string   `yaml:"location"`
	Description      string   `yaml:"description"`
	Active           *bool    `yaml:"active"`
	DataType         string   `yaml:"data_type"`
	Default          bool     `yaml:"default"`
	IncompatibleWith []string `yaml:"incompatible_with"`
	Manipulation     string   `yaml:"manipulation"`
	Builtin          bool     `yaml:"builtin"`
}

type catalogFile struct {
	Plugins []CatalogEntry `yaml:"plugins"`
}

// FileLoader reads a YAML catalog from disk. Relative exec locations are
// resolved against the catalog's directory.
type FileLoader struct {
	path string
}

// NewFileLoader returns a FileLoader for path.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{path: path}
}

func (l *FileLoader) Load(ctx context.Context) ([]*storage.Plugin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	plugins, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", l.path, err)
	}
	base := filepath.Dir(l.path)
	for _, p := range plugins {
		if p.Type == storage.TypeExec && !filepath.IsAbs(p.Location) {
			p.Location = filepath.Join(base, p.Location)
		}
	}
	return plugins, nil
}

// ParseCatalog decodes and checks catalog entries.
func ParseCatalog(data []byte) ([]*storage.Plugin, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	var errs []error
	out := make([]*storage.Plugin, 0, len(file.Plugins))
	seen := make(map[string]bool)
	for i, e := range file.Plugins {
		p, err := e.plugin()
		if err != nil {
			errs = append(errs, fmt.Errorf("entry %d (%q): %w", i, e.Name, err))
			continue
		}
		key := string(p.Kind) + "/" + p.Name
		if seen[key] {
			errs = append(errs, fmt.Errorf("entry %d: duplicate %s %q", i, p.Kind, p.Name))
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}

func (e CatalogEntry) plugin() (*storage.Plugin, error) {
	if e.Name == "" || e.Location == "" {
		return nil, errors.New("name and location are required")
	}
	p := &storage.Plugin{
		Name:             e.Name,
		Kind:             storage.PluginKind(e.Kind),
		Type:             storage.PluginType(e.Type),
		Location:         e.Location,
		Description:      e.Description,
		Active:           e.Active == nil || *e.Active,
		DataType:         storage.DataType(e.DataType),
		IsDefault:        e.Default,
		IncompatibleWith: e.IncompatibleWith,
		Manipulation:     storage.Manipulation(e.Manipulation),
		IsBuiltin:        e.Builtin,
	}
	if p.Type == "" {
		p.Type = storage.TypeExec
	}
	if p.DataType == "" {
		p.DataType = storage.DataAgnostic
	}

	switch p.Kind {
	case storage.KindFetcher, storage.KindPostProcessor, storage.KindFilter, storage.KindClassifier:
	default:
		return nil, fmt.Errorf("unknown kind %q", e.Kind)
	}
	switch p.Type {
	case storage.TypeExec, storage.TypeBuiltin:
	default:
		return nil, fmt.Errorf("unknown type %q", e.Type)
	}
	switch p.DataType {
	case storage.DataImages, storage.DataSounds, storage.DataAgnostic:
	default:
		return nil, fmt.Errorf("unknown data type %q", e.DataType)
	}

	if p.Kind != storage.KindFetcher && (p.IsDefault || len(p.IncompatibleWith) > 0) {
		return nil, errors.New("default and incompatible_with apply to fetchers only")
	}
	if p.Kind == storage.KindPostProcessor || p.Kind == storage.KindFilter {
		switch p.Manipulation {
		case "":
			p.Manipulation = storage.MetadataRetrieval
		case storage.MetadataRetrieval, storage.DataManipulation:
		default:
			return nil, fmt.Errorf("unknown manipulation %q", e.Manipulation)
		}
	} else if p.Manipulation != "" {
		return nil, errors.New("manipulation applies to post-processors and filters only")
	}
	if p.IsBuiltin && (p.Kind != storage.KindFilter || p.Type != storage.TypeBuiltin) {
		return nil, errors.New("builtin applies to builtin filters only")
	}
	return p, nil
}
