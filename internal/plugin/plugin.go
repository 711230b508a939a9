// Package plugin defines the four entry-point contracts a plugin can
// implement and the registry that selects plugin records for a context.
package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/FranksOps/maestro/internal/storage"
)

var (
	// ErrIncompatibleFetchers is returned when a selection contains two active
	// fetchers that declare each other incompatible.
	ErrIncompatibleFetchers = errors.New("plugin: incompatible fetchers selected")
	// ErrWrongKind is returned when a record is loaded as the wrong contract.
	ErrWrongKind = errors.New("plugin: wrong kind")
	// ErrUnknownBuiltin is returned when no compiled-in plugin has the name.
	ErrUnknownBuiltin = errors.New("plugin: unknown builtin")
)

// Error wraps a failure to load or invoke a plugin.
type Error struct {
	Plugin string
	// Op is "load" or the invoked entry point.
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FetchParams is the argument of a fetcher call. Field order is part of the
// cache key and must not change.
type FetchParams struct {
	SearchString string     `json:"search_string"`
	Keywords     []string   `json:"keywords"`
	StartDate    *time.Time `json:"start_date"`
	EndDate      *time.Time `json:"end_date"`
	CountryCode  string     `json:"country_code"`
}

// ParamsFor builds the fetcher arguments of a configuration.
func ParamsFor(cfg *storage.Configuration) FetchParams {
	p := FetchParams{
		SearchString: cfg.SearchString,
		Keywords:     cfg.Keywords,
		CountryCode:  cfg.Advanced.Country(),
	}
	if cfg.Advanced != nil {
		p.StartDate = cfg.Advanced.StartDate
		p.EndDate = cfg.Advanced.EndDate
	}
	if p.Keywords == nil {
		p.Keywords = []string{}
	}
	return p
}

// Key is the exact, order-preserving serialization of p.
func (p FetchParams) Key() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FilterableData is the configuration snapshot handed to filters.
type FilterableData struct {
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
	Location  string     `json:"location"`
	Radius    float64    `json:"radius"`
	Keywords  []string   `json:"keywords"`
}

// FilterableDataFor extracts the filter snapshot of a configuration.
func FilterableDataFor(cfg *storage.Configuration) FilterableData {
	d := FilterableData{Keywords: cfg.Keywords}
	if a := cfg.Advanced; a != nil {
		d.StartDate, d.EndDate = a.StartDate, a.EndDate
		d.Location, d.Radius = a.Location, a.Radius
	}
	return d
}

// Verdict is a filter's answer for one object.
type Verdict int

const (
	// Abstain means no opinion; the object is excluded only in strict mode.
	Abstain Verdict = iota
	Keep
	Exclude
)

func (v Verdict) String() string {
	switch v {
	case Keep:
		return "keep"
	case Exclude:
		return "exclude"
	}
	return "abstain"
}

// Excludes applies the strict-filtering policy to v.
func (v Verdict) Excludes(strict bool) bool {
	return v == Exclude || (v == Abstain && strict)
}

// VerdictOf maps a JSON boolean or null to a Verdict.
func VerdictOf(raw json.RawMessage) (Verdict, error) {
	var b *bool
	if len(raw) == 0 {
		return Abstain, nil
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return Abstain, fmt.Errorf("filter result must be true, false or null: %w", err)
	}
	switch {
	case b == nil:
		return Abstain, nil
	case *b:
		return Keep, nil
	default:
		return Exclude, nil
	}
}

// Fetcher turns search parameters into source URLs.
type Fetcher interface {
	Fetch(ctx context.Context, params FetchParams) ([]string, error)
}

// PostProcessor derives a value from an object's content. A nil result means
// no result.
type PostProcessor interface {
	PostProcess(ctx context.Context, contentPath string) (json.RawMessage, error)
}

// Filter decides whether an object stays in the datastream.
type Filter interface {
	Filter(ctx context.Context, contentPath string, metadata map[string]any, data FilterableData) (Verdict, error)
}

// Classifier attaches a JSON-serializable label to an object.
type Classifier interface {
	Classify(ctx context.Context, contentPath string) (json.RawMessage, error)
}

// Builtins maps the Location of builtin plugin records to compiled-in
// implementations. A value implements one or more of the contracts.
type Builtins map[string]any
