package builtin

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/FranksOps/maestro/internal/analyzer"
	"github.com/FranksOps/maestro/internal/plugin"
	"github.com/FranksOps/maestro/internal/storage"
)

// Metadata keys written by the EXIF post-processor and read by the filters.
const (
	MetaDatetime    = "datetime"
	MetaCoordinates = "coordinates"
)

// ExifTimeLayout is the EXIF date-time format. Values carry no zone and are
// read as UTC.
const ExifTimeLayout = "2006:01:02 15:04:05"

// earthRadiusKm is the approximate radius used for distances.
const earthRadiusKm = 6373.0

// DateFilter keeps objects taken within the configured date range.
type DateFilter struct{}

func (DateFilter) Filter(_ context.Context, _ string, metadata map[string]any, data plugin.FilterableData) (plugin.Verdict, error) {
	if data.StartDate == nil && data.EndDate == nil {
		return plugin.Abstain, nil
	}
	raw, ok := metadata[MetaDatetime].(string)
	if !ok || raw == "" {
		return plugin.Abstain, nil
	}
	taken, err := time.ParseInLocation(ExifTimeLayout, raw, time.UTC)
	if err != nil {
		return plugin.Abstain, fmt.Errorf("parse %s %q: %w", MetaDatetime, raw, err)
	}
	if data.StartDate != nil && taken.Before(*data.StartDate) {
		return plugin.Exclude, nil
	}
	if data.EndDate != nil && taken.After(*data.EndDate) {
		return plugin.Exclude, nil
	}
	return plugin.Keep, nil
}

// GeolocationFilter keeps objects taken within Radius meters of Location.
type GeolocationFilter struct{}

func (GeolocationFilter) Filter(_ context.Context, _ string, metadata map[string]any, data plugin.FilterableData) (plugin.Verdict, error) {
	if data.Location == "" || data.Radius <= 0 {
		return plugin.Abstain, nil
	}
	lat2, long2, ok := Coordinates(metadata[MetaCoordinates])
	if !ok {
		return plugin.Abstain, nil
	}
	lat1, long1, err := storage.ParseLocation(data.Location)
	if err != nil {
		return plugin.Abstain, err
	}
	if DistanceMeters(lat1, long1, lat2, long2) <= data.Radius {
		return plugin.Keep, nil
	}
	return plugin.Exclude, nil
}

// Coordinates reads a [lat, long] pair stored in metadata, either as written
// in memory or as decoded from JSON.
func Coordinates(v any) (lat, long float64, ok bool) {
	switch c := v.(type) {
	case []float64:
		if len(c) == 2 {
			return c[0], c[1], true
		}
	case [2]float64:
		return c[0], c[1], true
	case []any:
		if len(c) != 2 {
			return 0, 0, false
		}
		lat, ok1 := c[0].(float64)
		long, ok2 := c[1].(float64)
		return lat, long, ok1 && ok2
	}
	return 0, 0, false
}

// DistanceMeters is the haversine distance between two points.
func DistanceMeters(lat1, long1, lat2, long2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat, dLong := rad(lat2-lat1), rad(long2-long1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLong/2)*math.Sin(dLong/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000
}

// KeywordFilter keeps objects whose text metadata mentions one of the
// context keywords and excludes those whose text does not. Objects without
// text metadata get no opinion.
type KeywordFilter struct{}

func (KeywordFilter) Filter(_ context.Context, _ string, metadata map[string]any, data plugin.FilterableData) (plugin.Verdict, error) {
	if len(data.Keywords) == 0 {
		return plugin.Abstain, nil
	}
	text := analyzer.MetadataText(metadata)
	if text == "" {
		return plugin.Abstain, nil
	}
	if analyzer.ContainsAny(text, data.Keywords) {
		return plugin.Keep, nil
	}
	return plugin.Exclude, nil
}
