package builtin

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rwcarlsen/goexif/exif"
)

// ExifRetriever extracts the capture date-time and GPS coordinates of an
// image. Images without EXIF data have no result.
type ExifRetriever struct{}

func (ExifRetriever) PostProcess(_ context.Context, contentPath string) (json.RawMessage, error) {
	f, err := os.Open(contentPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return nil, nil
	}

	out := map[string]any{MetaDatetime: nil, MetaCoordinates: nil}
	for _, field := range []exif.FieldName{exif.DateTimeOriginal, exif.DateTimeDigitized, exif.DateTime} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		if s, err := tag.StringVal(); err == nil && s != "" {
			out[MetaDatetime] = s
			break
		}
	}
	if lat, long, err := x.LatLong(); err == nil {
		out[MetaCoordinates] = []float64{lat, long}
	}
	if out[MetaDatetime] == nil && out[MetaCoordinates] == nil {
		return nil, nil
	}
	return json.Marshal(out)
}
