// Package geo resolves a borough name from a coordinate by point-in-
// polygon testing against a loaded GeoJSON FeatureCollection (C1).
package geo

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// BoroughResolver answers point-in-polygon borough lookups over a
// loaded FeatureCollection. It is read-only after construction.
type BoroughResolver struct {
	features     []*geojson.Feature
	propertyName string
}

// NewBoroughResolver parses GeoJSON from r, keyed on propertyName (the
// feature property holding the borough's display name).
func NewBoroughResolver(r io.Reader, propertyName string) (*BoroughResolver, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading geojson: %w", err)
	}

	var fc geojson.FeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parsing geojson: %w", err)
	}

	return &BoroughResolver{features: fc.Features, propertyName: propertyName}, nil
}

// Borough returns the name of the polygon containing (lat, lon), or
// ("", false) if the point falls outside every known feature.
func (b *BoroughResolver) Borough(lat, lon float64) (string, bool) {
	if b == nil {
		return "", false
	}
	point := orb.Point{lon, lat}

	for _, f := range b.features {
		if !containsPoint(f.Geometry, point) {
			continue
		}
		name := f.Properties.MustString(b.propertyName, "")
		if name != "" {
			return name, true
		}
	}
	return "", false
}

func containsPoint(geom orb.Geometry, point orb.Point) bool {
	switch g := geom.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, point)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, point)
	default:
		return false
	}
}
