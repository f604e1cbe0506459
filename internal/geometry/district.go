package geometry

import (
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/sirupsen/logrus"
)

// district pairs a boundary polygon with its display name.
type district struct {
	name     string
	geometry orb.Geometry
}

// Resolver maps geographic coordinates to district names using a GeoJSON
// FeatureCollection of district boundaries. Each feature must carry a
// "district" string property and a Polygon or MultiPolygon geometry.
type Resolver struct {
	districts []district
	logger    *logrus.Logger
}

// LoadResolver reads district boundaries from a GeoJSON file. Features
// without a usable name or polygon geometry are skipped with a warning.
func LoadResolver(path string, logger *logrus.Logger) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read district boundaries: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse district boundaries: %w", err)
	}

	r := &Resolver{logger: logger}
	for _, feature := range fc.Features {
		name, ok := feature.Properties["district"].(string)
		if !ok || name == "" {
			logger.Warn("Skipping district feature without a district property")
			continue
		}

		switch feature.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
			r.districts = append(r.districts, district{name: name, geometry: feature.Geometry})
		default:
			logger.WithField("district", name).Warn("Skipping district feature with non-polygon geometry")
		}
	}

	logger.WithField("districts", len(r.districts)).Info("Loaded district boundaries")
	return r, nil
}

// Len reports how many districts were loaded.
func (r *Resolver) Len() int {
	return len(r.districts)
}

// ResolveDistrict returns the name of the first district whose boundary
// contains the given point. Containment is tested on the plane, which is
// adequate for city-scale polygons.
func (r *Resolver) ResolveDistrict(lat, lng float64) (string, bool) {
	point := orb.Point{lng, lat}
	for _, d := range r.districts {
		switch geom := d.geometry.(type) {
		case orb.Polygon:
			if planar.PolygonContains(geom, point) {
				return d.name, true
			}
		case orb.MultiPolygon:
			if planar.MultiPolygonContains(geom, point) {
				return d.name, true
			}
		}
	}
	return "", false
}
