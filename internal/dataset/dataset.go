// Package dataset reads and writes the GeoJSON files exchanged with the workspace engine.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/hpungsan/fmebridge/internal/errors"
)

// Geometry types a loaded layer can take.
const (
	GeometryLineString = "LineString"
	GeometryPolygon    = "Polygon"
	GeometryPoint      = "Point"
)

// Summary describes a feature collection.
type Summary struct {
	FeatureCount int        `json:"feature_count"`
	GeometryType string     `json:"geometry_type"`
	Bounds       *[4]float64 `json:"bounds,omitempty"` // minx, miny, maxx, maxy
}

// Read loads a GeoJSON file as a feature collection.
func Read(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFound(path)
		}
		return nil, errors.NewInvalidDataset(path, err)
	}
	fc, err := Decode(data)
	if err != nil {
		return nil, errors.NewInvalidDataset(path, err)
	}
	return fc, nil
}

// Decode parses GeoJSON bytes. A lone Feature or bare geometry is promoted
// to a one-feature collection.
func Decode(data []byte) (*geojson.FeatureCollection, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case "FeatureCollection":
		return geojson.UnmarshalFeatureCollection(data)
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, err
		}
		return geojson.NewFeatureCollection().Append(f), nil
	case "":
		return nil, fmt.Errorf("missing GeoJSON type")
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, err
		}
		return geojson.NewFeatureCollection().Append(geojson.NewFeature(g.Geometry())), nil
	}
}

// Encode marshals a feature collection.
func Encode(fc *geojson.FeatureCollection) ([]byte, error) {
	return fc.MarshalJSON()
}

// WriteSource writes fc to path, creating parent directories.
func WriteSource(fc *geojson.FeatureCollection, path string) error {
	if fc == nil {
		return errors.NewInvalidRequest("no input features to write")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create dataset directory: %w", err)
	}
	data, err := Encode(fc)
	if err != nil {
		return errors.NewInvalidDataset(path, err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	return nil
}

// Describe counts features, picks the layer geometry type and computes bounds.
// Line types map to LineString, polygon types to Polygon, anything else to Point.
func Describe(fc *geojson.FeatureCollection) Summary {
	s := Summary{GeometryType: GeometryPoint}
	if fc == nil {
		return s
	}
	s.FeatureCount = len(fc.Features)

	var bound orb.Bound
	typed, bounded := false, false
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		if !typed {
			s.GeometryType = layerGeometryType(f.Geometry)
			typed = true
		}
		if bounded {
			bound = bound.Union(f.Geometry.Bound())
		} else {
			bound = f.Geometry.Bound()
			bounded = true
		}
	}
	if bounded {
		s.Bounds = &[4]float64{bound.Min.X(), bound.Min.Y(), bound.Max.X(), bound.Max.Y()}
	}
	return s
}

func layerGeometryType(g orb.Geometry) string {
	switch g.GeoJSONType() {
	case "LineString", "MultiLineString":
		return GeometryLineString
	case "Polygon", "MultiPolygon":
		return GeometryPolygon
	default:
		return GeometryPoint
	}
}

// ScratchCopy deep-copies every feature so the result shares nothing with fc.
func ScratchCopy(fc *geojson.FeatureCollection) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		var g orb.Geometry
		if f.Geometry != nil {
			g = orb.Clone(f.Geometry)
		}
		nf := geojson.NewFeature(g)
		nf.ID = f.ID
		if f.Properties != nil {
			nf.Properties = f.Properties.Clone()
		}
		out.Append(nf)
	}
	return out
}
