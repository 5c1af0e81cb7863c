package contour

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ParseObservationsFile reads and parses an observation file
func ParseObservationsFile(path string) ([]Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseObservations(data)
}

// ParseObservations accepts either a JSON array of flat station objects or a
// GeoJSON FeatureCollection (or single Feature) of points whose properties
// are the station fields.
func ParseObservations(data []byte) ([]Observation, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty observation payload", ErrInvalidInput)
	}

	if data[0] == '[' {
		var obs []Observation
		if err := json.Unmarshal(data, &obs); err != nil {
			return nil, fmt.Errorf("parsing observations: %w", err)
		}
		return obs, nil
	}

	switch geoJSONType(data) {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing observations: %v", ErrInvalidInput, err)
		}
		obs := make([]Observation, 0, len(fc.Features))
		for i, f := range fc.Features {
			o, err := observationFromFeature(f)
			if err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
			obs = append(obs, o)
		}
		return obs, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing observations: %v", ErrInvalidInput, err)
		}
		o, err := observationFromFeature(f)
		if err != nil {
			return nil, err
		}
		return []Observation{o}, nil
	default:
		return nil, fmt.Errorf("%w: observations must be a JSON array or GeoJSON point features", ErrInvalidInput)
	}
}

func observationFromFeature(f *geojson.Feature) (Observation, error) {
	pt, ok := f.Geometry.(orb.Point)
	if !ok {
		typ := "null"
		if f.Geometry != nil {
			typ = f.Geometry.GeoJSONType()
		}
		return Observation{}, fmt.Errorf("%w: observation geometry must be a Point, got %s", ErrInvalidInput, typ)
	}
	var o Observation
	if err := o.fromProperties(f.Properties, &pt); err != nil {
		return Observation{}, err
	}
	return o, nil
}

// ParseClipFile reads and parses a clip boundary file
func ParseClipFile(path string) (*geojson.Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseClipFeature(data)
}

// ParseClipFeature accepts a GeoJSON Feature, the first feature of a
// FeatureCollection, or a bare Polygon/MultiPolygon geometry.
func ParseClipFeature(data []byte) (*geojson.Feature, error) {
	data = bytes.TrimSpace(data)
	var f *geojson.Feature

	switch geoJSONType(data) {
	case "Feature":
		parsed, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing clip feature: %v", ErrInvalidInput, err)
		}
		f = parsed
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing clip feature: %v", ErrInvalidInput, err)
		}
		if len(fc.Features) == 0 {
			return nil, fmt.Errorf("%w: clip feature collection is empty", ErrInvalidInput)
		}
		f = fc.Features[0]
	case "Polygon", "MultiPolygon":
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("%w: parsing clip geometry: %v", ErrInvalidInput, err)
		}
		f = geojson.NewFeature(g.Geometry())
	default:
		return nil, fmt.Errorf("%w: clip must be a GeoJSON Feature, FeatureCollection or polygon", ErrInvalidInput)
	}

	switch f.Geometry.(type) {
	case orb.Polygon, orb.MultiPolygon:
		return f, nil
	default:
		return nil, fmt.Errorf("%w: clip geometry must be a Polygon or MultiPolygon", ErrInvalidInput)
	}
}

// geoJSONType peeks at the top-level "type" member
func geoJSONType(data []byte) string {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return ""
	}
	return head.Type
}
