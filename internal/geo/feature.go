// Package geo holds the canonical feature model exchanged between pipeline stages.
package geo

import (
	"github.com/paulmach/orb"
)

// Feature is one geometry plus its scalar properties.
// Coordinates are [lon, lat] in decimal degrees.
type Feature struct {
	ID         any
	Geometry   orb.Geometry // nil for non-spatial rows
	Properties map[string]any

	// DeclaredType is the geometry type named by the source when it is not one
	// of the recognized GeoJSON types. Geometry is nil in that case.
	DeclaredType string

	// Source is the name of the file the feature was parsed from.
	Source string

	// Unrenderable is set by the validator when the geometry must not be drawn.
	Unrenderable bool
}

// NewFeature returns a feature with an initialized property map.
func NewFeature(g orb.Geometry) *Feature {
	return &Feature{
		Geometry:   g,
		Properties: make(map[string]any),
	}
}

// GeometryType returns the GeoJSON type of the geometry, the declared type for
// unrecognized geometries, or "" for non-spatial features.
func (f *Feature) GeometryType() string {
	if f.Geometry != nil {
		return f.Geometry.GeoJSONType()
	}
	return f.DeclaredType
}

// FeatureCollection is an ordered sequence of features from one logical source.
type FeatureCollection struct {
	Source   string
	Features []*Feature
	Warnings []string
	Issues   []Issue
}

// NewCollection returns an empty collection for source.
func NewCollection(source string) *FeatureCollection {
	return &FeatureCollection{Source: source}
}

// Append adds features, stamping the collection source on each.
func (fc *FeatureCollection) Append(features ...*Feature) {
	for _, f := range features {
		if f.Source == "" {
			f.Source = fc.Source
		}
		if f.Properties == nil {
			f.Properties = make(map[string]any)
		}
		fc.Features = append(fc.Features, f)
	}
}

// Warn records a non-fatal parse warning.
func (fc *FeatureCollection) Warn(msg string) {
	fc.Warnings = append(fc.Warnings, msg)
}

// Len returns the number of features.
func (fc *FeatureCollection) Len() int {
	if fc == nil {
		return 0
	}
	return len(fc.Features)
}
