package output

import (
	"github.com/paulmach/orb"

	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

// NullGeometry is the geometry_counts key for features without geometry.
const NullGeometry = "null"

// SourceCount is the number of features contributed by one file.
type SourceCount struct {
	Source   string `json:"source"`
	Features int    `json:"features"`
}

// Report is the machine-readable summary of a unified collection.
type Report struct {
	TotalFeatures      int            `json:"total_features"`
	GeometryCounts     map[string]int `json:"geometry_counts"`
	PointCount         int            `json:"point_count"`
	LineCount          int            `json:"line_count"`
	PolygonCount       int            `json:"polygon_count"`
	CollectionCount    int            `json:"collection_count"`
	NullGeometryCount  int            `json:"null_geometry_count"`
	RenderableFeatures int            `json:"renderable_features"`
	SourceCounts       []SourceCount  `json:"source_counts"`
	Bbox               []float64      `json:"bbox,omitempty"`
	IssueCounts        map[string]int `json:"issue_counts"`
	Issues             []geo.Issue    `json:"issues"`
	Warnings           []string       `json:"warnings"`
}

// Summarize computes the report in a single pass over fc. Point, line and
// polygon counts include the matching Multi* types. Sources are listed in
// order of first appearance.
func Summarize(fc *geo.FeatureCollection) *Report {
	r := &Report{
		GeometryCounts: make(map[string]int),
		SourceCounts:   []SourceCount{},
		IssueCounts:    make(map[string]int),
		Issues:         []geo.Issue{},
		Warnings:       []string{},
	}

	var (
		bound   orb.Bound
		boundOK bool
	)
	sourceIdx := make(map[string]int)
	for _, f := range fc.Features {
		r.TotalFeatures++

		typ := NullGeometry
		if f.Geometry != nil {
			typ = f.Geometry.GeoJSONType()
		}
		r.GeometryCounts[typ]++
		switch typ {
		case geo.TypePoint, geo.TypeMultiPoint:
			r.PointCount++
		case geo.TypeLineString, geo.TypeMultiLineString:
			r.LineCount++
		case geo.TypePolygon, geo.TypeMultiPolygon:
			r.PolygonCount++
		case geo.TypeGeometryCollection:
			r.CollectionCount++
		case NullGeometry:
			r.NullGeometryCount++
		}

		if f.Geometry != nil && !f.Unrenderable {
			r.RenderableFeatures++
			bound, boundOK = geo.ExtendBound(bound, boundOK, f.Geometry)
		}

		i, ok := sourceIdx[f.Source]
		if !ok {
			i = len(r.SourceCounts)
			sourceIdx[f.Source] = i
			r.SourceCounts = append(r.SourceCounts, SourceCount{Source: f.Source})
		}
		r.SourceCounts[i].Features++
	}

	r.Bbox = bboxOf(bound, boundOK)
	r.Issues = append(r.Issues, fc.Issues...)
	for _, is := range fc.Issues {
		r.IssueCounts[is.Code]++
	}
	r.Warnings = append(r.Warnings, fc.Warnings...)
	return r
}
