// Package output derives the three job artifacts from a unified feature
// collection: the GeoJSON document, the summary report and the HTML
// visualization. Generation is deterministic in its input.
package output

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"

	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

// Artifact names used when persisting a Result.
const (
	ArtifactGeoData       = "geodata.geojson"
	ArtifactReport        = "report.json"
	ArtifactVisualization = "visualization.html"
)

// Reserved property keys added to every exported feature.
const (
	SourceProperty       = "_source"
	UnrenderableProperty = "_unrenderable"
)

// Options tunes the visualization.
type Options struct {
	// Title is shown at the top of the visualization.
	Title string
	// TableProperties caps the properties listed per feature (default 5).
	TableProperties int
}

func (o *Options) defaults() {
	if o.Title == "" {
		o.Title = "Geodata preview"
	}
	if o.TableProperties <= 0 {
		o.TableProperties = 5
	}
}

// Artifact is one generated document.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// Result holds the generated documents.
type Result struct {
	GeoData       []byte
	Report        *Report
	ReportJSON    []byte
	Visualization []byte
}

// Artifacts lists the documents in persistence order.
func (r *Result) Artifacts() []Artifact {
	return []Artifact{
		{Name: ArtifactGeoData, ContentType: "application/geo+json", Data: r.GeoData},
		{Name: ArtifactReport, ContentType: "application/json", Data: r.ReportJSON},
		{Name: ArtifactVisualization, ContentType: "text/html; charset=utf-8", Data: r.Visualization},
	}
}

// Generate produces all three artifacts for fc.
func Generate(fc *geo.FeatureCollection, opts Options) (*Result, error) {
	if fc == nil {
		return nil, errors.New("output: nil feature collection")
	}
	opts.defaults()

	report := Summarize(fc)

	geoData, err := EncodeCollection(fc, report.Bbox)
	if err != nil {
		return nil, fmt.Errorf("encode geodata: %w", err)
	}
	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	html, err := renderVisualization(fc, report, opts)
	if err != nil {
		return nil, fmt.Errorf("render visualization: %w", err)
	}
	return &Result{
		GeoData:       geoData,
		Report:        report,
		ReportJSON:    reportJSON,
		Visualization: html,
	}, nil
}

type featureJSON struct {
	Type       string            `json:"type"`
	ID         any               `json:"id,omitempty"`
	Geometry   *geo.GeometryJSON `json:"geometry"`
	Properties map[string]any    `json:"properties"`
}

type collectionJSON struct {
	Type     string        `json:"type"`
	Bbox     []float64     `json:"bbox,omitempty"`
	Features []featureJSON `json:"features"`
}

// EncodeCollection serializes fc as a GeoJSON FeatureCollection. Each
// feature's source file is kept in the _source property.
func EncodeCollection(fc *geo.FeatureCollection, bbox []float64) ([]byte, error) {
	doc := collectionJSON{
		Type:     "FeatureCollection",
		Bbox:     bbox,
		Features: make([]featureJSON, 0, len(fc.Features)),
	}
	for _, f := range fc.Features {
		props := make(map[string]any, len(f.Properties)+2)
		for k, v := range f.Properties {
			props[k] = v
		}
		props[SourceProperty] = f.Source
		if f.Unrenderable {
			props[UnrenderableProperty] = true
		}
		doc.Features = append(doc.Features, featureJSON{
			Type:       "Feature",
			ID:         f.ID,
			Geometry:   geo.EncodeGeometry(f.Geometry),
			Properties: props,
		})
	}
	return json.Marshal(doc)
}

func bboxOf(b orb.Bound, ok bool) []float64 {
	if !ok {
		return nil
	}
	return []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
}
