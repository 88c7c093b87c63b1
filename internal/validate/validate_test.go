package validate

import (
	"math"
	"testing"

	"github.com/paulmach/orb"

	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

func collection(features ...*geo.Feature) *geo.FeatureCollection {
	fc := geo.NewCollection("input.geojson")
	fc.Append(features...)
	return fc
}

func codes(issues []geo.Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Code
	}
	return out
}

func TestOutOfRangeLatitudeIsFlaggedButKept(t *testing.T) {
	fc := collection(
		geo.NewFeature(orb.Point{10, 95}),
		geo.NewFeature(orb.Point{10, 45}),
	)
	cleaned, issues := New(Config{}).Clean(fc)

	if cleaned.Len() != 2 {
		t.Fatalf("got %d features, want 2", cleaned.Len())
	}
	if len(issues) != 1 || issues[0].Code != geo.IssueOutOfRange || issues[0].FeatureIndex != 0 {
		t.Fatalf("issues = %+v", issues)
	}
	if issues[0].Rejected {
		t.Error("out-of-range feature should not be rejected")
	}
	if !cleaned.Features[0].Unrenderable {
		t.Error("out-of-range feature still renderable")
	}
	if cleaned.Features[1].Unrenderable {
		t.Error("valid feature marked unrenderable")
	}
	if len(cleaned.Issues) != 1 {
		t.Errorf("collection issues = %+v", cleaned.Issues)
	}
}

func TestStructurallyUnusableFeaturesAreRejected(t *testing.T) {
	unknown := geo.NewFeature(nil)
	unknown.DeclaredType = "Circle"
	broken := geo.NewFeature(nil)
	broken.DeclaredType = geo.TypePoint
	empty := geo.NewFeature(orb.LineString{})
	tabular := geo.NewFeature(nil)
	tabular.Properties["name"] = "row"

	cleaned, issues := New(Config{}).Clean(collection(unknown, broken, empty, tabular))

	want := []string{geo.IssueUnrecognizedGeometry, geo.IssueEmptyGeometry, geo.IssueEmptyGeometry}
	got := codes(issues)
	if len(got) != len(want) {
		t.Fatalf("issue codes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] || !issues[i].Rejected || issues[i].FeatureIndex != i {
			t.Errorf("issue %d = %+v", i, issues[i])
		}
	}
	if cleaned.Len() != 1 || cleaned.Features[0].Properties["name"] != "row" {
		t.Fatalf("cleaned = %+v", cleaned.Features)
	}
}

func TestNumericCoercion(t *testing.T) {
	a := geo.NewFeature(nil)
	a.Properties["population"] = " 1200 "
	a.Properties["zip"] = "02134"
	a.Properties["height"] = "12.5"
	b := geo.NewFeature(nil)
	b.Properties["population"] = "n/a"
	b.Properties["zip"] = "10001"
	b.Properties["height"] = ""

	cleaned, issues := New(Config{NumericFields: []string{"Population"}, InferNumeric: true}).Clean(collection(a, b))

	pa := cleaned.Features[0].Properties
	if pa["population"] != 1200.0 {
		t.Errorf("population = %#v", pa["population"])
	}
	if pa["zip"] != "02134" {
		t.Errorf("zip coerced: %#v", pa["zip"])
	}
	if pa["height"] != 12.5 {
		t.Errorf("inferred height = %#v", pa["height"])
	}
	pb := cleaned.Features[1].Properties
	if pb["population"] != "n/a" || pb["height"] != "" {
		t.Errorf("second feature = %#v", pb)
	}
	if len(issues) != 1 || issues[0].Code != geo.IssueNonNumericValue || issues[0].FeatureIndex != 1 {
		t.Errorf("issues = %+v", issues)
	}
}

func TestNonFiniteValues(t *testing.T) {
	nan := geo.NewFeature(orb.Point{math.NaN(), 0})
	scored := geo.NewFeature(orb.Point{1, 1})
	scored.Properties["score"] = math.Inf(1)
	cleaned, issues := New(Config{}).Clean(collection(nan, scored))

	got := codes(issues)
	if len(got) != 2 || got[0] != geo.IssueNonFiniteCoordinate || got[1] != geo.IssueNonFiniteNumber {
		t.Fatalf("issue codes = %v", got)
	}
	if !issues[0].Rejected || issues[1].Rejected {
		t.Errorf("rejection flags = %v, %v", issues[0].Rejected, issues[1].Rejected)
	}
	if cleaned.Len() != 1 || cleaned.Features[0].Properties["score"] != nil {
		t.Errorf("cleaned = %+v", cleaned.Features)
	}
}

func TestCleanDoesNotModifyInput(t *testing.T) {
	f := geo.NewFeature(orb.Point{0, 100})
	f.Properties["n"] = "5"
	fc := collection(f)
	fc.Warn("parse warning")

	cleaned, _ := New(Config{NumericFields: []string{"n"}}).Clean(fc)
	if f.Unrenderable || f.Properties["n"] != "5" {
		t.Errorf("input feature modified: %+v", f)
	}
	if len(fc.Issues) != 0 {
		t.Errorf("input issues modified: %+v", fc.Issues)
	}
	if len(cleaned.Warnings) != 1 || cleaned.Source != "input.geojson" {
		t.Errorf("cleaned metadata = %q %v", cleaned.Source, cleaned.Warnings)
	}
}

func TestCleanNil(t *testing.T) {
	cleaned, issues := New(Config{}).Clean(nil)
	if cleaned == nil || cleaned.Len() != 0 || issues != nil {
		t.Fatalf("Clean(nil) = %+v, %v", cleaned, issues)
	}
}
