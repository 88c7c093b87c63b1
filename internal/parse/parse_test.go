package parse

import (
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/Lllllllleong/geoingestflow/internal/formats"
	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

func mustParse(t *testing.T, name string, f formats.Format, data string, opts Options) *geo.FeatureCollection {
	t.Helper()
	out := Parse(name, f, []byte(data), opts)
	if !out.OK() {
		t.Fatalf("Parse(%s) failed: %v", name, out.Err)
	}
	if out.Collection == nil {
		t.Fatalf("Parse(%s) returned no collection", name)
	}
	return out.Collection
}

func hasWarning(fc *geo.FeatureCollection, substr string) bool {
	for _, w := range fc.Warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestCSVPadsShortRows(t *testing.T) {
	fc := mustParse(t, "sites.csv", formats.CSV, "name,lat,lon,kind\nA,10,20,park\nB,11\n", Options{})
	if fc.Len() != 2 {
		t.Fatalf("got %d features, want 2", fc.Len())
	}
	if got := fc.Features[0].Geometry; got != (orb.Point{20, 10}) {
		t.Errorf("first geometry = %v, want [20 10]", got)
	}
	b := fc.Features[1]
	if b.Properties["kind"] != "" || b.Properties["lon"] != "" {
		t.Errorf("short row not padded: %v", b.Properties)
	}
	if b.Geometry != nil {
		t.Errorf("row with missing longitude got geometry %v", b.Geometry)
	}
	if !hasWarning(fc, "padded 1 short row") {
		t.Errorf("missing padding warning: %v", fc.Warnings)
	}
	if fc.Features[1].Source != "sites.csv" {
		t.Errorf("source = %q", fc.Features[1].Source)
	}
}

func TestCSVStrictRowsFails(t *testing.T) {
	out := Parse("sites.csv", formats.CSV, []byte("name,lat,lon\nA,1,2\nB,3\n"), Options{StrictRows: true})
	if out.OK() {
		t.Fatal("expected failure in strict mode")
	}
	if !errors.Is(out.Err, ErrParseFailure) {
		t.Fatalf("error %v does not wrap ErrParseFailure", out.Err)
	}
	if !strings.Contains(out.Reason(), "row 3") {
		t.Errorf("reason %q does not name the row", out.Reason())
	}
}

func TestCSVDelimitersAndExtras(t *testing.T) {
	fc := mustParse(t, "a.csv", formats.CSV, "Latitude;Longitude;name\n-33.9;151.2;x;overflow\n", Options{})
	f := fc.Features[0]
	if f.Geometry != (orb.Point{151.2, -33.9}) {
		t.Errorf("geometry = %v", f.Geometry)
	}
	if f.Properties["extra_4"] != "overflow" {
		t.Errorf("extra field not kept: %v", f.Properties)
	}
}

func TestCSVWithoutCoordinates(t *testing.T) {
	fc := mustParse(t, "plain.csv", formats.CSV, "name,count\na,1\nb,2\n", Options{})
	for _, f := range fc.Features {
		if f.Geometry != nil {
			t.Fatalf("unexpected geometry %v", f.Geometry)
		}
	}
	if !hasWarning(fc, "no latitude/longitude columns") {
		t.Errorf("warnings = %v", fc.Warnings)
	}
}

func TestGeoJSONPassThrough(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[
		{"type":"Feature","id":"p1","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"name":"a","tags":["x","y"]}},
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"properties":null},
		{"type":"Feature","geometry":{"type":"Circle","coordinates":[1,2]},"properties":{}}
	]}`
	fc := mustParse(t, "wards.geojson", formats.GeoJSON, doc, Options{})
	if fc.Len() != 3 {
		t.Fatalf("got %d features", fc.Len())
	}
	first := fc.Features[0]
	if first.ID != "p1" || first.Geometry != (orb.Point{1, 2}) {
		t.Errorf("first feature = %+v", first)
	}
	if first.Properties["tags"] != `["x","y"]` {
		t.Errorf("nested property = %#v", first.Properties["tags"])
	}
	if !hasWarning(fc, "nested property value") {
		t.Errorf("warnings = %v", fc.Warnings)
	}
	if got := fc.Features[1].GeometryType(); got != geo.TypePolygon {
		t.Errorf("second type = %q", got)
	}
	third := fc.Features[2]
	if third.Geometry != nil || third.DeclaredType != "Circle" {
		t.Errorf("unrecognized geometry not carried: %+v", third)
	}
}

func TestJSONWrapsPlainObjects(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		wantLen   int
		wantFirst orb.Geometry
	}{
		{"array", `[{"name":"a","lat":1,"lng":2},{"name":"b"}]`, 2, orb.Point{2, 1}},
		{"nested array", `{"items":[{"latitude":"5","longitude":"6"}]}`, 1, orb.Point{6, 5}},
		{"bare geometry", `{"type":"LineString","coordinates":[[0,0],[1,1]]}`, 1, orb.LineString{{0, 0}, {1, 1}}},
		{"object with geometry", `{"name":"x","geometry":{"type":"Point","coordinates":[3,4]}}`, 1, orb.Point{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := mustParse(t, "data.json", formats.JSON, tt.doc, Options{})
			if fc.Len() != tt.wantLen {
				t.Fatalf("got %d features, want %d", fc.Len(), tt.wantLen)
			}
			if got := fc.Features[0].Geometry; !orb.Equal(got, tt.wantFirst) {
				t.Errorf("geometry = %v, want %v", got, tt.wantFirst)
			}
		})
	}
}

func TestAutoFixToggle(t *testing.T) {
	doc := `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"a":1,}}]}`

	off := Parse("bad.geojson", formats.GeoJSON, []byte(doc), Options{AutoFix: false})
	if off.OK() || !errors.Is(off.Err, ErrParseFailure) {
		t.Fatalf("auto-fix off: want ErrParseFailure, got %v", off.Err)
	}

	on := Parse("bad.geojson", formats.GeoJSON, []byte(doc), Options{AutoFix: true})
	if !on.OK() {
		t.Fatalf("auto-fix on: %v", on.Err)
	}
	if on.Collection.Len() != 1 {
		t.Fatalf("got %d features", on.Collection.Len())
	}
	if !hasWarning(on.Collection, "auto-fix: removed 1 trailing comma") {
		t.Errorf("warnings = %v", on.Collection.Warnings)
	}
}

func TestKMLPlacemarks(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<kml xmlns="http://www.opengis.net/kml/2.2">
<Document><Folder>
  <Placemark id="pm1">
    <name>Stops</name>
    <ExtendedData><Data name="route"><value>12</value></Data></ExtendedData>
    <MultiGeometry>
      <Point><coordinates>1,2,0</coordinates></Point>
      <Point><coordinates>3,4</coordinates></Point>
    </MultiGeometry>
  </Placemark>
  <Placemark>
    <Polygon>
      <outerBoundaryIs><LinearRing><coordinates>0,0 4,0 4,4 0,0</coordinates></LinearRing></outerBoundaryIs>
      <innerBoundaryIs><LinearRing><coordinates>1,1 2,1 2,2 1,1</coordinates></LinearRing></innerBoundaryIs>
    </Polygon>
  </Placemark>
  <Placemark>
    <MultiGeometry>
      <Point><coordinates>1,1</coordinates></Point>
      <LineString><coordinates>0,0 1,1</coordinates></LineString>
    </MultiGeometry>
  </Placemark>
  <Placemark><name>broken</name><Point><coordinates>abc,def</coordinates></Point></Placemark>
</Folder></Document>
</kml>`
	fc := mustParse(t, "routes.kml", formats.KML, doc, Options{})
	if fc.Len() != 4 {
		t.Fatalf("got %d features, want 4", fc.Len())
	}

	stops := fc.Features[0]
	if stops.ID != "pm1" || stops.Properties["name"] != "Stops" || stops.Properties["route"] != "12" {
		t.Errorf("placemark properties = %+v", stops)
	}
	if !orb.Equal(stops.Geometry, orb.MultiPoint{{1, 2}, {3, 4}}) {
		t.Errorf("multigeometry = %v", stops.Geometry)
	}

	poly, ok := fc.Features[1].Geometry.(orb.Polygon)
	if !ok || len(poly) != 2 {
		t.Errorf("polygon with hole = %v", fc.Features[1].Geometry)
	}

	if _, ok := fc.Features[2].Geometry.(orb.Collection); !ok {
		t.Errorf("mixed multigeometry = %T", fc.Features[2].Geometry)
	}

	broken := fc.Features[3]
	if broken.Geometry != nil || broken.DeclaredType != geo.TypePoint {
		t.Errorf("broken placemark = %+v", broken)
	}
	if !hasWarning(fc, "1 placemark(s) have malformed coordinates") {
		t.Errorf("warnings = %v", fc.Warnings)
	}
}

func TestKMLRequiresRoot(t *testing.T) {
	out := Parse("x.kml", formats.KML, []byte(`<Document><Placemark/></Document>`), Options{})
	if out.OK() {
		t.Fatal("expected failure without <kml> root")
	}
}

func TestTopoJSONSharedArcs(t *testing.T) {
	doc := `{"type":"Topology",
		"arcs":[[[0,0],[1,0]],[[1,0],[1,1]]],
		"objects":{
			"b":{"type":"GeometryCollection","geometries":[
				{"type":"Point","coordinates":[5,5]},
				{"type":"LineString","arcs":[-2],"properties":{"k":"v"}}
			]},
			"a":{"type":"LineString","arcs":[0,1],"id":7}
		}}`
	fc := mustParse(t, "net.topojson", formats.TopoJSON, doc, Options{})
	if fc.Len() != 3 {
		t.Fatalf("got %d features, want 3", fc.Len())
	}

	a := fc.Features[0]
	if a.Properties["topology_object"] != "a" {
		t.Fatalf("objects not in name order: %v", a.Properties)
	}
	if !orb.Equal(a.Geometry, orb.LineString{{0, 0}, {1, 0}, {1, 1}}) {
		t.Errorf("stitched line = %v", a.Geometry)
	}
	if fc.Features[1].Geometry != (orb.Point{5, 5}) {
		t.Errorf("point = %v", fc.Features[1].Geometry)
	}
	rev := fc.Features[2]
	if !orb.Equal(rev.Geometry, orb.LineString{{1, 1}, {1, 0}}) {
		t.Errorf("reversed arc = %v", rev.Geometry)
	}
	if rev.Properties["k"] != "v" {
		t.Errorf("member properties = %v", rev.Properties)
	}
}

func TestTopoJSONQuantized(t *testing.T) {
	doc := `{"type":"Topology",
		"transform":{"scale":[0.5,0.5],"translate":[100,0]},
		"arcs":[[[0,0],[2,0],[0,2],[-2,-2]]],
		"objects":{"land":{"type":"Polygon","arcs":[[0]]}}}`
	fc := mustParse(t, "land.topojson", formats.TopoJSON, doc, Options{})
	want := orb.Polygon{{{100, 0}, {101, 0}, {101, 1}, {100, 0}}}
	if !orb.Equal(fc.Features[0].Geometry, want) {
		t.Fatalf("polygon = %v, want %v", fc.Features[0].Geometry, want)
	}
}

func TestTopoJSONViaJSONParser(t *testing.T) {
	doc := `{"type":"Topology","arcs":[],"objects":{"p":{"type":"Point","coordinates":[1,2]}}}`
	fc := mustParse(t, "t.json", formats.JSON, doc, Options{})
	if fc.Len() != 1 || fc.Features[0].Geometry != (orb.Point{1, 2}) {
		t.Fatalf("features = %+v", fc.Features)
	}
}

func TestWKT(t *testing.T) {
	doc := "POINT (30 10)\nLINESTRING (30 10, 10 30, 40 40);SRID=4326;POLYGON ((0 0, 1 0, 1 1, 0 0))\nPOINT (oops)\n"
	fc := mustParse(t, "shapes.wkt", formats.WKT, doc, Options{})
	if fc.Len() != 3 {
		t.Fatalf("got %d features, want 3", fc.Len())
	}
	wantTypes := []string{geo.TypePoint, geo.TypeLineString, geo.TypePolygon}
	for i, want := range wantTypes {
		if got := fc.Features[i].GeometryType(); got != want {
			t.Errorf("feature %d type = %q, want %q", i, got, want)
		}
	}
	if !hasWarning(fc, "skipped malformed WKT entry 4") {
		t.Errorf("warnings = %v", fc.Warnings)
	}
}

func TestWKTNothingDecodes(t *testing.T) {
	out := Parse("bad.wkt", formats.WKT, []byte("POINT (a b)"), Options{})
	if out.OK() || !errors.Is(out.Err, ErrParseFailure) {
		t.Fatalf("want ErrParseFailure, got %v", out.Err)
	}
}

func TestUnsupportedAndOversize(t *testing.T) {
	out := Parse("notes.docx", formats.Unsupported, []byte("hello"), Options{})
	if !errors.Is(out.Err, ErrUnsupportedFormat) {
		t.Errorf("unsupported: got %v", out.Err)
	}

	out = Parse("big.csv", formats.CSV, []byte("a,b\n1,2\n"), Options{MaxFileSize: 4})
	if !errors.Is(out.Err, ErrParseFailure) || !strings.Contains(out.Reason(), "too large") {
		t.Errorf("oversize: got %v", out.Err)
	}
}

func TestOutcomeHasExactlyOneBranch(t *testing.T) {
	ok := Parse("a.csv", formats.CSV, []byte("a\n1\n"), Options{})
	if ok.Collection == nil || ok.Err != nil {
		t.Errorf("success outcome = %+v", ok)
	}
	bad := Parse("a.json", formats.JSON, []byte("{"), Options{})
	if bad.Collection != nil || bad.Err == nil {
		t.Errorf("failure outcome = %+v", bad)
	}
	if bad.Warnings() != nil {
		t.Errorf("failure outcome has warnings")
	}
}
