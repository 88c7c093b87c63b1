package formats

import "testing"

func TestDetectByExtension(t *testing.T) {
	tests := []struct {
		name   string
		format Format
	}{
		{"parks.csv", CSV},
		{"PARKS.CSV", CSV},
		{"data.json", JSON},
		{"wards.geojson", GeoJSON},
		{"routes.kml", KML},
		{"districts.topojson", TopoJSON},
		{"districts.topo.json", TopoJSON},
		{"shapes.wkt", WKT},
		{"map.png", PNG},
		{"report.pdf", PDF},
		{"notes.docx", Unsupported},
		{"noext", Unsupported},
	}
	for _, tt := range tests {
		if got := Detect(tt.name, nil); got != tt.format {
			t.Errorf("Detect(%q) = %q, want %q", tt.name, got, tt.format)
		}
	}
}

func TestDetectExtensionIsAuthoritative(t *testing.T) {
	// A .csv that happens to contain JSON is still CSV.
	if got := Detect("weird.csv", []byte(`{"type":"FeatureCollection"}`)); got != CSV {
		t.Fatalf("got %q, want csv", got)
	}
}

func TestDetectRefinesJSON(t *testing.T) {
	tests := []struct {
		content string
		format  Format
	}{
		{`{"type":"FeatureCollection","features":[]}`, GeoJSON},
		{`{"name":"x","type":"Feature","geometry":null}`, GeoJSON},
		{`{"type":"Topology","objects":{},"arcs":[]}`, TopoJSON},
		{`{"rows":[1,2,3]}`, JSON},
		{`[{"lat":1,"lon":2}]`, JSON},
	}
	for _, tt := range tests {
		if got := Detect("upload.json", []byte(tt.content)); got != tt.format {
			t.Errorf("Detect(%q) = %q, want %q", tt.content, got, tt.format)
		}
	}
}

func TestSniff(t *testing.T) {
	tests := []struct {
		content string
		format  Format
	}{
		{"\x89PNG\r\n\x1a\n....", PNG},
		{"%PDF-1.7\n", PDF},
		{`<?xml version="1.0"?><kml xmlns="http://www.opengis.net/kml/2.2"></kml>`, KML},
		{"POINT (1 2)", WKT},
		{"srid=4326;POINT (1 2)", WKT},
		{"name;lat;lon\na;1;2\n", CSV},
		{`{"type":"Topology"}`, TopoJSON},
		{"just some words", Unsupported},
		{"", Unsupported},
	}
	for _, tt := range tests {
		if got := Detect("", []byte(tt.content)); got != tt.format {
			t.Errorf("Sniff(%q) = %q, want %q", tt.content, got, tt.format)
		}
	}
}

func TestFormatClasses(t *testing.T) {
	if !CSV.Geometric() || PNG.Geometric() || PDF.Geometric() || Unsupported.Geometric() {
		t.Fatal("Geometric classification wrong")
	}
	if !PNG.Passthrough() || !PDF.Passthrough() || CSV.Passthrough() {
		t.Fatal("Passthrough classification wrong")
	}
	if !TopoJSON.JSONFamily() || KML.JSONFamily() {
		t.Fatal("JSONFamily classification wrong")
	}
}
