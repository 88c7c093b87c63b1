// Package formats classifies uploaded files into the supported geospatial and
// tabular formats.
package formats

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
)

// Format enumerates supported upload formats.
type Format string

const (
	// Unsupported represents a file no parser or passthrough handles.
	Unsupported Format = "unsupported"
	// CSV represents delimited text (comma, semicolon, tab or pipe).
	CSV      Format = "csv"
	JSON     Format = "json"
	GeoJSON  Format = "geojson"
	KML      Format = "kml"
	TopoJSON Format = "topojson"
	WKT      Format = "wkt"
	// PNG and PDF are accepted and stored but never parsed for geometry.
	PNG Format = "png"
	PDF Format = "pdf"
)

var byExtension = map[string]Format{
	".csv":      CSV,
	".tsv":      CSV,
	".json":     JSON,
	".geojson":  GeoJSON,
	".kml":      KML,
	".topojson": TopoJSON,
	".wkt":      WKT,
	".png":      PNG,
	".pdf":      PDF,
}

// Geometric reports whether files of this format go through the parser stage.
func (f Format) Geometric() bool {
	switch f {
	case CSV, JSON, GeoJSON, KML, TopoJSON, WKT:
		return true
	}
	return false
}

// Passthrough reports whether the format is stored as an attachment only.
func (f Format) Passthrough() bool {
	return f == PNG || f == PDF
}

// JSONFamily reports whether the text is JSON syntax.
func (f Format) JSONFamily() bool {
	return f == JSON || f == GeoJSON || f == TopoJSON
}

// ContentType returns the MIME type used when storing files of this format.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv"
	case JSON:
		return "application/json"
	case GeoJSON:
		return "application/geo+json"
	case KML:
		return "application/vnd.google-earth.kml+xml"
	case TopoJSON:
		return "application/json"
	case WKT:
		return "text/plain"
	case PNG:
		return "image/png"
	case PDF:
		return "application/pdf"
	}
	return "application/octet-stream"
}

// Detect classifies a file by name and, when the extension is missing or
// ambiguous, by content. A .json file that declares itself a GeoJSON or
// TopoJSON document is refined accordingly. It never fails; unknown files
// are reported as Unsupported.
func Detect(name string, content []byte) Format {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".topo.json") {
		return TopoJSON
	}
	ext := filepath.Ext(lower)
	if f, ok := byExtension[ext]; ok {
		if f == JSON && content != nil {
			if refined := sniffJSON(content); refined != Unsupported {
				return refined
			}
		}
		return f
	}
	if content == nil {
		return Unsupported
	}
	return Sniff(content)
}

// Sniff guesses the format from content alone.
func Sniff(content []byte) Format {
	head := content
	if len(head) > 4096 {
		head = head[:4096]
	}
	head = bytes.TrimPrefix(head, []byte("\xef\xbb\xbf"))

	switch {
	case bytes.HasPrefix(head, []byte("\x89PNG\r\n\x1a\n")):
		return PNG
	case bytes.HasPrefix(head, []byte("%PDF-")):
		return PDF
	}

	trimmed := bytes.TrimSpace(head)
	if len(trimmed) == 0 {
		return Unsupported
	}
	switch trimmed[0] {
	case '<':
		if bytes.Contains(bytes.ToLower(trimmed), []byte("<kml")) {
			return KML
		}
		return Unsupported
	case '{', '[':
		if f := sniffJSON(content); f != Unsupported {
			return f
		}
		return JSON
	}
	if looksLikeWKT(trimmed) {
		return WKT
	}
	if looksDelimited(trimmed) {
		return CSV
	}
	return Unsupported
}

// sniffJSON looks at the top-level "type" member without decoding the whole
// document.
func sniffJSON(content []byte) Format {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	tok, err := dec.Token()
	if err != nil {
		return Unsupported
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return Unsupported
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return Unsupported
		}
		key, _ := keyTok.(string)
		if key != "type" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return Unsupported
			}
			continue
		}
		var typ string
		if err := dec.Decode(&typ); err != nil {
			return Unsupported
		}
		switch typ {
		case "Topology":
			return TopoJSON
		case "FeatureCollection", "Feature", "Point", "MultiPoint", "LineString",
			"MultiLineString", "Polygon", "MultiPolygon", "GeometryCollection":
			return GeoJSON
		}
		return Unsupported
	}
	return Unsupported
}

var wktKeywords = []string{
	"POINT", "MULTIPOINT", "LINESTRING", "MULTILINESTRING",
	"POLYGON", "MULTIPOLYGON", "GEOMETRYCOLLECTION", "SRID=",
}

func looksLikeWKT(b []byte) bool {
	upper := strings.ToUpper(string(b))
	for _, kw := range wktKeywords {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// looksDelimited reports whether the first two lines split into the same
// number (>1) of fields on a common delimiter.
func looksDelimited(b []byte) bool {
	lines := strings.SplitN(strings.ReplaceAll(string(b), "\r\n", "\n"), "\n", 3)
	if len(lines) < 2 {
		return false
	}
	for _, d := range []string{",", ";", "\t", "|"} {
		n := strings.Count(lines[0], d)
		if n > 0 && strings.Count(lines[1], d) == n {
			return true
		}
	}
	return false
}
