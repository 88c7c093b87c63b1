package parse

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/paulmach/orb"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

type kmlParser struct{}

type kmlPlacemark struct {
	ID           string          `xml:"id,attr"`
	Name         string          `xml:"name"`
	Description  string          `xml:"description"`
	ExtendedData kmlExtendedData `xml:"ExtendedData"`
	kmlGeometries
}

type kmlGeometries struct {
	Points          []kmlCoordinates   `xml:"Point"`
	LineStrings     []kmlCoordinates   `xml:"LineString"`
	LinearRings     []kmlCoordinates   `xml:"LinearRing"`
	Polygons        []kmlPolygon       `xml:"Polygon"`
	MultiGeometries []kmlMultiGeometry `xml:"MultiGeometry"`
}

type kmlMultiGeometry struct {
	kmlGeometries
}

type kmlCoordinates struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	Outer kmlCoordinates   `xml:"outerBoundaryIs>LinearRing"`
	Inner []kmlCoordinates `xml:"innerBoundaryIs>LinearRing"`
}

type kmlExtendedData struct {
	Data []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value"`
	} `xml:"Data"`
	SchemaData []struct {
		SimpleData []struct {
			Name  string `xml:"name,attr"`
			Value string `xml:",chardata"`
		} `xml:"SimpleData"`
	} `xml:"SchemaData"`
}

// Parse streams the document and emits one feature per Placemark, wherever
// it is nested. Placemarks without geometry become non-spatial features.
func (kmlParser) Parse(name string, data []byte, _ Options) (*geo.FeatureCollection, error) {
	fc := geo.NewCollection(name)

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
		}
		return enc.NewDecoder().Reader(input), nil
	}

	sawKML := false
	badGeometry := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse kml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "kml":
			sawKML = true
		case "Placemark":
			var pm kmlPlacemark
			if err := dec.DecodeElement(&pm, &se); err != nil {
				return nil, fmt.Errorf("decode placemark: %w", err)
			}
			f, err := pm.feature()
			if err != nil {
				badGeometry++
			}
			fc.Append(f)
		}
	}
	if !sawKML {
		return nil, errors.New("document has no <kml> root element")
	}
	if badGeometry > 0 {
		fc.Warn(fmt.Sprintf("%d placemark(s) have malformed coordinates", badGeometry))
	}
	return fc, nil
}

// feature converts the placemark. On malformed coordinates it still returns
// a feature, with no geometry and the KML geometry type declared, so the
// validator reports it.
func (pm kmlPlacemark) feature() (*geo.Feature, error) {
	f := geo.NewFeature(nil)
	if pm.ID != "" {
		f.ID = pm.ID
	}
	if name := strings.TrimSpace(pm.Name); name != "" {
		f.Properties["name"] = name
	}
	if desc := strings.TrimSpace(pm.Description); desc != "" {
		f.Properties["description"] = desc
	}
	for _, d := range pm.ExtendedData.Data {
		if d.Name != "" {
			f.Properties[d.Name] = strings.TrimSpace(d.Value)
		}
	}
	for _, sd := range pm.ExtendedData.SchemaData {
		for _, d := range sd.SimpleData {
			if d.Name != "" {
				f.Properties[d.Name] = strings.TrimSpace(d.Value)
			}
		}
	}

	geoms, err := pm.kmlGeometries.collect()
	if err != nil {
		f.DeclaredType = pm.kmlGeometries.firstType()
		return f, err
	}
	switch len(geoms) {
	case 0:
	case 1:
		f.Geometry = geoms[0]
	default:
		f.Geometry = combine(geoms)
	}
	return f, nil
}

func (g kmlGeometries) collect() ([]orb.Geometry, error) {
	var out []orb.Geometry
	for _, p := range g.Points {
		pts, err := parseKMLCoordinates(p.Coordinates)
		if err != nil {
			return nil, err
		}
		if len(pts) != 1 {
			return nil, fmt.Errorf("point has %d positions", len(pts))
		}
		out = append(out, pts[0])
	}
	for _, l := range g.LineStrings {
		pts, err := parseKMLCoordinates(l.Coordinates)
		if err != nil {
			return nil, err
		}
		out = append(out, orb.LineString(pts))
	}
	for _, r := range g.LinearRings {
		pts, err := parseKMLCoordinates(r.Coordinates)
		if err != nil {
			return nil, err
		}
		out = append(out, orb.Polygon{orb.Ring(pts)})
	}
	for _, p := range g.Polygons {
		outer, err := parseKMLCoordinates(p.Outer.Coordinates)
		if err != nil {
			return nil, err
		}
		poly := orb.Polygon{orb.Ring(outer)}
		for _, in := range p.Inner {
			hole, err := parseKMLCoordinates(in.Coordinates)
			if err != nil {
				return nil, err
			}
			poly = append(poly, orb.Ring(hole))
		}
		out = append(out, poly)
	}
	for _, m := range g.MultiGeometries {
		members, err := m.collect()
		if err != nil {
			return nil, err
		}
		if len(members) > 0 {
			out = append(out, combine(members))
		}
	}
	return out, nil
}

func (g kmlGeometries) firstType() string {
	switch {
	case len(g.Points) > 0:
		return geo.TypePoint
	case len(g.LineStrings) > 0:
		return geo.TypeLineString
	case len(g.LinearRings) > 0, len(g.Polygons) > 0:
		return geo.TypePolygon
	}
	return geo.TypeGeometryCollection
}

// combine folds homogeneous geometries into the matching Multi* type and
// anything else into a GeometryCollection.
func combine(geoms []orb.Geometry) orb.Geometry {
	if len(geoms) == 1 {
		return geoms[0]
	}
	switch geoms[0].(type) {
	case orb.Point:
		mp := make(orb.MultiPoint, 0, len(geoms))
		for _, g := range geoms {
			p, ok := g.(orb.Point)
			if !ok {
				return orb.Collection(geoms)
			}
			mp = append(mp, p)
		}
		return mp
	case orb.LineString:
		mls := make(orb.MultiLineString, 0, len(geoms))
		for _, g := range geoms {
			ls, ok := g.(orb.LineString)
			if !ok {
				return orb.Collection(geoms)
			}
			mls = append(mls, ls)
		}
		return mls
	case orb.Polygon:
		mp := make(orb.MultiPolygon, 0, len(geoms))
		for _, g := range geoms {
			p, ok := g.(orb.Polygon)
			if !ok {
				return orb.Collection(geoms)
			}
			mp = append(mp, p)
		}
		return mp
	}
	return orb.Collection(geoms)
}

// parseKMLCoordinates reads whitespace separated lon,lat[,alt] tuples.
func parseKMLCoordinates(text string) ([]orb.Point, error) {
	fields := strings.Fields(text)
	pts := make([]orb.Point, 0, len(fields))
	for _, tuple := range fields {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, fmt.Errorf("coordinate tuple %q needs lon,lat", tuple)
		}
		lon, err := parseCoordinate(parts[0])
		if err != nil {
			return nil, fmt.Errorf("longitude in %q: %w", tuple, err)
		}
		lat, err := parseCoordinate(parts[1])
		if err != nil {
			return nil, fmt.Errorf("latitude in %q: %w", tuple, err)
		}
		pts = append(pts, orb.Point{lon, lat})
	}
	return pts, nil
}
