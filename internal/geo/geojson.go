package geo

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
)

// GeometryJSON is the GeoJSON encoding of a geometry.
type GeometryJSON struct {
	Type        string          `json:"type"`
	Coordinates any             `json:"coordinates,omitempty"`
	Geometries  []*GeometryJSON `json:"geometries,omitempty"`
}

// EncodeGeometry converts g to its GeoJSON form. A nil geometry encodes as nil.
func EncodeGeometry(g orb.Geometry) *GeometryJSON {
	switch g := g.(type) {
	case nil:
		return nil
	case orb.Collection:
		doc := &GeometryJSON{Type: TypeGeometryCollection, Geometries: make([]*GeometryJSON, 0, len(g))}
		for _, c := range g {
			if enc := EncodeGeometry(c); enc != nil {
				doc.Geometries = append(doc.Geometries, enc)
			}
		}
		return doc
	case orb.Ring:
		return &GeometryJSON{Type: TypePolygon, Coordinates: orb.Polygon{g}}
	case orb.Bound:
		return &GeometryJSON{Type: TypePolygon, Coordinates: g.ToPolygon()}
	default:
		return &GeometryJSON{Type: g.GeoJSONType(), Coordinates: g}
	}
}

type rawGeometry struct {
	Type        string            `json:"type"`
	Coordinates json.RawMessage   `json:"coordinates"`
	Geometries  []json.RawMessage `json:"geometries"`
}

// DecodeGeometry decodes a GeoJSON geometry object. For a type that is not a
// recognized geometry it returns a nil geometry and the declared type so the
// caller can report it. JSON null decodes to a nil geometry and empty type.
func DecodeGeometry(data json.RawMessage) (orb.Geometry, string, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, "", nil
	}
	var raw rawGeometry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, "", fmt.Errorf("decode geometry: %w", err)
	}
	if !IsRecognizedType(raw.Type) {
		return nil, raw.Type, nil
	}

	if raw.Type == TypeGeometryCollection {
		coll := make(orb.Collection, 0, len(raw.Geometries))
		for i, member := range raw.Geometries {
			g, declared, err := DecodeGeometry(member)
			if err != nil {
				return nil, raw.Type, fmt.Errorf("geometries[%d]: %w", i, err)
			}
			if g == nil {
				if declared != "" {
					return nil, declared, nil
				}
				continue
			}
			coll = append(coll, g)
		}
		return coll, raw.Type, nil
	}

	if len(raw.Coordinates) == 0 || bytes.Equal(raw.Coordinates, []byte("null")) {
		return emptyOf(raw.Type), raw.Type, nil
	}

	var (
		g   orb.Geometry
		err error
	)
	switch raw.Type {
	case TypePoint:
		var p orb.Point
		err = decodePoint(raw.Coordinates, &p)
		g = p
	case TypeMultiPoint:
		var mp orb.MultiPoint
		err = json.Unmarshal(raw.Coordinates, &mp)
		g = mp
	case TypeLineString:
		var ls orb.LineString
		err = json.Unmarshal(raw.Coordinates, &ls)
		g = ls
	case TypeMultiLineString:
		var mls orb.MultiLineString
		err = json.Unmarshal(raw.Coordinates, &mls)
		g = mls
	case TypePolygon:
		var poly orb.Polygon
		err = json.Unmarshal(raw.Coordinates, &poly)
		g = poly
	case TypeMultiPolygon:
		var mp orb.MultiPolygon
		err = json.Unmarshal(raw.Coordinates, &mp)
		g = mp
	}
	if err != nil {
		return nil, raw.Type, fmt.Errorf("decode %s coordinates: %w", raw.Type, err)
	}
	return g, raw.Type, nil
}

// decodePoint rejects positions with fewer than two values; extra values
// (altitude, measure) are dropped.
func decodePoint(data json.RawMessage, p *orb.Point) error {
	var pos []float64
	if err := json.Unmarshal(data, &pos); err != nil {
		return err
	}
	if len(pos) < 2 {
		return fmt.Errorf("position needs at least 2 values, got %d", len(pos))
	}
	*p = orb.Point{pos[0], pos[1]}
	return nil
}

func emptyOf(t string) orb.Geometry {
	switch t {
	case TypeMultiPoint:
		return orb.MultiPoint{}
	case TypeLineString:
		return orb.LineString{}
	case TypeMultiLineString:
		return orb.MultiLineString{}
	case TypePolygon:
		return orb.Polygon{}
	case TypeMultiPolygon:
		return orb.MultiPolygon{}
	}
	return nil
}
