package geo

import (
	"github.com/paulmach/orb"
)

// Recognized GeoJSON geometry type tags.
const (
	TypePoint              = "Point"
	TypeMultiPoint         = "MultiPoint"
	TypeLineString         = "LineString"
	TypeMultiLineString    = "MultiLineString"
	TypePolygon            = "Polygon"
	TypeMultiPolygon       = "MultiPolygon"
	TypeGeometryCollection = "GeometryCollection"
)

var recognizedTypes = map[string]bool{
	TypePoint:              true,
	TypeMultiPoint:         true,
	TypeLineString:         true,
	TypeMultiLineString:    true,
	TypePolygon:            true,
	TypeMultiPolygon:       true,
	TypeGeometryCollection: true,
}

// IsRecognizedType reports whether t is one of the GeoJSON geometry types.
func IsRecognizedType(t string) bool {
	return recognizedTypes[t]
}

// EachPoint calls fn for every vertex of g, stopping early when fn returns false.
func EachPoint(g orb.Geometry, fn func(orb.Point) bool) bool {
	switch g := g.(type) {
	case nil:
		return true
	case orb.Point:
		return fn(g)
	case orb.MultiPoint:
		for _, p := range g {
			if !fn(p) {
				return false
			}
		}
	case orb.LineString:
		for _, p := range g {
			if !fn(p) {
				return false
			}
		}
	case orb.Ring:
		for _, p := range g {
			if !fn(p) {
				return false
			}
		}
	case orb.MultiLineString:
		for _, ls := range g {
			if !EachPoint(ls, fn) {
				return false
			}
		}
	case orb.Polygon:
		for _, r := range g {
			if !EachPoint(r, fn) {
				return false
			}
		}
	case orb.MultiPolygon:
		for _, p := range g {
			if !EachPoint(p, fn) {
				return false
			}
		}
	case orb.Collection:
		for _, c := range g {
			if !EachPoint(c, fn) {
				return false
			}
		}
	case orb.Bound:
		return fn(g.Min) && fn(g.Max)
	}
	return true
}

// PointCount returns the number of vertices in g.
func PointCount(g orb.Geometry) int {
	n := 0
	EachPoint(g, func(orb.Point) bool {
		n++
		return true
	})
	return n
}

// InRange reports whether p is a valid WGS84 longitude/latitude pair.
func InRange(p orb.Point) bool {
	return p[0] >= -180 && p[0] <= 180 && p[1] >= -90 && p[1] <= 90
}

// ExtendBound grows b to include every vertex of g. ok is false until the
// first vertex has been seen.
func ExtendBound(b orb.Bound, ok bool, g orb.Geometry) (orb.Bound, bool) {
	EachPoint(g, func(p orb.Point) bool {
		if !ok {
			b = orb.Bound{Min: p, Max: p}
			ok = true
			return true
		}
		b = b.Extend(p)
		return true
	})
	return b, ok
}
