package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/paulmach/orb"

	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

type topoJSONParser struct{}

type topology struct {
	Type      string                     `json:"type"`
	Transform *topoTransform             `json:"transform"`
	Arcs      [][][]float64              `json:"arcs"`
	Objects   map[string]json.RawMessage `json:"objects"`
}

type topoTransform struct {
	Scale     [2]float64 `json:"scale"`
	Translate [2]float64 `json:"translate"`
}

type topoGeometry struct {
	Type        *string                    `json:"type"`
	ID          any                        `json:"id"`
	Properties  map[string]json.RawMessage `json:"properties"`
	Arcs        json.RawMessage            `json:"arcs"`
	Coordinates json.RawMessage            `json:"coordinates"`
	Geometries  []json.RawMessage          `json:"geometries"`
}

// Parse expands a TopoJSON topology: arcs are decoded (delta-decoded and
// transformed when quantized), arc references are resolved into coordinate
// sequences, and each object becomes one or more features. Objects are
// visited in name order; members of a GeometryCollection keep their order.
func (topoJSONParser) Parse(name string, data []byte, _ Options) (*geo.FeatureCollection, error) {
	var topo topology
	if err := json.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("decode topology: %w", err)
	}
	if topo.Type != "Topology" {
		return nil, fmt.Errorf("type is %q, want Topology", topo.Type)
	}

	fc := geo.NewCollection(name)
	t := &topoDecoder{transform: topo.Transform, fc: fc, props: &jsonWrapper{fc: fc}}
	t.arcs = make([][]orb.Point, len(topo.Arcs))
	for i, arc := range topo.Arcs {
		decoded, err := t.decodeArc(arc)
		if err != nil {
			return nil, fmt.Errorf("arc %d: %w", i, err)
		}
		t.arcs[i] = decoded
	}

	names := make([]string, 0, len(topo.Objects))
	for n := range topo.Objects {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		if err := t.object(n, topo.Objects[n]); err != nil {
			return nil, fmt.Errorf("object %q: %w", n, err)
		}
	}
	if len(names) == 0 {
		fc.Warn("topology has no objects")
	}
	t.props.flush()
	return fc, nil
}

type topoDecoder struct {
	transform *topoTransform
	arcs      [][]orb.Point
	fc        *geo.FeatureCollection
	props     *jsonWrapper
}

func (t *topoDecoder) decodeArc(arc [][]float64) ([]orb.Point, error) {
	pts := make([]orb.Point, 0, len(arc))
	var x, y float64
	for i, pos := range arc {
		if len(pos) < 2 {
			return nil, fmt.Errorf("position %d has %d values", i, len(pos))
		}
		if t.transform == nil {
			pts = append(pts, orb.Point{pos[0], pos[1]})
			continue
		}
		x += pos[0]
		y += pos[1]
		pts = append(pts, t.apply(x, y))
	}
	return pts, nil
}

func (t *topoDecoder) apply(x, y float64) orb.Point {
	if t.transform == nil {
		return orb.Point{x, y}
	}
	return orb.Point{
		x*t.transform.Scale[0] + t.transform.Translate[0],
		y*t.transform.Scale[1] + t.transform.Translate[1],
	}
}

// arc returns arc i; a negative index ~i refers to arc i reversed.
func (t *topoDecoder) arc(i int) ([]orb.Point, error) {
	reversed := i < 0
	if reversed {
		i = ^i
	}
	if i >= len(t.arcs) {
		return nil, fmt.Errorf("arc index %d out of range (%d arcs)", i, len(t.arcs))
	}
	src := t.arcs[i]
	out := make([]orb.Point, len(src))
	copy(out, src)
	if reversed {
		slices.Reverse(out)
	}
	return out, nil
}

// line stitches arcs together. Consecutive arcs share their joint vertex,
// which is emitted once.
func (t *topoDecoder) line(indexes []int) ([]orb.Point, error) {
	var pts []orb.Point
	for k, idx := range indexes {
		a, err := t.arc(idx)
		if err != nil {
			return nil, err
		}
		if k > 0 && len(a) > 0 {
			a = a[1:]
		}
		pts = append(pts, a...)
	}
	return pts, nil
}

func (t *topoDecoder) polygon(rings [][]int) (orb.Polygon, error) {
	poly := make(orb.Polygon, 0, len(rings))
	for _, r := range rings {
		pts, err := t.line(r)
		if err != nil {
			return nil, err
		}
		poly = append(poly, orb.Ring(pts))
	}
	return poly, nil
}

func (t *topoDecoder) point(raw json.RawMessage) (orb.Point, error) {
	var pos []float64
	if err := json.Unmarshal(raw, &pos); err != nil {
		return orb.Point{}, err
	}
	if len(pos) < 2 {
		return orb.Point{}, fmt.Errorf("position has %d values", len(pos))
	}
	return t.apply(pos[0], pos[1]), nil
}

func (t *topoDecoder) object(name string, raw json.RawMessage) error {
	var g topoGeometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return err
	}
	if g.Type != nil && *g.Type == geo.TypeGeometryCollection {
		for i, member := range g.Geometries {
			if err := t.object(name, member); err != nil {
				return fmt.Errorf("geometries[%d]: %w", i, err)
			}
		}
		return nil
	}

	geom, declared, err := t.geometry(g)
	if err != nil {
		return err
	}
	f := geo.NewFeature(geom)
	f.ID = g.ID
	if geom == nil {
		f.DeclaredType = declared
	}
	for k, v := range g.Properties {
		f.Properties[k] = t.props.scalar(v)
	}
	f.Properties["topology_object"] = name
	t.fc.Append(f)
	return nil
}

func (t *topoDecoder) geometry(g topoGeometry) (orb.Geometry, string, error) {
	if g.Type == nil {
		return nil, "", nil
	}
	typ := *g.Type
	switch typ {
	case geo.TypePoint:
		p, err := t.point(g.Coordinates)
		return p, typ, err
	case geo.TypeMultiPoint:
		var raws []json.RawMessage
		if err := json.Unmarshal(g.Coordinates, &raws); err != nil {
			return nil, typ, err
		}
		mp := make(orb.MultiPoint, 0, len(raws))
		for _, r := range raws {
			p, err := t.point(r)
			if err != nil {
				return nil, typ, err
			}
			mp = append(mp, p)
		}
		return mp, typ, nil
	case geo.TypeLineString:
		var idx []int
		if err := unmarshalArcs(g.Arcs, &idx); err != nil {
			return nil, typ, err
		}
		pts, err := t.line(idx)
		return orb.LineString(pts), typ, err
	case geo.TypeMultiLineString:
		var idx [][]int
		if err := unmarshalArcs(g.Arcs, &idx); err != nil {
			return nil, typ, err
		}
		mls := make(orb.MultiLineString, 0, len(idx))
		for _, l := range idx {
			pts, err := t.line(l)
			if err != nil {
				return nil, typ, err
			}
			mls = append(mls, orb.LineString(pts))
		}
		return mls, typ, nil
	case geo.TypePolygon:
		var idx [][]int
		if err := unmarshalArcs(g.Arcs, &idx); err != nil {
			return nil, typ, err
		}
		poly, err := t.polygon(idx)
		return poly, typ, err
	case geo.TypeMultiPolygon:
		var idx [][][]int
		if err := unmarshalArcs(g.Arcs, &idx); err != nil {
			return nil, typ, err
		}
		mp := make(orb.MultiPolygon, 0, len(idx))
		for _, rings := range idx {
			poly, err := t.polygon(rings)
			if err != nil {
				return nil, typ, err
			}
			mp = append(mp, poly)
		}
		return mp, typ, nil
	}
	// Unknown type: reported by the validator, not dropped here.
	return nil, typ, nil
}

func unmarshalArcs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing arcs")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode arcs: %w", err)
	}
	return nil
}
