package parse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

type jsonParser struct{}

type rawFeature struct {
	Type       string                     `json:"type"`
	ID         any                        `json:"id,omitempty"`
	Geometry   json.RawMessage            `json:"geometry"`
	Properties map[string]json.RawMessage `json:"properties"`
}

// Parse handles generic JSON and GeoJSON. Documents that already have the
// Feature or FeatureCollection shape pass through; bare geometries become a
// single feature; other objects and arrays of objects are wrapped, deriving a
// point from lat/lon-like members when present.
func (jsonParser) Parse(name string, data []byte, opts Options) (*geo.FeatureCollection, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty document")
	}
	if !json.Valid(trimmed) {
		// Unmarshal again to get a positioned syntax error.
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, fmt.Errorf("invalid json: %w", err)
		}
		return nil, errors.New("invalid json")
	}

	fc := geo.NewCollection(name)
	w := &jsonWrapper{fc: fc}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode array: %w", err)
		}
		for i, item := range items {
			if err := w.element(item); err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
		}
	case '{':
		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return nil, fmt.Errorf("decode object: %w", err)
		}
		switch {
		case probe.Type == "Topology":
			return topoJSONParser{}.Parse(name, data, opts)
		case probe.Type == "FeatureCollection":
			var doc struct {
				Features []json.RawMessage `json:"features"`
			}
			if err := json.Unmarshal(trimmed, &doc); err != nil {
				return nil, fmt.Errorf("decode feature collection: %w", err)
			}
			for i, raw := range doc.Features {
				if err := w.feature(raw); err != nil {
					return nil, fmt.Errorf("features[%d]: %w", i, err)
				}
			}
		default:
			if err := w.element(trimmed); err != nil {
				return nil, err
			}
		}
	default:
		return nil, errors.New("top-level value must be an object or array")
	}

	w.flush()
	return fc, nil
}

type jsonWrapper struct {
	fc        *geo.FeatureCollection
	flattened int
}

func (w *jsonWrapper) flush() {
	if w.flattened > 0 {
		w.fc.Warn(fmt.Sprintf("encoded %d nested property value(s) as JSON text", w.flattened))
	}
}

// element handles one top-level object of unknown shape.
func (w *jsonWrapper) element(raw json.RawMessage) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return errors.New("expected an object")
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return err
	}
	switch {
	case probe.Type == "Feature":
		return w.feature(raw)
	case geo.IsRecognizedType(probe.Type):
		g, _, err := geo.DecodeGeometry(raw)
		if err != nil {
			return err
		}
		f := geo.NewFeature(g)
		if g == nil {
			f.DeclaredType = probe.Type
		}
		w.fc.Append(f)
		return nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return err
	}
	if nested, ok := arrayOfObjects(obj); ok && !hasSpatialMembers(obj) {
		for i, item := range nested {
			if err := w.element(item); err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
		}
		return nil
	}
	return w.wrapObject(obj)
}

func (w *jsonWrapper) feature(raw json.RawMessage) error {
	var rf rawFeature
	if err := json.Unmarshal(raw, &rf); err != nil {
		return err
	}
	if rf.Type != "" && rf.Type != "Feature" {
		return w.element(raw)
	}
	g, declared, err := geo.DecodeGeometry(rf.Geometry)
	if err != nil {
		return err
	}
	f := geo.NewFeature(g)
	f.ID = rf.ID
	if g == nil {
		f.DeclaredType = declared
	}
	for k, v := range rf.Properties {
		f.Properties[k] = w.scalar(v)
	}
	w.fc.Append(f)
	return nil
}

func (w *jsonWrapper) wrapObject(obj map[string]json.RawMessage) error {
	f := geo.NewFeature(nil)
	if raw, ok := obj["geometry"]; ok {
		g, declared, err := geo.DecodeGeometry(raw)
		if err != nil {
			return err
		}
		f.Geometry = g
		if g == nil {
			f.DeclaredType = declared
		}
	}
	for k, v := range obj {
		if k == "geometry" {
			continue
		}
		f.Properties[k] = w.scalar(v)
	}
	if f.Geometry == nil && f.DeclaredType == "" {
		if p, ok := pointFromProperties(f.Properties); ok {
			f.Geometry = p
		}
	}
	w.fc.Append(f)
	return nil
}

// scalar decodes a property value, encoding nested objects and arrays as
// compact JSON text so every property stays a scalar.
func (w *jsonWrapper) scalar(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	switch v.(type) {
	case map[string]any, []any:
		w.flattened++
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return string(raw)
		}
		return buf.String()
	}
	return v
}

func arrayOfObjects(obj map[string]json.RawMessage) ([]json.RawMessage, bool) {
	var found []json.RawMessage
	for _, v := range obj {
		v = bytes.TrimSpace(v)
		if len(v) == 0 || v[0] != '[' {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(v, &items); err != nil || len(items) == 0 {
			continue
		}
		allObjects := true
		for _, it := range items {
			it = bytes.TrimSpace(it)
			if len(it) == 0 || it[0] != '{' {
				allObjects = false
				break
			}
		}
		if !allObjects {
			continue
		}
		if found != nil {
			// More than one candidate array: ambiguous, wrap the object as is.
			return nil, false
		}
		found = items
	}
	return found, found != nil
}

func hasSpatialMembers(obj map[string]json.RawMessage) bool {
	if _, ok := obj["geometry"]; ok {
		return true
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	lat, lon := coordinateColumns(keys)
	return lat >= 0 && lon >= 0
}
