// Package validate screens parsed features and normalizes their properties.
//
// Cleaning never invents data. It reports anomalies as geo.Issue values,
// marks features whose coordinates cannot be drawn, and excludes only
// features that are structurally unusable: an unrecognized geometry type, a
// geometry with no coordinates at all, or non-finite coordinates.
package validate

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

// Config controls the cleaner.
type Config struct {
	// NumericFields are property names whose numeric-looking string values
	// are converted to numbers. Matched case-insensitively.
	NumericFields []string `json:"numericFields,omitempty" yaml:"numeric_fields"`

	// InferNumeric also converts any field whose non-empty values are all
	// numeric text within one collection.
	InferNumeric bool `json:"inferNumeric" yaml:"infer_numeric"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Validator cleans feature collections. It is safe for concurrent use.
type Validator struct {
	cfg     Config
	numeric map[string]bool
}

// New returns a Validator for cfg.
func New(cfg Config) *Validator {
	cfg.defaults()
	v := &Validator{cfg: cfg, numeric: make(map[string]bool, len(cfg.NumericFields))}
	for _, f := range cfg.NumericFields {
		v.numeric[strings.ToLower(strings.TrimSpace(f))] = true
	}
	return v
}

// Clean returns a new collection holding the usable features of fc and the
// issues found. The returned collection carries fc's warnings and its issues
// (previous ones first). fc itself is not modified.
func (v *Validator) Clean(fc *geo.FeatureCollection) (*geo.FeatureCollection, []geo.Issue) {
	if fc == nil {
		return geo.NewCollection(""), nil
	}
	out := geo.NewCollection(fc.Source)
	out.Warnings = append(out.Warnings, fc.Warnings...)

	numeric := v.numericFields(fc)
	var issues []geo.Issue
	report := func(f *geo.Feature, idx int, code, msg string, rejected bool) {
		src := f.Source
		if src == "" {
			src = fc.Source
		}
		issues = append(issues, geo.Issue{
			Source:       src,
			FeatureIndex: idx,
			Code:         code,
			Message:      msg,
			Rejected:     rejected,
		})
	}

	rejected := 0
	for i, f := range fc.Features {
		if f == nil {
			continue
		}
		if code, msg, ok := structural(f); !ok {
			report(f, i, code, msg, true)
			rejected++
			continue
		}

		clean := &geo.Feature{
			ID:           f.ID,
			Geometry:     f.Geometry,
			DeclaredType: f.DeclaredType,
			Source:       f.Source,
			Unrenderable: f.Unrenderable,
			Properties:   make(map[string]any, len(f.Properties)),
		}
		if f.Geometry != nil {
			if code, msg, ok := coordinates(f.Geometry); !ok {
				// Non-finite coordinates cannot be serialized.
				if code == geo.IssueNonFiniteCoordinate {
					report(f, i, code, msg, true)
					rejected++
					continue
				}
				report(f, i, code, msg, false)
				clean.Unrenderable = true
			}
		}
		for k, val := range f.Properties {
			nv, issue := normalize(k, val, numeric[k])
			if issue != "" {
				code := geo.IssueNonNumericValue
				if strings.HasPrefix(issue, "non-finite") {
					code = geo.IssueNonFiniteNumber
				}
				report(f, i, code, issue, false)
			}
			clean.Properties[k] = nv
		}
		out.Append(clean)
	}

	out.Issues = append(append(out.Issues, fc.Issues...), issues...)
	if len(issues) > 0 {
		v.cfg.Logger.Info("Validated collection.",
			"source", fc.Source,
			"features", out.Len(),
			"rejected", rejected,
			"issues", len(issues),
		)
	}
	return out, issues
}

// structural reports whether the feature can be kept at all.
func structural(f *geo.Feature) (code, msg string, ok bool) {
	if f.Geometry == nil {
		switch {
		case f.DeclaredType == "":
			return "", "", true
		case !geo.IsRecognizedType(f.DeclaredType):
			return geo.IssueUnrecognizedGeometry, fmt.Sprintf("geometry type %q is not recognized", f.DeclaredType), false
		default:
			return geo.IssueEmptyGeometry, fmt.Sprintf("%s geometry has no usable coordinates", f.DeclaredType), false
		}
	}
	if geo.PointCount(f.Geometry) == 0 {
		return geo.IssueEmptyGeometry, fmt.Sprintf("%s geometry has no coordinates", f.Geometry.GeoJSONType()), false
	}
	return "", "", true
}

// coordinates checks every vertex and describes the first bad one.
func coordinates(g orb.Geometry) (code, msg string, ok bool) {
	ok = true
	geo.EachPoint(g, func(p orb.Point) bool {
		switch {
		case !finite(p[0]) || !finite(p[1]):
			code, msg, ok = geo.IssueNonFiniteCoordinate, fmt.Sprintf("coordinate %v is not finite", p), false
		case p[1] < -90 || p[1] > 90:
			code, msg, ok = geo.IssueOutOfRange, fmt.Sprintf("latitude %g outside [-90, 90]", p[1]), false
		case p[0] < -180 || p[0] > 180:
			code, msg, ok = geo.IssueOutOfRange, fmt.Sprintf("longitude %g outside [-180, 180]", p[0]), false
		}
		return ok
	})
	return code, msg, ok
}

// normalize converts a single property value. The returned issue text is
// empty when nothing needs reporting.
func normalize(key string, val any, numericField bool) (any, string) {
	switch x := val.(type) {
	case float64:
		if !finite(x) {
			return nil, fmt.Sprintf("non-finite number in %q removed", key)
		}
		return x, ""
	case string:
		if !numericField {
			return x, ""
		}
		s := strings.TrimSpace(x)
		if s == "" {
			return x, ""
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return x, fmt.Sprintf("value %q in numeric field %q is not a number", x, key)
		}
		if !finite(n) {
			return x, fmt.Sprintf("non-finite value %q in %q left as text", x, key)
		}
		return n, ""
	}
	return val, ""
}

// numericFields resolves which property keys of fc are numeric: configured
// names plus, with InferNumeric, keys whose non-empty string values are all
// numeric text.
func (v *Validator) numericFields(fc *geo.FeatureCollection) map[string]bool {
	fields := make(map[string]bool)
	candidates := make(map[string]bool)
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		for k, val := range f.Properties {
			if v.numeric[strings.ToLower(k)] {
				fields[k] = true
				continue
			}
			if !v.cfg.InferNumeric {
				continue
			}
			s, isString := val.(string)
			if !isString || strings.TrimSpace(s) == "" {
				continue
			}
			seen, known := candidates[k]
			if known && !seen {
				continue
			}
			candidates[k] = looksNumeric(s)
		}
	}
	for k, numeric := range candidates {
		if numeric {
			fields[k] = true
		}
	}
	return fields
}

// looksNumeric accepts decimal text. Values with a leading zero before other
// digits (postal codes, identifiers) are not treated as numbers.
func looksNumeric(s string) bool {
	s = strings.TrimSpace(s)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(n) {
		return false
	}
	digits := strings.TrimLeft(s, "+-")
	if len(digits) > 1 && digits[0] == '0' && digits[1] != '.' {
		return false
	}
	return true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
