package output

import (
	"bytes"
	"fmt"
	"html/template"
	"slices"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/paulmach/orb"

	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

const (
	canvasWidth  = 960.0
	canvasHeight = 540.0
	canvasMargin = 20.0
)

var (
	sanitizer = bluemonday.StrictPolicy()
	page      = template.Must(template.New("visualization").Parse(pageTemplate))
)

type shape struct {
	Circle bool
	CX, CY string
	D      string
	Class  string
	Title  template.HTML
}

type featureRow struct {
	Index      int
	Source     template.HTML
	Type       string
	Rendered   bool
	Properties []propertyCell
}

type propertyCell struct {
	Key   template.HTML
	Value template.HTML
}

type pageData struct {
	Title   template.HTML
	Width   float64
	Height  float64
	Shapes  []shape
	Rows    []featureRow
	Report  *Report
	Sources []SourceCount
}

// projection maps lon/lat into the SVG canvas with an equirectangular fit of
// the bounding box, preserving aspect ratio.
type projection struct {
	bound      orb.Bound
	scale      float64
	offX, offY float64
}

func newProjection(b orb.Bound, ok bool) projection {
	if !ok {
		b = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	}
	if b.Max[0]-b.Min[0] == 0 {
		b.Min[0], b.Max[0] = b.Min[0]-0.01, b.Max[0]+0.01
	}
	if b.Max[1]-b.Min[1] == 0 {
		b.Min[1], b.Max[1] = b.Min[1]-0.01, b.Max[1]+0.01
	}
	w := canvasWidth - 2*canvasMargin
	h := canvasHeight - 2*canvasMargin
	scale := min(w/(b.Max[0]-b.Min[0]), h/(b.Max[1]-b.Min[1]))
	return projection{
		bound: b,
		scale: scale,
		offX:  canvasMargin + (w-scale*(b.Max[0]-b.Min[0]))/2,
		offY:  canvasMargin + (h-scale*(b.Max[1]-b.Min[1]))/2,
	}
}

func (p projection) xy(pt orb.Point) (string, string) {
	x := p.offX + (pt[0]-p.bound.Min[0])*p.scale
	y := p.offY + (p.bound.Max[1]-pt[1])*p.scale
	return num(x), num(y)
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func (p projection) shapes(g orb.Geometry, class string, title template.HTML) []shape {
	switch g := g.(type) {
	case orb.Point:
		cx, cy := p.xy(g)
		return []shape{{Circle: true, CX: cx, CY: cy, Class: class + " point", Title: title}}
	case orb.MultiPoint:
		var out []shape
		for _, pt := range g {
			out = append(out, p.shapes(pt, class, title)...)
		}
		return out
	case orb.LineString:
		return []shape{{D: p.path(g, false), Class: class + " line", Title: title}}
	case orb.MultiLineString:
		var d []string
		for _, ls := range g {
			d = append(d, p.path(ls, false))
		}
		return []shape{{D: strings.Join(d, " "), Class: class + " line", Title: title}}
	case orb.Ring:
		return p.shapes(orb.Polygon{g}, class, title)
	case orb.Polygon:
		return []shape{{D: p.polygonPath(g), Class: class + " polygon", Title: title}}
	case orb.MultiPolygon:
		var d []string
		for _, poly := range g {
			d = append(d, p.polygonPath(poly))
		}
		return []shape{{D: strings.Join(d, " "), Class: class + " polygon", Title: title}}
	case orb.Collection:
		var out []shape
		for _, c := range g {
			out = append(out, p.shapes(c, class, title)...)
		}
		return out
	case orb.Bound:
		return p.shapes(g.ToPolygon(), class, title)
	}
	return nil
}

func (p projection) path(pts []orb.Point, closed bool) string {
	var b strings.Builder
	for i, pt := range pts {
		x, y := p.xy(pt)
		if i == 0 {
			b.WriteString("M")
		} else {
			b.WriteString(" L")
		}
		b.WriteString(x)
		b.WriteByte(' ')
		b.WriteString(y)
	}
	if closed && len(pts) > 0 {
		b.WriteString(" Z")
	}
	return b.String()
}

func (p projection) polygonPath(poly orb.Polygon) string {
	d := make([]string, 0, len(poly))
	for _, r := range poly {
		d = append(d, p.path(r, true))
	}
	return strings.Join(d, " ")
}

func sanitize(v any) template.HTML {
	var s string
	switch v := v.(type) {
	case nil:
		s = ""
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		s = fmt.Sprint(v)
	}
	return template.HTML(sanitizer.Sanitize(s))
}

// renderVisualization draws every renderable feature as inline SVG and lists
// all features with their key properties.
func renderVisualization(fc *geo.FeatureCollection, report *Report, opts Options) ([]byte, error) {
	var bound orb.Bound
	ok := false
	if len(report.Bbox) == 4 {
		bound = orb.Bound{Min: orb.Point{report.Bbox[0], report.Bbox[1]}, Max: orb.Point{report.Bbox[2], report.Bbox[3]}}
		ok = true
	}
	proj := newProjection(bound, ok)

	data := pageData{
		Title:   sanitize(opts.Title),
		Width:   canvasWidth,
		Height:  canvasHeight,
		Report:  report,
		Sources: report.SourceCounts,
		Rows:    make([]featureRow, 0, len(fc.Features)),
	}
	for i, f := range fc.Features {
		row := featureRow{
			Index:    i + 1,
			Source:   sanitize(f.Source),
			Type:     f.GeometryType(),
			Rendered: f.Geometry != nil && !f.Unrenderable,
		}
		if row.Type == "" {
			row.Type = NullGeometry
		}
		keys := make([]string, 0, len(f.Properties))
		for k := range f.Properties {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		if len(keys) > opts.TableProperties {
			keys = keys[:opts.TableProperties]
		}
		for _, k := range keys {
			row.Properties = append(row.Properties, propertyCell{Key: sanitize(k), Value: sanitize(f.Properties[k])})
		}
		data.Rows = append(data.Rows, row)

		if row.Rendered {
			title := template.HTML(fmt.Sprintf("#%d %s", row.Index, row.Source))
			data.Shapes = append(data.Shapes, proj.shapes(f.Geometry, "feature", title)...)
		}
	}

	var buf bytes.Buffer
	if err := page.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const pageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 1.5rem; color: #222; }
svg { border: 1px solid #ccc; background: #f7f9fb; }
.point { fill: #d9480f; stroke: #fff; stroke-width: 1; }
.line { fill: none; stroke: #1864ab; stroke-width: 2; }
.polygon { fill: #74c0fc; fill-opacity: 0.5; fill-rule: evenodd; stroke: #1864ab; stroke-width: 1; }
table { border-collapse: collapse; margin-top: 1rem; }
th, td { border: 1px solid #ddd; padding: 0.25rem 0.5rem; text-align: left; vertical-align: top; }
.skipped { color: #999; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Report.TotalFeatures}} feature(s), {{.Report.RenderableFeatures}} drawn.
Points {{.Report.PointCount}}, lines {{.Report.LineCount}}, polygons {{.Report.PolygonCount}}, without geometry {{.Report.NullGeometryCount}}.</p>
<svg xmlns="http://www.w3.org/2000/svg" width="{{.Width}}" height="{{.Height}}" viewBox="0 0 {{.Width}} {{.Height}}">
{{- range .Shapes}}
{{- if .Circle}}
<circle class="{{.Class}}" cx="{{.CX}}" cy="{{.CY}}" r="4"><title>{{.Title}}</title></circle>
{{- else}}
<path class="{{.Class}}" d="{{.D}}"><title>{{.Title}}</title></path>
{{- end}}
{{- end}}
</svg>
<h2>Sources</h2>
<table>
<tr><th>File</th><th>Features</th></tr>
{{- range .Sources}}
<tr><td>{{.Source}}</td><td>{{.Features}}</td></tr>
{{- end}}
</table>
<h2>Features</h2>
<table>
<tr><th>#</th><th>Source</th><th>Geometry</th><th>Properties</th></tr>
{{- range .Rows}}
<tr{{if not .Rendered}} class="skipped"{{end}}><td>{{.Index}}</td><td>{{.Source}}</td><td>{{.Type}}</td><td>
{{- range .Properties}}<b>{{.Key}}</b>: {{.Value}}<br>{{end -}}
</td></tr>
{{- end}}
</table>
{{- if .Report.Issues}}
<h2>Issues</h2>
<ul>
{{- range .Report.Issues}}
<li>{{.Source}} #{{.FeatureIndex}}: {{.Code}}: {{.Message}}</li>
{{- end}}
</ul>
{{- end}}
</body>
</html>
`
