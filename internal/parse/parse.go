// Package parse turns raw uploaded content into canonical feature collections.
// Each supported format has its own parser; every parser produces a
// geo.FeatureCollection or an error, never a panic that escapes Parse.
package parse

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/geoingestflow/internal/autofix"
	"github.com/Lllllllleong/geoingestflow/internal/formats"
	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

var (
	// ErrUnsupportedFormat is returned for files no parser handles.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrParseFailure wraps every failure of a recognized format.
	ErrParseFailure = errors.New("parse failure")
)

const defaultMaxFileSize = 100 * 1024 * 1024

// Options controls parsing behaviour.
type Options struct {
	// AutoFix runs the textual repair layer before parsing. When false,
	// malformed text surfaces as ErrParseFailure.
	AutoFix bool `json:"autoFix" yaml:"auto_fix"`

	// StrictRows fails a delimited-text file on its first short row instead
	// of padding the row with empty strings.
	StrictRows bool `json:"strictRows" yaml:"strict_rows"`

	// MaxFileSize is the largest file accepted (default: 100 MB).
	MaxFileSize int64 `json:"maxFileSize,omitempty" yaml:"max_file_size"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (o *Options) defaults() {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = defaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Parser converts the content of one file into features.
type Parser interface {
	Parse(name string, data []byte, opts Options) (*geo.FeatureCollection, error)
}

var parsers = map[formats.Format]Parser{
	formats.CSV:      csvParser{},
	formats.JSON:     jsonParser{},
	formats.GeoJSON:  jsonParser{},
	formats.KML:      kmlParser{},
	formats.TopoJSON: topoJSONParser{},
	formats.WKT:      wktParser{},
}

// ParserFor returns the parser registered for f.
func ParserFor(f formats.Format) (Parser, bool) {
	p, ok := parsers[f]
	return p, ok
}

// Outcome is the per-file parse result. Exactly one of Collection and Err is
// set.
type Outcome struct {
	Name       string
	Format     formats.Format
	Collection *geo.FeatureCollection
	Err        error
}

// OK reports whether parsing succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Reason returns the failure reason, or "" on success.
func (o Outcome) Reason() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Warnings returns the collection warnings of a successful outcome.
func (o Outcome) Warnings() []string {
	if o.Collection == nil {
		return nil
	}
	return o.Collection.Warnings
}

func succeeded(name string, f formats.Format, fc *geo.FeatureCollection) Outcome {
	return Outcome{Name: name, Format: f, Collection: fc}
}

func failed(name string, f formats.Format, err error) Outcome {
	if !errors.Is(err, ErrUnsupportedFormat) && !errors.Is(err, ErrParseFailure) {
		err = fmt.Errorf("%w: %w", ErrParseFailure, err)
	}
	return Outcome{Name: name, Format: f, Err: err}
}

// Parse runs the parser for f over data. Failures, including panics inside a
// parser, are returned as a failed Outcome so sibling files are unaffected.
func Parse(name string, f formats.Format, data []byte, opts Options) (out Outcome) {
	opts.defaults()
	logCtx := opts.Logger.With("file", name, "format", string(f))

	p, ok := ParserFor(f)
	if !ok {
		return failed(name, f, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f))
	}
	if int64(len(data)) > opts.MaxFileSize {
		return failed(name, f, fmt.Errorf("file too large: %d bytes (max %d)", len(data), opts.MaxFileSize))
	}

	var fixes []string
	if opts.AutoFix {
		res := autofix.Repair(data, f)
		data, fixes = res.Text, res.Fixes
		if res.Changed() {
			logCtx.Info("Applied auto-fix repairs.", "fixes", fixes)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			logCtx.Error("Parser panicked.", "panic", r)
			out = failed(name, f, fmt.Errorf("parser panic: %v", r))
		}
	}()

	fc, err := p.Parse(name, data, opts)
	if err != nil {
		logCtx.Warn("Parse failed.", "error", err)
		return failed(name, f, err)
	}
	if fc == nil {
		fc = geo.NewCollection(name)
	}
	if len(fixes) > 0 {
		warnings := make([]string, 0, len(fixes)+len(fc.Warnings))
		for _, fix := range fixes {
			warnings = append(warnings, "auto-fix: "+fix)
		}
		fc.Warnings = append(warnings, fc.Warnings...)
	}
	return succeeded(name, f, fc)
}
