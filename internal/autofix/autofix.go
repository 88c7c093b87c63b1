// Package autofix applies best-effort textual repairs to uploaded files before
// they are parsed. It never interprets the content, it only repairs syntax.
package autofix

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Lllllllleong/geoingestflow/internal/formats"
)

// Result is the repaired text plus a description of every repair applied.
type Result struct {
	Text  []byte
	Fixes []string
}

// Changed reports whether any repair was applied.
func (r Result) Changed() bool { return len(r.Fixes) > 0 }

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf16BEBOM = []byte{0xFE, 0xFF}
	nulByte    = []byte{0}
	// U+FFFD, left behind by an earlier lossy decode.
	replacementChar = []byte("\uFFFD")
)

// Repair returns a repaired copy of text. Encoding and line-ending repairs
// apply to every format; comment and trailing-comma removal only to JSON text.
func Repair(text []byte, f formats.Format) Result {
	res := Result{Text: text}

	res.Text = res.fixEncoding(res.Text)
	res.Text = res.stripArtifacts(res.Text)
	res.Text = res.normalizeLineEndings(res.Text)

	if f.JSONFamily() {
		var n int
		res.Text, n = stripJSONComments(res.Text)
		if n > 0 {
			res.Fixes = append(res.Fixes, fmt.Sprintf("removed %d comment(s)", n))
		}
		res.Text, n = stripTrailingCommas(res.Text)
		if n > 0 {
			res.Fixes = append(res.Fixes, fmt.Sprintf("removed %d trailing comma(s)", n))
		}
	}
	return res
}

func (r *Result) fixEncoding(b []byte) []byte {
	if bytes.HasPrefix(b, utf8BOM) || bytes.HasPrefix(b, utf16LEBOM) || bytes.HasPrefix(b, utf16BEBOM) {
		decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), b)
		if err == nil {
			r.Fixes = append(r.Fixes, "decoded byte-order mark")
			b = decoded
		}
	}
	if !utf8.Valid(b) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
		if err == nil {
			r.Fixes = append(r.Fixes, "re-decoded invalid UTF-8 as Windows-1252")
			b = decoded
		}
	}
	return b
}

func (r *Result) stripArtifacts(b []byte) []byte {
	n := bytes.Count(b, nulByte) + bytes.Count(b, replacementChar)
	if n == 0 {
		return b
	}
	b = bytes.ReplaceAll(b, nulByte, nil)
	b = bytes.ReplaceAll(b, replacementChar, nil)
	r.Fixes = append(r.Fixes, fmt.Sprintf("removed %d encoding artifact(s)", n))
	return b
}

func (r *Result) normalizeLineEndings(b []byte) []byte {
	if !bytes.ContainsRune(b, '\r') {
		return b
	}
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	b = bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
	r.Fixes = append(r.Fixes, "normalized line endings")
	return b
}
