package parse

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/paulmach/orb/encoding/wkt"

	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

type wktParser struct{}

// Parse reads one or more WKT geometries separated by whitespace, newlines or
// semicolons. An EWKT "SRID=n;" prefix is accepted and dropped. Entries that
// fail to decode are skipped with a warning; the file fails only when no
// entry decodes.
func (wktParser) Parse(name string, data []byte, _ Options) (*geo.FeatureCollection, error) {
	fc := geo.NewCollection(name)

	entries, err := splitWKT(string(data))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.New("no WKT geometries found")
	}

	var failures []string
	for i, entry := range entries {
		g, err := wkt.Unmarshal(entry)
		if err != nil {
			failures = append(failures, fmt.Sprintf("entry %d: %v", i+1, err))
			continue
		}
		f := geo.NewFeature(g)
		f.Properties["wkt_index"] = i + 1
		fc.Append(f)
	}
	if fc.Len() == 0 {
		return nil, fmt.Errorf("no WKT entry could be decoded: %s", strings.Join(failures, "; "))
	}
	for _, msg := range failures {
		fc.Warn("skipped malformed WKT " + msg)
	}
	return fc, nil
}

// splitWKT cuts text into individual geometry strings by tracking
// parenthesis depth.
func splitWKT(text string) ([]string, error) {
	var (
		entries []string
		current strings.Builder
		depth   int
	)
	flush := func() {
		s := strings.TrimSpace(current.String())
		current.Reset()
		if s == "" {
			return
		}
		if i := strings.IndexByte(s, ';'); i >= 0 && strings.HasPrefix(strings.ToUpper(s), "SRID=") {
			s = strings.TrimSpace(s[i+1:])
		}
		entries = append(entries, s)
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '(':
			depth++
			current.WriteRune(r)
		case r == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced ')' at offset %d", i)
			}
			current.WriteRune(r)
			if depth == 0 {
				flush()
			}
		case depth == 0 && r == ';':
			// Separator, unless it terminates an SRID prefix.
			if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(current.String())), "SRID=") {
				current.WriteRune(r)
				continue
			}
			flush()
		case depth == 0 && r == '\n':
			// A newline ends an EMPTY geometry; otherwise it is whitespace.
			if strings.HasSuffix(strings.ToUpper(strings.TrimSpace(current.String())), "EMPTY") {
				flush()
				continue
			}
			current.WriteRune(' ')
		case depth == 0 && unicode.IsSpace(r):
			current.WriteRune(' ')
		default:
			current.WriteRune(r)
		}
	}
	if depth != 0 {
		return nil, errors.New("unbalanced '(' at end of input")
	}
	flush()
	return entries, nil
}
