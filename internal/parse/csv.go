package parse

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/paulmach/orb"

	"github.com/Lllllllleong/geoingestflow/internal/geo"
)

type csvParser struct{}

// Parse reads delimited text. The first record is the header. Short rows
// are padded with empty strings unless opts.StrictRows is set; extra
// fields are kept as extra_N properties. When latitude and longitude
// columns are present each row gets a point geometry.
func (csvParser) Parse(name string, data []byte, opts Options) (*geo.FeatureCollection, error) {
	fc := geo.NewCollection(name)

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		fc.Warn("file has no header row")
		return fc, nil
	}

	headers := normalizeHeaders(records[0])
	latIdx, lonIdx := coordinateColumns(headers)

	var padded, badCoords int
	for i, row := range records[1:] {
		rowNum := i + 2
		if len(row) < len(headers) {
			if opts.StrictRows {
				return nil, fmt.Errorf("row %d has %d fields, header has %d", rowNum, len(row), len(headers))
			}
			row = append(row, make([]string, len(headers)-len(row))...)
			padded++
		}

		f := geo.NewFeature(nil)
		for j, h := range headers {
			f.Properties[h] = strings.TrimSpace(row[j])
		}
		for j := len(headers); j < len(row); j++ {
			f.Properties[fmt.Sprintf("extra_%d", j+1)] = strings.TrimSpace(row[j])
		}

		if latIdx >= 0 && lonIdx >= 0 {
			latText, lonText := strings.TrimSpace(row[latIdx]), strings.TrimSpace(row[lonIdx])
			if latText != "" || lonText != "" {
				lat, latErr := parseCoordinate(latText)
				lon, lonErr := parseCoordinate(lonText)
				if latErr == nil && lonErr == nil {
					f.Geometry = orb.Point{lon, lat}
				} else {
					badCoords++
				}
			}
		}
		fc.Append(f)
	}

	if padded > 0 {
		fc.Warn(fmt.Sprintf("padded %d short row(s) with empty values", padded))
	}
	if badCoords > 0 {
		fc.Warn(fmt.Sprintf("%d row(s) have unparseable coordinates and no geometry", badCoords))
	}
	if len(headers) > 0 && (latIdx < 0 || lonIdx < 0) {
		fc.Warn("no latitude/longitude columns found; rows have no geometry")
	}
	return fc, nil
}

// sniffDelimiter picks the delimiter that occurs most often in the header
// line, defaulting to a comma.
func sniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if n := bytes.Count(line, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// normalizeHeaders trims header names, names empty columns column_N and
// suffixes duplicates so property keys stay unique.
func normalizeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = fmt.Sprintf("%s_%d", h, n+1)
		}
		seen[h]++
		headers[i] = h
	}
	return headers
}
